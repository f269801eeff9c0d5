package dm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"DMProject/global/config"
	"DMProject/module/dm/model"
	"DMProject/module/dm/session"
	"DMProject/service/devserver"
	"DMProject/service/natsx"
	"DMProject/service/storage"
	"DMProject/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const wait = 3 * time.Second

type backend struct {
	srv *devserver.Server
	cfg config.AppConfig
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	gin.SetMode(gin.TestMode)
	srv := devserver.New(devserver.Options{JWTSecret: "it", Logger: zap.NewNop()})
	hs := httptest.NewServer(srv.Router())
	t.Cleanup(hs.Close)

	cfg := config.Default()
	cfg.ServerURL = hs.URL
	cfg.Store.Kind = config.StoreMemory
	cfg.Socket.ReconnectInitial = 20 * time.Millisecond
	cfg.Socket.ReconnectMax = 100 * time.Millisecond
	return &backend{srv: srv, cfg: cfg}
}

func (b *backend) client(t *testing.T, userID string) *Client {
	t.Helper()
	ctx := context.Background()
	c, err := New(ctx, b.cfg, WithStore(storage.NewMemStore()), WithLogger(zap.NewNop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	tok, _, err := b.srv.Token(userID)
	require.NoError(t, err)
	require.NoError(t, c.Login(ctx, tok, userID, "greenpark"))
	require.NoError(t, c.Connect(ctx))
	return c
}

func texts(snap session.Snapshot) []string {
	out := make([]string, 0, len(snap.Messages))
	for _, m := range snap.Messages {
		out = append(out, m.Text)
	}
	return out
}

func TestConversationEndToEnd(t *testing.T) {
	ctx := context.Background()
	be := newBackend(t)
	asha := be.client(t, "u-asha")

	first := asha.Roster().Snapshot()
	assert.True(t, first.Loaded)
	assert.Empty(t, first.Rooms)
	require.Len(t, first.Directory, 2, "empty room list falls back to the society directory")

	room, err := asha.Roster().StartChat(ctx, "u-bilal")
	require.NoError(t, err)
	assert.Equal(t, "Bilal Khan", room.Other.Name)

	bilal := be.client(t, "u-bilal")
	r, ok := bilal.Roster().Room(room.ID)
	require.True(t, ok)
	assert.Equal(t, 0, r.Unread)

	as, err := asha.OpenRoom(ctx, room.ID, "u-bilal")
	require.NoError(t, err)
	assert.Equal(t, session.Active, as.State())

	sent, err := as.Send(ctx, "hello")
	require.NoError(t, err)
	assert.False(t, sent.Pending)

	// the live echo and the REST reply must collapse into one entry
	require.Eventually(t, func() bool {
		r, _ := bilal.Roster().Room(room.ID)
		return r.Unread == 1 && r.LastMsg == "hello"
	}, wait, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"hello"}, texts(as.Snapshot()))

	bs, err := bilal.OpenRoom(ctx, room.ID, "u-asha")
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, texts(bs.Snapshot()))
	r, _ = bilal.Roster().Room(room.ID)
	assert.Equal(t, 0, r.Unread)

	require.Eventually(t, func() bool {
		msgs := as.Snapshot().Messages
		return len(msgs) == 1 && msgs[0].Status == model.StatusRead
	}, wait, 10*time.Millisecond, "read receipt reaches the sender")

	as.SetTypingState(true)
	require.Eventually(t, func() bool { return bs.Snapshot().RemoteTyping }, wait, 10*time.Millisecond)

	require.NoError(t, as.DeleteMessage(ctx, sent.ID))
	require.Eventually(t, func() bool {
		msgs := bs.Snapshot().Messages
		return len(msgs) == 1 && msgs[0].Deleted && msgs[0].Text == model.DeletedText
	}, wait, 10*time.Millisecond)

	_, err = bs.Send(ctx, "   ")
	assert.True(t, errors.Is(err, errs.ErrEmptyMessage))
}

func TestSecondSessionIsRefused(t *testing.T) {
	ctx := context.Background()
	be := newBackend(t)
	asha := be.client(t, "u-asha")
	r1, err := asha.Roster().StartChat(ctx, "u-bilal")
	require.NoError(t, err)
	r2, err := asha.Roster().StartChat(ctx, "u-chen")
	require.NoError(t, err)

	_, err = asha.OpenRoom(ctx, r1.ID, "")
	require.NoError(t, err)
	err = asha.NewSession().Open(ctx, r2.ID)
	assert.True(t, errors.Is(err, errs.ErrAlreadyOpenElsewhere))

	// OpenRoom closes the current room first
	s2, err := asha.OpenRoom(ctx, r2.ID, "")
	require.NoError(t, err)
	assert.Equal(t, r2.ID, asha.Current().RoomID())
	assert.Equal(t, session.Active, s2.State())
}

func TestLogoutForgetsCredentials(t *testing.T) {
	ctx := context.Background()
	be := newBackend(t)
	asha := be.client(t, "u-asha")

	require.NoError(t, asha.Logout(ctx))
	assert.Nil(t, asha.Current())

	err := asha.Connect(ctx)
	assert.True(t, errors.Is(err, errs.ErrAuthMissing))
	_, err = asha.API().GetRooms(ctx)
	assert.True(t, errors.Is(err, errs.ErrAuthMissing))
}

func TestConnectWithoutLogin(t *testing.T) {
	be := newBackend(t)
	c, err := New(context.Background(), be.cfg, WithStore(storage.NewMemStore()), WithLogger(zap.NewNop()))
	require.NoError(t, err)
	defer c.Close()
	err = c.Connect(context.Background())
	assert.True(t, errors.Is(err, errs.ErrAuthMissing))
}

func runNATS(t *testing.T) string {
	t.Helper()
	s, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)
	go s.Start()
	require.True(t, s.ReadyForConnections(5*time.Second), "nats server not ready")
	t.Cleanup(s.Shutdown)
	return s.ClientURL()
}

func TestRoomViewsFollowTheOpenRoom(t *testing.T) {
	ctx := context.Background()
	be := newBackend(t)
	be.cfg.NATS.Enabled = true
	be.cfg.NATS.URL = runNATS(t)
	asha := be.client(t, "u-asha")
	require.NotNil(t, asha.bridge)

	r1, err := asha.Roster().StartChat(ctx, "u-bilal")
	require.NoError(t, err)
	r2, err := asha.Roster().StartChat(ctx, "u-chen")
	require.NoError(t, err)

	var mu sync.Mutex
	states := map[string][]string{}
	require.NoError(t, asha.bridge.Watch(asha.bridge.Subject("room", ">"), func(_ context.Context, v natsx.View) error {
		var body struct {
			State  string `json:"state"`
			RoomID string `json:"roomId"`
		}
		if err := json.Unmarshal(v.Data, &body); err != nil {
			return err
		}
		mu.Lock()
		states[body.RoomID] = append(states[body.RoomID], body.State)
		mu.Unlock()
		return nil
	}))
	require.NoError(t, asha.bridge.Flush())

	for _, id := range []string{r1.ID, r2.ID, r1.ID, r2.ID} {
		_, err := asha.OpenRoom(ctx, id, "")
		require.NoError(t, err)
	}

	asha.mu.Lock()
	assert.Len(t, asha.stopViews, 1, "only the room list view stays registered")
	assert.NotNil(t, asha.stopCurrent)
	asha.mu.Unlock()

	// each closed room published its closing snapshot before its view was dropped
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		closed := 0
		for _, s := range states[r1.ID] {
			if s == "closed" {
				closed++
			}
		}
		return closed == 2
	}, wait, 10*time.Millisecond)

	require.NoError(t, asha.Close())
	asha.mu.Lock()
	assert.Nil(t, asha.stopCurrent)
	asha.mu.Unlock()
}

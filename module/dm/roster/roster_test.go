package roster

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"DMProject/module/dm/model"
	"DMProject/service/socket"
	"DMProject/service/socket/sockettest"
	"DMProject/tools/clock"
	"DMProject/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeAPI struct {
	mu         sync.Mutex
	rooms      []any
	roomsErr   error
	roomsCalls int
	users      map[string][]any
	usersErr   error
	startErr   error
	readErr    error
	reads      []string
	archiveErr error
}

func (f *fakeAPI) GetRooms(context.Context) ([]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roomsCalls++
	return f.rooms, f.roomsErr
}

func (f *fakeAPI) GetRoom(_ context.Context, roomID string) (model.Raw, error) {
	return model.Raw{"id": roomID, "other": model.Raw{"_id": "u9", "name": "Detail"}, "muted": true}, nil
}

func (f *fakeAPI) StartChat(_ context.Context, other string) (model.Raw, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	return model.Raw{"id": "room-" + other, "other": model.Raw{"_id": other, "name": "New " + other}}, nil
}

func (f *fakeAPI) MarkRead(_ context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, roomID)
	return f.readErr
}

func (f *fakeAPI) ArchiveRoom(context.Context, string) error { return f.archiveErr }
func (f *fakeAPI) MuteRoom(context.Context, string) error    { return nil }

func (f *fakeAPI) SocietyUsers(_ context.Context, societyID string) ([]any, error) {
	if f.usersErr != nil {
		return nil, f.usersErr
	}
	return f.users[societyID], nil
}

func room(id, otherID, name, last string, unread int) model.Raw {
	return model.Raw{
		"id":            id,
		"other":         model.Raw{"_id": otherID, "name": name},
		"last_msg":      last,
		"last_msg_time": t0.Add(-time.Hour).Format(time.RFC3339),
		"unread":        float64(unread),
	}
}

func newAggregator(t *testing.T, api *fakeAPI, society string) (*Aggregator, *sockettest.Bus) {
	t.Helper()
	bus := sockettest.New("me")
	a := New(bus, api, Options{
		Clock:   clock.NewFake(t0),
		Society: func(context.Context) (string, error) { return society, nil },
	})
	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(a.Stop)
	return a, bus
}

func TestNewMessageUpdatesPreviewAndUnread(t *testing.T) {
	api := &fakeAPI{rooms: []any{room("R1", "u2", "Bina", "", 0), room("R2", "u3", "Chetan", "hey", 0)}}
	a, bus := newAggregator(t, api, "")
	require.NoError(t, a.LoadRooms(context.Background()))
	assert.Equal(t, 1, bus.Handlers(socket.EventNewMessage))

	bus.Deliver(socket.EventNewMessage, model.Raw{"_id": "m1", "room_id": "R1", "sender_id": "u2", "text": "hello", "created_at": t0.Format(time.RFC3339)})
	r, ok := a.Room("R1")
	require.True(t, ok)
	assert.Equal(t, 1, r.Unread)
	assert.Equal(t, "hello", r.LastMsg)
	assert.True(t, t0.Equal(r.LastMsgTime))

	bus.Deliver(socket.EventNewMessage, model.Raw{"_id": "m2", "room_id": "R1", "sender_id": "me", "text": "mine", "created_at": t0.Add(time.Minute).Format(time.RFC3339)})
	r, _ = a.Room("R1")
	assert.Equal(t, 1, r.Unread)
	assert.Equal(t, "mine", r.LastMsg)

	r2, _ := a.Room("R2")
	assert.Equal(t, 0, r2.Unread)
}

func TestMessageForUnknownRoomIgnored(t *testing.T) {
	api := &fakeAPI{rooms: []any{room("R1", "u2", "Bina", "", 0)}}
	a, bus := newAggregator(t, api, "")
	require.NoError(t, a.LoadRooms(context.Background()))
	v := a.Snapshot().Version

	bus.Deliver(socket.EventNewMessage, model.Raw{"_id": "m1", "room_id": "R404", "sender_id": "u2", "text": "?"})
	assert.Equal(t, v, a.Snapshot().Version)
	assert.Len(t, a.Snapshot().Rooms, 1)
}

func TestEmptyRoomListFallsBackToDirectory(t *testing.T) {
	api := &fakeAPI{users: map[string][]any{"S1": {
		model.Raw{"_id": "u2", "Name": "Bina", "Email": "bina@example.org"},
		model.Raw{"_id": "u3", "Name": "Chetan", "Email": "chetan@example.org"},
	}}}
	a, _ := newAggregator(t, api, "S1")
	require.NoError(t, a.LoadRooms(context.Background()))

	snap := a.Snapshot()
	assert.True(t, snap.Loaded)
	assert.Empty(t, snap.Rooms)
	require.Len(t, snap.Directory, 2)

	_, users := a.Filter("CHET")
	require.Len(t, users, 1)
	assert.Equal(t, "u3", users[0].ID)
}

func TestDirectoryFailureIsFetchFailed(t *testing.T) {
	api := &fakeAPI{usersErr: errors.New("502")}
	a, _ := newAggregator(t, api, "S1")
	err := a.LoadRooms(context.Background())
	assert.True(t, errors.Is(err, errs.ErrFetchFailed))
	assert.True(t, errors.Is(a.Snapshot().LastError, errs.ErrFetchFailed))
}

func TestRoomListFailureIsRetryable(t *testing.T) {
	api := &fakeAPI{roomsErr: errors.New("timeout")}
	a, _ := newAggregator(t, api, "")
	err := a.LoadRooms(context.Background())
	assert.True(t, errors.Is(err, errs.ErrFetchFailed))
	assert.True(t, errs.Retryable(err))
	assert.False(t, a.Snapshot().Loaded)

	api.mu.Lock()
	api.roomsErr = nil
	api.rooms = []any{room("R1", "u2", "Bina", "", 0)}
	api.mu.Unlock()
	require.NoError(t, a.LoadRooms(context.Background()))
	assert.NoError(t, a.Snapshot().LastError)
}

func TestPresenceTracking(t *testing.T) {
	a, bus := newAggregator(t, &fakeAPI{}, "")

	bus.Deliver(socket.EventUserOnline, map[string]any{"userId": "u2", "isOnline": true})
	assert.True(t, a.IsOnline("u2"))

	bus.Deliver(socket.EventUserOnline, map[string]any{"userId": "u2", "isOnline": false, "lastSeen": float64(t0.UnixMilli())})
	assert.False(t, a.IsOnline("u2"))
	p, ok := a.LastSeen("u2")
	require.True(t, ok)
	assert.Equal(t, t0.UnixMilli(), p.LastSeen.UnixMilli())

	assert.False(t, a.IsOnline("nobody"))
	assert.Len(t, a.Snapshot().Presence, 1)
}

func TestStartChatUpsertsRoom(t *testing.T) {
	api := &fakeAPI{rooms: []any{room("R1", "u2", "Bina", "", 0)}}
	a, _ := newAggregator(t, api, "")
	require.NoError(t, a.LoadRooms(context.Background()))

	r, err := a.StartChat(context.Background(), "u7")
	require.NoError(t, err)
	assert.Equal(t, "room-u7", r.ID)

	_, err = a.StartChat(context.Background(), "u7")
	require.NoError(t, err)
	snap := a.Snapshot()
	require.Len(t, snap.Rooms, 2)
	assert.Equal(t, "room-u7", snap.Rooms[0].ID)

	_, err = a.StartChat(context.Background(), "")
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))

	api.startErr = errors.New("409")
	_, err = a.StartChat(context.Background(), "u8")
	assert.True(t, errors.Is(err, errs.ErrRequestFailed))
}

func TestMarkRoomReadIsOptimistic(t *testing.T) {
	api := &fakeAPI{rooms: []any{room("R1", "u2", "Bina", "", 4)}, readErr: errors.New("offline")}
	a, _ := newAggregator(t, api, "")
	require.NoError(t, a.LoadRooms(context.Background()))

	err := a.MarkRoomRead(context.Background(), "R1")
	assert.True(t, errors.Is(err, errs.ErrReadFailed))
	r, _ := a.Room("R1")
	assert.Equal(t, 0, r.Unread)
	assert.Equal(t, []string{"R1"}, api.reads)
}

func TestArchiveMuteAndFilter(t *testing.T) {
	api := &fakeAPI{rooms: []any{
		room("R1", "u2", "Bina", "see you at the gate", 0),
		room("R2", "u3", "Chetan", "parking", 0),
	}}
	a, _ := newAggregator(t, api, "")
	require.NoError(t, a.LoadRooms(context.Background()))

	rooms, _ := a.Filter("GATE")
	require.Len(t, rooms, 1)
	assert.Equal(t, "R1", rooms[0].ID)

	require.NoError(t, a.ArchiveRoom(context.Background(), "R1"))
	require.NoError(t, a.MuteRoom(context.Background(), "R2"))

	snap := a.Snapshot()
	assert.Len(t, snap.Rooms, 2)
	require.Len(t, snap.Visible(), 1)
	assert.True(t, snap.Visible()[0].Muted)

	rooms, _ = a.Filter("")
	assert.Len(t, rooms, 1)

	api.archiveErr = errors.New("403")
	err := a.ArchiveRoom(context.Background(), "R2")
	assert.True(t, errors.Is(err, errs.ErrRequestFailed))
	r, _ := a.Room("R2")
	assert.False(t, r.Archived)
}

func TestRoomDetails(t *testing.T) {
	a, _ := newAggregator(t, &fakeAPI{}, "")
	r, err := a.RoomDetails(context.Background(), "R5")
	require.NoError(t, err)
	assert.True(t, r.Muted)
	assert.Equal(t, "Detail", r.Other.Name)
	_, ok := a.Room("R5")
	assert.True(t, ok)
}

func TestReconnectReloadsRooms(t *testing.T) {
	api := &fakeAPI{rooms: []any{room("R1", "u2", "Bina", "", 0)}}
	a, bus := newAggregator(t, api, "")
	require.NoError(t, a.LoadRooms(context.Background()))

	bus.Deliver(socket.EventReconnected, nil)
	assert.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return api.roomsCalls == 2
	}, time.Second, 5*time.Millisecond)
}

func TestStopDetachesHandlers(t *testing.T) {
	api := &fakeAPI{rooms: []any{room("R1", "u2", "Bina", "", 0)}}
	a, bus := newAggregator(t, api, "")
	require.NoError(t, a.LoadRooms(context.Background()))

	a.Stop()
	assert.Equal(t, 0, bus.Handlers(socket.EventNewMessage))
	bus.Deliver(socket.EventNewMessage, model.Raw{"_id": "m1", "room_id": "R1", "sender_id": "u2", "text": "late"})
	r, _ := a.Room("R1")
	assert.Equal(t, 0, r.Unread)
}

func TestStartWithoutToken(t *testing.T) {
	bus := sockettest.New("me")
	bus.FailConnect(errs.ErrAuthMissing.Wrap())
	a := New(bus, &fakeAPI{}, Options{})
	err := a.Start(context.Background())
	assert.True(t, errors.Is(err, errs.ErrAuthMissing))
	assert.Equal(t, 0, bus.Handlers(socket.EventNewMessage))
}

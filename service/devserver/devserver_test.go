package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"DMProject/module/dm/model"
	"DMProject/service/rest"
	"DMProject/service/socket"
	"DMProject/tools"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() { gin.SetMode(gin.TestMode) }

type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }

type fixture struct {
	srv *Server
	hs  *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := New(Options{JWTSecret: "test", Logger: zap.NewNop()})
	hs := httptest.NewServer(srv.Router())
	t.Cleanup(hs.Close)
	return &fixture{srv: srv, hs: hs}
}

func (f *fixture) api(t *testing.T, userID string) *rest.Client {
	t.Helper()
	tok, _, err := f.srv.Token(userID)
	require.NoError(t, err)
	return rest.New(rest.Options{BaseURL: f.hs.URL + "/dm", Logger: zap.NewNop()}, staticToken(tok))
}

type wsPeer struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (f *fixture) dial(t *testing.T, userID string) *wsPeer {
	t.Helper()
	tok, _, err := f.srv.Token(userID)
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(f.hs.URL, "http") + "/socket?token=" + tok
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &wsPeer{conn: conn}
}

func (p *wsPeer) emit(t *testing.T, event string, payload any) {
	t.Helper()
	frame, err := tools.EncodeFrame(event, payload)
	require.NoError(t, err)
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NoError(t, p.conn.WriteMessage(websocket.TextMessage, frame))
}

// next reads frames until one named event arrives.
func (p *wsPeer) next(t *testing.T, event string) json.RawMessage {
	t.Helper()
	_ = p.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := p.conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", event)
		f, err := tools.DecodeFrame(data)
		require.NoError(t, err)
		if f.Event == event {
			return f.Data
		}
	}
}

// settle gives the server a round trip so earlier frames are processed.
func (f *fixture) settle(t *testing.T, api *rest.Client) {
	t.Helper()
	_, err := api.GetRooms(context.Background())
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
}

func TestTokenEndpoint(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Post(f.hs.URL+"/auth/token", "application/json", strings.NewReader(`{"userId":"u-asha"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Token     string `json:"token"`
		SocietyID string `json:"societyId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body.Token)
	assert.Equal(t, "greenpark", body.SocietyID)

	resp2, err := http.Post(f.hs.URL+"/auth/token", "application/json", strings.NewReader(`{"userId":"nobody"}`))
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestRequiresToken(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.hs.URL + "/dm/rooms")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(f.hs.URL + "/dm/rooms?token=garbage")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateRoomIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	asha, bilal := f.api(t, "u-asha"), f.api(t, "u-bilal")

	rooms, err := asha.GetRooms(ctx)
	require.NoError(t, err)
	assert.Empty(t, rooms)

	r1, err := asha.StartChat(ctx, "u-bilal")
	require.NoError(t, err)
	r2, err := bilal.StartChat(ctx, "u-asha")
	require.NoError(t, err)
	assert.Equal(t, r1["id"], r2["id"])
	assert.Equal(t, "Bilal Khan", r1["other"].(map[string]any)["name"])

	_, err = asha.StartChat(ctx, "u-asha")
	assert.Error(t, err)

	users, err := asha.SocietyUsers(ctx, "greenpark")
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestMessagesDedupeByTempID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	asha, bilal := f.api(t, "u-asha"), f.api(t, "u-bilal")
	room, err := asha.StartChat(ctx, "u-bilal")
	require.NoError(t, err)
	roomID := room["id"].(string)

	bob := f.dial(t, "u-bilal")
	f.settle(t, bilal)

	first, err := asha.SendMessage(ctx, roomID, model.Outgoing{Text: "hi", TempID: "tmp-1"})
	require.NoError(t, err)
	again, err := asha.SendMessage(ctx, roomID, model.Outgoing{Text: "hi", TempID: "tmp-1"})
	require.NoError(t, err)
	assert.Equal(t, first["_id"], again["_id"])

	var live map[string]any
	require.NoError(t, json.Unmarshal(bob.next(t, socket.EventNewMessage), &live))
	assert.Equal(t, first["_id"], live["_id"])
	assert.Equal(t, "tmp-1", live["tempId"])

	_, err = asha.SendMessage(ctx, roomID, model.Outgoing{Text: "second"})
	require.NoError(t, err)
	history, err := bilal.GetMessages(ctx, roomID, 30)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "second", history[0].(map[string]any)["text"])

	rooms, err := bilal.GetRooms(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.EqualValues(t, 2, rooms[0].(map[string]any)["unread"])

	require.NoError(t, bilal.MarkRead(ctx, roomID))
	rooms, _ = bilal.GetRooms(ctx)
	assert.EqualValues(t, 0, rooms[0].(map[string]any)["unread"])
	st, err := asha.MessageStatus(ctx, first["_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, model.StatusRead, st["delivery_status"])
}

func TestDeleteOnlyBySender(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	asha, bilal := f.api(t, "u-asha"), f.api(t, "u-bilal")
	room, err := asha.StartChat(ctx, "u-bilal")
	require.NoError(t, err)
	roomID := room["id"].(string)
	m, err := asha.SendMessage(ctx, roomID, model.Outgoing{Text: "oops"})
	require.NoError(t, err)
	id := m["_id"].(string)

	err = bilal.DeleteMessage(ctx, id)
	var he *rest.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusForbidden, he.Status)

	require.NoError(t, asha.DeleteMessage(ctx, id))
	history, err := bilal.GetMessages(ctx, roomID, 10)
	require.NoError(t, err)
	got, ok := model.NormalizeMessage(history[0].(map[string]any), time.Now())
	require.True(t, ok)
	assert.True(t, got.Deleted)
	assert.Equal(t, model.DeletedText, got.Text)
}

func TestSocketSendTypingAndPresence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	asha := f.api(t, "u-asha")
	room, err := asha.StartChat(ctx, "u-bilal")
	require.NoError(t, err)
	roomID := room["id"].(string)

	a := f.dial(t, "u-asha")
	b := f.dial(t, "u-bilal")
	a.emit(t, socket.EventJoinRoom, roomID)
	b.emit(t, socket.EventJoinRoom, roomID)
	f.settle(t, asha)

	a.emit(t, socket.EventTyping, model.Typing{RoomID: roomID, UserID: "spoofed", IsTyping: true})
	var typing model.Typing
	require.NoError(t, json.Unmarshal(b.next(t, socket.EventUserTyping), &typing))
	assert.Equal(t, "u-asha", typing.UserID)
	assert.True(t, typing.IsTyping)

	a.emit(t, socket.EventSendMessage, model.SendPayload{RoomID: roomID, Text: "live", TempID: "tmp-9"})
	var confirmed struct {
		TempID  string         `json:"tempId"`
		Message map[string]any `json:"message"`
	}
	require.NoError(t, json.Unmarshal(a.next(t, socket.EventMessageConfirmed), &confirmed))
	assert.Equal(t, "tmp-9", confirmed.TempID)
	var live map[string]any
	require.NoError(t, json.Unmarshal(b.next(t, socket.EventNewMessage), &live))
	assert.Equal(t, confirmed.Message["_id"], live["_id"])

	b.emit(t, socket.EventMarkAsRead, roomID)
	var read model.RoomRead
	require.NoError(t, json.Unmarshal(a.next(t, socket.EventMessagesRead), &read))
	assert.Equal(t, roomID, read.RoomID)

	b.emit(t, socket.EventOnlineStatus, false)
	var status model.OnlineStatus
	require.NoError(t, json.Unmarshal(a.next(t, socket.EventUserOnline), &status))
	assert.Equal(t, "u-bilal", status.UserID)
	assert.False(t, status.IsOnline)
	assert.NotNil(t, status.LastSeen)
}

func TestAttachmentUpload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	asha := f.api(t, "u-asha")
	room, err := asha.StartChat(ctx, "u-chen")
	require.NoError(t, err)

	m, err := asha.SendAttachment(ctx, room["id"].(string), model.Upload{
		Name: "gate.png", Type: "image/png", Data: []byte("\x89PNG fake"), Text: "the gate",
	})
	require.NoError(t, err)
	got, _ := model.NormalizeMessage(m, time.Now())
	require.NotNil(t, got.Attachment)
	assert.Equal(t, model.TypeImage, got.Type)
	assert.Equal(t, "gate.png", got.Attachment.Name)
	assert.True(t, strings.HasPrefix(got.Attachment.URL, "/dm/files/"))

	tok, _, _ := f.srv.Token("u-asha")
	req, _ := http.NewRequest(http.MethodGet, f.hs.URL+got.Attachment.URL, nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

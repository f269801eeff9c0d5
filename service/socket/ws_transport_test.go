package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"DMProject/service/storage"
	"DMProject/tools"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoServer struct {
	mu       sync.Mutex
	conns    []*websocket.Conn
	auth     []string
	received []*tools.Frame
}

func (s *echoServer) handle(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ws, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, ws)
	s.auth = append(s.auth, r.Header.Get("Authorization")+"|"+r.URL.Query().Get("token"))
	s.mu.Unlock()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		f, err := tools.DecodeFrame(data)
		if err != nil {
			continue
		}
		s.mu.Lock()
		s.received = append(s.received, f)
		s.mu.Unlock()
	}
}

func (s *echoServer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *echoServer) events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, f := range s.received {
		out = append(out, f.Event)
	}
	return out
}

func (s *echoServer) push(t *testing.T, event string, payload any) {
	frame, err := tools.EncodeFrame(event, payload)
	require.NoError(t, err)
	s.mu.Lock()
	ws := s.conns[len(s.conns)-1]
	s.mu.Unlock()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, frame))
}

func TestWebsocketTransportRoundTripAndReconnect(t *testing.T) {
	srv := &echoServer{}
	hs := httptest.NewServer(http.HandlerFunc(srv.handle))
	defer hs.Close()

	creds := storage.NewCredentials(storage.NewMemStore())
	require.NoError(t, creds.Save(context.Background(), "tok-ws", "u-1", ""))
	m := NewManager(creds, Options{Dialer: WebsocketDialer(WSOptions{
		URL:              "ws" + strings.TrimPrefix(hs.URL, "http") + "/socket",
		ReconnectInitial: 10 * time.Millisecond,
		ReconnectMax:     50 * time.Millisecond,
	})})
	defer m.Close()

	msgs := make(chan string, 4)
	reconnected := make(chan struct{}, 1)
	m.Subscribe(EventNewMessage, func(data json.RawMessage) { msgs <- string(data) })
	m.Subscribe(EventReconnected, func(json.RawMessage) { reconnected <- struct{}{} })

	c, err := m.EnsureConnected(context.Background())
	require.NoError(t, err)
	require.True(t, c.Live())
	assert.Equal(t, Connected, m.State())

	m.Emit(EventJoinRoom, "r1")
	assert.Eventually(t, func() bool {
		ev := srv.events()
		return len(ev) == 2 && ev[0] == EventOnlineStatus && ev[1] == EventJoinRoom
	}, 2*time.Second, 10*time.Millisecond)

	srv.push(t, EventNewMessage, map[string]any{"_id": "m1", "room_id": "r1"})
	select {
	case v := <-msgs:
		assert.JSONEq(t, `{"_id":"m1","room_id":"r1"}`, v)
	case <-time.After(2 * time.Second):
		t.Fatal("newMessage not delivered")
	}

	// server drops the connection; the transport redials on its own
	srv.mu.Lock()
	_ = srv.conns[0].Close()
	srv.mu.Unlock()

	select {
	case <-reconnected:
	case <-time.After(3 * time.Second):
		t.Fatal("no reconnect")
	}
	assert.Equal(t, 2, srv.count())
	assert.Equal(t, Connected, m.State())

	srv.mu.Lock()
	for _, a := range srv.auth {
		assert.Equal(t, "Bearer tok-ws|tok-ws", a)
	}
	srv.mu.Unlock()
}

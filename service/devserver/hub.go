package devserver

import (
	"sync"
	"time"

	"DMProject/tools"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const sendQueue = 64

// peer is one websocket connection of a signed-in user.
type peer struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func (p *peer) close() {
	p.once.Do(func() { close(p.done) })
}

// hub tracks live connections, joined rooms and presence.
type hub struct {
	log *zap.Logger
	now func() time.Time

	mu       sync.RWMutex
	byUser   map[string]map[*peer]struct{}
	joined   map[string]map[*peer]struct{} // room -> peers
	lastSeen map[string]time.Time
}

func newHub(log *zap.Logger, now func() time.Time) *hub {
	return &hub{
		log:      log,
		now:      now,
		byUser:   map[string]map[*peer]struct{}{},
		joined:   map[string]map[*peer]struct{}{},
		lastSeen: map[string]time.Time{},
	}
}

// register reports whether p is the user's first connection.
func (h *hub) register(p *peer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.byUser[p.userID]
	if set == nil {
		set = map[*peer]struct{}{}
		h.byUser[p.userID] = set
	}
	set[p] = struct{}{}
	return len(set) == 1
}

// unregister reports whether p was the user's last connection.
func (h *hub) unregister(p *peer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room, set := range h.joined {
		delete(set, p)
		if len(set) == 0 {
			delete(h.joined, room)
		}
	}
	set := h.byUser[p.userID]
	delete(set, p)
	if len(set) > 0 {
		return false
	}
	delete(h.byUser, p.userID)
	h.lastSeen[p.userID] = h.now()
	return true
}

func (h *hub) join(p *peer, roomID string) {
	h.mu.Lock()
	set := h.joined[roomID]
	if set == nil {
		set = map[*peer]struct{}{}
		h.joined[roomID] = set
	}
	set[p] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) leave(p *peer, roomID string) {
	h.mu.Lock()
	if set := h.joined[roomID]; set != nil {
		delete(set, p)
		if len(set) == 0 {
			delete(h.joined, roomID)
		}
	}
	h.mu.Unlock()
}

func (h *hub) online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID]) > 0
}

func (h *hub) seen(userID string) (time.Time, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	t, ok := h.lastSeen[userID]
	return t, ok
}

// toUsers sends to every connection of the given users.
func (h *hub) toUsers(userIDs []string, event string, payload any) {
	h.mu.RLock()
	var targets []*peer
	for _, id := range userIDs {
		for p := range h.byUser[id] {
			targets = append(targets, p)
		}
	}
	h.mu.RUnlock()
	h.deliver(targets, event, payload)
}

// toRoom sends to connections that joined roomID, except those of skipUser.
func (h *hub) toRoom(roomID, skipUser string, event string, payload any) {
	h.mu.RLock()
	var targets []*peer
	for p := range h.joined[roomID] {
		if skipUser == "" || p.userID != skipUser {
			targets = append(targets, p)
		}
	}
	h.mu.RUnlock()
	h.deliver(targets, event, payload)
}

// toOthers sends to every connection not owned by userID.
func (h *hub) toOthers(userID string, event string, payload any) {
	h.mu.RLock()
	var targets []*peer
	for id, set := range h.byUser {
		if id == userID {
			continue
		}
		for p := range set {
			targets = append(targets, p)
		}
	}
	h.mu.RUnlock()
	h.deliver(targets, event, payload)
}

func (h *hub) deliver(targets []*peer, event string, payload any) {
	if len(targets) == 0 {
		return
	}
	frame, err := tools.EncodeFrame(event, payload)
	if err != nil {
		h.log.Error("encode frame", zap.String("event", event), zap.Error(err))
		return
	}
	for _, p := range targets {
		p.push(h.log, frame)
	}
}

// push queues frame; a peer that cannot keep up is dropped.
func (p *peer) push(log *zap.Logger, frame []byte) {
	select {
	case <-p.done:
	case p.send <- frame:
	default:
		log.Warn("send queue full, dropping connection", zap.String("user", p.userID))
		p.close()
	}
}

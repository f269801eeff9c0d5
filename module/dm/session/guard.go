package session

import (
	"sync"

	"DMProject/tools/errs"
)

// Guard admits one open room session at a time across all sessions sharing it.
type Guard struct {
	mu    sync.Mutex
	owner *Session
}

func NewGuard() *Guard { return &Guard{} }

func (g *Guard) acquire(s *Session, roomID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.owner != nil && g.owner != s {
		return errs.ErrAlreadyOpenElsewhere.WrapMsg("", "room", roomID)
	}
	g.owner = s
	return nil
}

func (g *Guard) release(s *Session) {
	g.mu.Lock()
	if g.owner == s {
		g.owner = nil
	}
	g.mu.Unlock()
}

// Holder returns the session currently holding the guard, or nil.
func (g *Guard) Holder() *Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.owner
}

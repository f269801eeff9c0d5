package socket

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"DMProject/logger"
	"DMProject/tools"
	"DMProject/tools/errs"
	"DMProject/tools/safe"
	"DMProject/tools/security"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Credentials is where the manager reads the auth token and, when the token
// carries no identity claim, the local user id.
type Credentials interface {
	Token(ctx context.Context) (string, error)
	UserID(ctx context.Context) (string, error)
}

type Handler func(data json.RawMessage)

// Subscription identifies one registered handler.
type Subscription struct {
	event string
	id    uint64
}

// NewSubscription builds a token for Link implementations outside this package.
func NewSubscription(event string, id uint64) Subscription {
	return Subscription{event: event, id: id}
}

func (s Subscription) Event() string { return s.event }

// Link is the surface room sessions and the roster use. Neither may disconnect.
type Link interface {
	Connect(ctx context.Context) error
	Emit(event string, payload any)
	Subscribe(event string, h Handler) Subscription
	Unsubscribe(s Subscription)
	UserID() string
}

// Conn is the single live connection owned by a Manager.
type Conn struct {
	t       Transport
	userID  string
	started atomic.Bool
}

func (c *Conn) Live() bool { return c.t.Live() }
func (c *Conn) UserID() string { return c.userID }

type Options struct {
	Dialer    Dialer
	Logger    *zap.Logger
	QueueSize int
}

type entry struct {
	id      uint64
	fn      Handler
	removed atomic.Bool
}

type inbound struct {
	event string
	data  json.RawMessage
}

// Manager owns at most one connection and fans its events out to subscribers.
// Events are delivered one at a time, in arrival order, on a single goroutine.
type Manager struct {
	creds  Credentials
	dial   Dialer
	log    *zap.Logger
	group  singleflight.Group
	queue  chan inbound
	done   chan struct{}
	closed sync.Once

	mu        sync.Mutex
	conn      *Conn
	state     State
	nextID    uint64
	handlers  map[string][]*entry
	listeners map[uint64]func(State)
}

func NewManager(creds Credentials, opts Options) *Manager {
	safe.MustNotNil(creds, "credentials")
	safe.MustNotNil(opts.Dialer, "dialer")
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	m := &Manager{
		creds:     creds,
		dial:      opts.Dialer,
		log:       logger.Named(opts.Logger, "socket"),
		queue:     make(chan inbound, opts.QueueSize),
		done:      make(chan struct{}),
		handlers:  make(map[string][]*entry),
		listeners: make(map[uint64]func(State)),
	}
	go m.dispatch()
	return m
}

// EnsureConnected returns the current connection, building it on first use.
// A connection that exists but dropped is asked to reconnect, never replaced.
func (m *Manager) EnsureConnected(ctx context.Context) (*Conn, error) {
	m.mu.Lock()
	c := m.conn
	m.mu.Unlock()
	if c != nil {
		if !c.Live() {
			c.t.Reconnect()
		}
		return c, nil
	}

	v, err, _ := m.group.Do("connect", func() (any, error) {
		m.mu.Lock()
		if m.conn != nil {
			c := m.conn
			m.mu.Unlock()
			return c, nil
		}
		m.mu.Unlock()

		token, err := m.creds.Token(ctx)
		if err != nil {
			return nil, errs.ErrAuthMissing.Because(err, "read token")
		}
		if token == "" {
			m.log.Warn("no token for socket auth")
			return nil, errs.ErrAuthMissing.Wrap()
		}
		c := &Conn{userID: m.identity(ctx, token)}
		c.t = m.dial(token, m.hooks(c))

		m.mu.Lock()
		m.conn = c
		m.mu.Unlock()
		m.setState(c, Connecting)

		if err := c.t.Start(ctx); err != nil {
			m.log.Warn("initial connect failed", zap.Error(err))
		}
		c.started.Store(true)
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Conn), nil
}

// Connect is EnsureConnected for callers that only need the side effect.
func (m *Manager) Connect(ctx context.Context) error {
	_, err := m.EnsureConnected(ctx)
	return err
}

func (m *Manager) identity(ctx context.Context, token string) string {
	if id, err := security.Identity(token); err == nil {
		return id
	}
	id, err := m.creds.UserID(ctx)
	if err != nil {
		m.log.Warn("read user id", zap.Error(err))
	}
	return id
}

func (m *Manager) hooks(c *Conn) Hooks {
	return Hooks{
		OnConnect: func() {
			if !m.current(c) {
				return
			}
			m.setState(c, Connected)
			m.send(c, EventOnlineStatus, true)
			if c.started.Load() {
				m.enqueue(EventReconnected, nil)
			}
		},
		OnDisconnect: func(err error) {
			if !m.current(c) {
				return
			}
			m.log.Warn("connection lost", zap.Error(err))
			m.setState(c, Connecting)
		},
		OnFrame: func(event string, data json.RawMessage) {
			if m.current(c) {
				m.enqueue(event, data)
			}
		},
	}
}

func (m *Manager) current(c *Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn == c
}

// Disconnect announces offline, tears the connection down and forgets it.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	c := m.conn
	m.conn = nil
	m.mu.Unlock()
	if c == nil {
		return
	}
	if c.Live() {
		m.send(c, EventOnlineStatus, false)
	}
	if err := c.t.Close(); err != nil {
		m.log.Debug("close transport", zap.Error(err))
	}
	m.setState(nil, Disconnected)
}

// Close disconnects and stops event delivery.
func (m *Manager) Close() {
	m.Disconnect()
	m.closed.Do(func() { close(m.done) })
}

// Emit is fire-and-forget; it does nothing while not connected.
func (m *Manager) Emit(event string, payload any) {
	m.mu.Lock()
	c := m.conn
	m.mu.Unlock()
	if c == nil || !c.Live() {
		m.log.Debug("emit dropped, not connected", zap.String("event", event))
		return
	}
	m.send(c, event, payload)
}

func (m *Manager) send(c *Conn, event string, payload any) {
	frame, err := tools.EncodeFrame(event, payload)
	if err != nil {
		m.log.Error("encode frame", zap.String("event", event), zap.Error(err))
		return
	}
	if err := c.t.Send(frame); err != nil {
		m.log.Warn("emit failed", zap.String("event", event), zap.Error(err))
	}
}

func (m *Manager) Subscribe(event string, h Handler) Subscription {
	safe.MustNotNil(h, "handler")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	e := &entry{id: m.nextID, fn: h}
	m.handlers[event] = append(m.handlers[event], e)
	return Subscription{event: event, id: e.id}
}

// Unsubscribe detaches a handler. Once it returns the handler is not invoked
// again, except for a call already running.
func (m *Manager) Unsubscribe(s Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.handlers[s.event]
	for i, e := range list {
		if e.id == s.id {
			e.removed.Store(true)
			m.handlers[s.event] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(m.handlers[s.event]) == 0 {
		delete(m.handlers, s.event)
	}
}

func (m *Manager) UserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return ""
	}
	return m.conn.userID
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnStateChange registers fn; the returned func removes it.
func (m *Manager) OnStateChange(fn func(State)) (cancel func()) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// setState applies s when c is still current; nil c forces it.
func (m *Manager) setState(c *Conn, s State) {
	m.mu.Lock()
	if (c != nil && m.conn != c) || m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	fns := make([]func(State), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	m.log.Debug("state", zap.Stringer("state", s))
	for _, fn := range fns {
		_ = safe.Call(m.log, "state listener", func() { fn(s) })
	}
}

func (m *Manager) enqueue(event string, data json.RawMessage) {
	select {
	case m.queue <- inbound{event: event, data: data}:
	case <-m.done:
	}
}

func (m *Manager) dispatch() {
	for {
		select {
		case <-m.done:
			return
		case ev := <-m.queue:
			m.deliver(ev)
		}
	}
}

func (m *Manager) deliver(ev inbound) {
	m.mu.Lock()
	subs := append([]*entry(nil), m.handlers[ev.event]...)
	m.mu.Unlock()

	if len(subs) == 0 {
		m.log.Debug("no subscriber", zap.String("event", ev.event))
		return
	}
	for _, e := range subs {
		if e.removed.Load() {
			continue
		}
		_ = safe.Call(m.log, ev.event, func() { e.fn(ev.data) })
	}
}

var _ Link = (*Manager)(nil)

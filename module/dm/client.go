package dm

import (
	"context"
	"io"
	"strings"
	"sync"

	"DMProject/global/config"
	"DMProject/logger"
	"DMProject/module/dm/roster"
	"DMProject/module/dm/session"
	"DMProject/service/natsx"
	"DMProject/service/rest"
	"DMProject/service/socket"
	"DMProject/service/storage"
	"DMProject/tools/clock"
	"DMProject/tools/errs"

	"go.uber.org/zap"
)

type options struct {
	store  storage.Store
	dialer socket.Dialer
	log    *zap.Logger
	clock  clock.Clock
	bridge *natsx.Bridge
}

type Option func(*options)

// WithStore replaces the store named in the config.
func WithStore(s storage.Store) Option { return func(o *options) { o.store = s } }

func WithDialer(d socket.Dialer) Option { return func(o *options) { o.dialer = d } }

func WithLogger(l *zap.Logger) Option { return func(o *options) { o.log = l } }

func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

// WithBridge mirrors roster and session snapshots onto NATS.
func WithBridge(b *natsx.Bridge) Option { return func(o *options) { o.bridge = b } }

// Client wires one user's connection, REST client, room list and open room.
type Client struct {
	cfg    config.AppConfig
	log    *zap.Logger
	clock  clock.Clock
	store  storage.Store
	creds  *storage.Credentials
	sock   *socket.Manager
	api    *rest.Client
	guard  *session.Guard
	roster *roster.Aggregator
	bridge *natsx.Bridge

	mu          sync.Mutex
	current     *session.Session
	stopCurrent func()
	stopViews   []func()
	closeBridge bool
}

func New(ctx context.Context, cfg config.AppConfig, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	log := logger.Named(o.log, "dm")

	store := o.store
	if store == nil {
		s, err := storage.Open(ctx, cfg.Store)
		if err != nil {
			return nil, err
		}
		store = s
	}
	creds := storage.NewCredentials(store)

	dialer := o.dialer
	if dialer == nil {
		dialer = socket.WebsocketDialer(socket.WSOptions{
			URL:                 cfg.SocketURL(),
			ReconnectInitial:    cfg.Socket.ReconnectInitial,
			ReconnectMax:        cfg.Socket.ReconnectMax,
			ReconnectMultiplier: cfg.Socket.ReconnectMultiplier,
			PingInterval:        cfg.Socket.PingInterval,
			WriteWait:           cfg.Socket.WriteWait,
			DialTimeout:         cfg.Socket.DialTimeout,
			Logger:              o.log,
		})
	}

	c := &Client{
		cfg:    cfg,
		log:    log,
		clock:  clock.Or(o.clock),
		store:  store,
		creds:  creds,
		sock:   socket.NewManager(creds, socket.Options{Dialer: dialer, Logger: o.log}),
		api:    rest.New(rest.Options{BaseURL: cfg.APIBase(), Timeout: cfg.RequestTimeout, Logger: o.log}, creds),
		guard:  session.NewGuard(),
		bridge: o.bridge,
	}
	c.roster = roster.New(c.sock, c.api, roster.Options{
		Society: c.societyID,
		Clock:   o.clock,
		Logger:  o.log,
	})

	if c.bridge == nil && cfg.NATS.Enabled {
		b, err := natsx.Connect(natsx.Config{
			URL:           cfg.NATS.URL,
			Name:          cfg.NATS.Name,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			ReconnectWait: cfg.NATS.ReconnectWait,
			Timeout:       cfg.NATS.Timeout,
		}, o.log)
		if err != nil {
			// The view mirror is optional; the chat works without it.
			log.Warn("nats bridge unavailable", zap.Error(err))
		} else {
			c.bridge = b
			c.closeBridge = true
		}
	}
	if c.bridge != nil {
		c.stopViews = append(c.stopViews, c.roster.Subscribe(
			natsx.Observer(c.bridge, c.bridge.Subject("rooms"), "roster", rosterVersion)))
	}
	return c, nil
}

func rosterVersion(s roster.Snapshot) uint64 { return s.Version }

// societyID prefers the configured society over the stored one.
func (c *Client) societyID(ctx context.Context) (string, error) {
	if id := strings.TrimSpace(c.cfg.SocietyID); id != "" {
		return id, nil
	}
	return c.creds.SocietyID(ctx)
}

// Login stores the credentials every later call authenticates with.
func (c *Client) Login(ctx context.Context, token, userID, societyID string) error {
	if strings.TrimSpace(token) == "" {
		return errs.ErrAuthMissing.WrapMsg("empty token")
	}
	return c.creds.Save(ctx, token, userID, societyID)
}

// Connect opens the socket, starts the room list and loads it once.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.roster.Start(ctx); err != nil {
		return err
	}
	return c.roster.LoadRooms(ctx)
}

func (c *Client) Roster() *roster.Aggregator { return c.roster }

func (c *Client) API() *rest.Client { return c.api }

func (c *Client) SocketState() socket.State { return c.sock.State() }

func (c *Client) OnSocketState(fn func(socket.State)) (cancel func()) {
	return c.sock.OnStateChange(fn)
}

// NewSession builds an unopened session sharing this client's connection and guard.
func (c *Client) NewSession() *session.Session {
	return session.New(c.sock, c.api, c.guard, session.Options{
		PageSize:     c.cfg.PageSize,
		TypingWindow: c.cfg.TypingWindow,
		Clock:        c.clock,
		Logger:       c.log,
	})
}

// OpenRoom closes the room currently on screen, opens roomID focused and clears
// its unread badge. peerID may be empty.
func (c *Client) OpenRoom(ctx context.Context, roomID, peerID string) (*session.Session, error) {
	if roomID == "" {
		return nil, errs.ErrInvalidArgument.WrapMsg("empty room id")
	}
	c.closeCurrent()

	s := c.NewSession()
	var openOpts []session.OpenOption
	if peerID != "" {
		openOpts = append(openOpts, session.WithPeer(peerID))
	}
	if err := s.Open(ctx, roomID, openOpts...); err != nil {
		if s.State() == session.Idle {
			return nil, err
		}
		// history failed; the session stays Loading and can Retry
		c.log.Warn("room opened without history", zap.String("room", roomID), zap.Error(err))
	}

	var stop func()
	if c.bridge != nil {
		stop = s.Subscribe(natsx.Observer(c.bridge, c.bridge.Subject("room", roomID), "session", sessionVersion))
	}
	c.mu.Lock()
	c.current = s
	c.stopCurrent = stop
	c.mu.Unlock()

	if err := s.Focus(ctx, true); err != nil {
		c.log.Warn("read receipt failed", zap.String("room", roomID), zap.Error(err))
	}
	c.roster.ClearUnread(roomID)
	return s, nil
}

func sessionVersion(s session.Snapshot) uint64 { return s.Version }

// Current returns the open session, or nil.
func (c *Client) Current() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Client) closeCurrent() {
	c.mu.Lock()
	s, stop := c.current, c.stopCurrent
	c.current, c.stopCurrent = nil, nil
	c.mu.Unlock()
	if s != nil {
		s.Close()
	}
	// after Close so the closing snapshot is still published
	if stop != nil {
		stop()
	}
}

// Logout leaves the room, drops the connection and forgets the credentials.
func (c *Client) Logout(ctx context.Context) error {
	c.closeCurrent()
	c.roster.Stop()
	c.sock.Disconnect()
	return c.creds.Clear(ctx)
}

// Close releases everything; the stored credentials are kept.
func (c *Client) Close() error {
	c.closeCurrent()
	c.roster.Stop()
	c.sock.Close()

	c.mu.Lock()
	stops := c.stopViews
	c.stopViews = nil
	c.mu.Unlock()
	for _, stop := range stops {
		stop()
	}
	if c.closeBridge {
		if err := c.bridge.Close(); err != nil {
			c.log.Warn("nats bridge close", zap.Error(err))
		}
	}
	if cl, ok := c.store.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

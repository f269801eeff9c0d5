package natsx

import (
	"strings"
	"sync"
	"time"

	"DMProject/logger"
	"DMProject/tools/errs"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Config 连接参数
type Config struct {
	URL           string // comma separated server list
	Name          string
	SubjectPrefix string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// Bridge mirrors client view state onto NATS subjects so other local processes
// (a status bar, a notifier) can follow the chat without their own socket.
type Bridge struct {
	cfg Config
	nc  *nats.Conn
	log *zap.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// Connect dials NATS; reconnects are left to the nats client.
func Connect(cfg Config, log *zap.Logger) (*Bridge, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errs.ErrInvalidArgument.WrapMsg("nats url missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "dm.view"
	}
	if cfg.Name == "" {
		cfg.Name = "dm-client"
	}
	log = logger.Named(log, "natsx")

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, errs.ErrRequestFailed.Because(err, "nats connect", "url", cfg.URL)
	}
	return &Bridge{cfg: cfg, nc: nc, log: log}, nil
}

// Subject joins the configured prefix with parts, e.g. Subject("room", "r1").
func (b *Bridge) Subject(parts ...string) string {
	return strings.Join(append([]string{b.cfg.SubjectPrefix}, parts...), ".")
}

// Close drains subscriptions and the connection.
func (b *Bridge) Close() error {
	if b == nil || b.nc == nil {
		return nil
	}
	b.mu.Lock()
	for _, s := range b.subs {
		_ = s.Drain()
	}
	b.subs = nil
	b.mu.Unlock()
	return b.nc.Drain()
}

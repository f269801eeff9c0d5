package socket

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"DMProject/logger"
	"DMProject/tools"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var errTransportClosed = errors.New("transport closed")

type WSOptions struct {
	URL                 string
	ReconnectInitial    time.Duration
	ReconnectMax        time.Duration
	ReconnectMultiplier float64
	PingInterval        time.Duration
	WriteWait           time.Duration
	DialTimeout         time.Duration
	Logger              *zap.Logger
}

func (o *WSOptions) norm() {
	if o.ReconnectInitial <= 0 {
		o.ReconnectInitial = 500 * time.Millisecond
	}
	if o.ReconnectMax <= 0 {
		o.ReconnectMax = 5 * time.Second
	}
	if o.ReconnectMultiplier < 1 {
		o.ReconnectMultiplier = 2
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
}

// WebsocketDialer returns the default gorilla/websocket transport factory.
func WebsocketDialer(opts WSOptions) Dialer {
	opts.norm()
	return func(token string, hooks Hooks) Transport {
		return &wsTransport{
			opts:  opts,
			token: token,
			hooks: hooks,
			log:   logger.Named(opts.Logger, "ws"),
			kick:  make(chan struct{}, 1),
			done:  make(chan struct{}),
		}
	}
}

type wsTransport struct {
	opts  WSOptions
	token string
	hooks Hooks
	log   *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	live      atomic.Bool
	kick      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (t *wsTransport) Start(ctx context.Context) error {
	conn, err := t.dial(ctx)
	if err != nil {
		t.log.Warn("connect failed, retrying in background", zap.Error(err))
	}
	go t.loop(conn)
	return err
}

func (t *wsTransport) Reconnect() {
	if t.live.Load() {
		return
	}
	select {
	case t.kick <- struct{}{}:
	default:
	}
}

func (t *wsTransport) Live() bool { return t.live.Load() }

func (t *wsTransport) Send(frame []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil || !t.live.Load() {
		return errTransportClosed
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(t.opts.WriteWait))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	t.live.Store(false)

	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(t.opts.WriteWait))
	return conn.Close()
}

func (t *wsTransport) closed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *wsTransport) endpoint() (string, error) {
	u, err := url.Parse(t.opts.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", t.token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (t *wsTransport) dial(ctx context.Context) (*websocket.Conn, error) {
	if t.closed() {
		return nil, errTransportClosed
	}
	endpoint, err := t.endpoint()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, t.opts.DialTimeout)
	defer cancel()

	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+t.token)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, hdr)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	if t.closed() {
		t.mu.Unlock()
		_ = conn.Close()
		return nil, errTransportClosed
	}
	t.conn = conn
	t.mu.Unlock()

	t.live.Store(true)
	t.log.Info("connected", zap.String("url", t.opts.URL))
	if t.hooks.OnConnect != nil {
		t.hooks.OnConnect()
	}
	return conn, nil
}

// loop owns the connection for the transport's lifetime: serve until it drops,
// then redial with exponential backoff until Close.
func (t *wsTransport) loop(conn *websocket.Conn) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.opts.ReconnectInitial
	b.MaxInterval = t.opts.ReconnectMax
	b.Multiplier = t.opts.ReconnectMultiplier
	b.MaxElapsedTime = 0

	for {
		if conn != nil {
			err := t.serve(conn)
			t.live.Store(false)
			t.mu.Lock()
			if t.conn == conn {
				t.conn = nil
			}
			t.mu.Unlock()
			_ = conn.Close()
			if t.closed() {
				return
			}
			t.log.Warn("disconnected", zap.Error(err))
			if t.hooks.OnDisconnect != nil {
				t.hooks.OnDisconnect(err)
			}
			b.Reset()
		}

		timer := time.NewTimer(b.NextBackOff())
		select {
		case <-t.done:
			timer.Stop()
			return
		case <-t.kick:
			timer.Stop()
		case <-timer.C:
		}

		var err error
		conn, err = t.dial(context.Background())
		if errors.Is(err, errTransportClosed) {
			return
		}
		if err != nil {
			t.log.Debug("reconnect failed", zap.Error(err))
		}
	}
}

func (t *wsTransport) serve(conn *websocket.Conn) error {
	pongWait := t.opts.PingInterval * 2
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stop := make(chan struct{})
	defer close(stop)
	go t.ping(conn, stop)

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		f, err := tools.DecodeFrame(data)
		if err != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			t.log.Warn("bad frame", zap.Error(err), zap.ByteString("sample", sample))
			continue
		}
		if t.hooks.OnFrame != nil {
			t.hooks.OnFrame(f.Event, f.Data)
		}
	}
}

func (t *wsTransport) ping(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(t.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.opts.WriteWait)); err != nil {
				t.log.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}

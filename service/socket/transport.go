package socket

import (
	"context"
	"encoding/json"
)

// Hooks are called from the transport's own goroutines.
type Hooks struct {
	OnConnect    func()
	OnDisconnect func(err error)
	OnFrame      func(event string, data json.RawMessage)
}

// Transport is one reconnecting connection to the socket server.
type Transport interface {
	// Start dials once; on failure the transport keeps retrying in the background.
	Start(ctx context.Context) error
	// Reconnect asks a dropped transport to dial now instead of waiting out its backoff.
	Reconnect()
	Send(frame []byte) error
	Live() bool
	Close() error
}

// Dialer builds a transport authenticated with token.
type Dialer func(token string, hooks Hooks) Transport

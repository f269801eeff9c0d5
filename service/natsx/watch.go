package natsx

import (
	"context"
	"strconv"
	"sync"

	"DMProject/tools/errs"
	"DMProject/tools/safe"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// View is one published snapshot as seen by a subscriber.
type View struct {
	Subject string
	Kind    string
	Version uint64
	Data    []byte
}

type Handler func(ctx context.Context, v View) error

type Middleware func(Handler) Handler

// Chain wraps h so the first middleware runs outermost.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Recover turns a panicking handler into an error.
func Recover(log *zap.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, v View) (err error) {
			if perr := safe.Call(log, "view handler "+v.Subject, func() { err = next(ctx, v) }); perr != nil {
				return perr
			}
			return err
		}
	}
}

// Latest drops views whose version is not newer than the last one seen per subject.
func Latest() Middleware {
	var mu sync.Mutex
	seen := map[string]uint64{}
	return func(next Handler) Handler {
		return func(ctx context.Context, v View) error {
			mu.Lock()
			last, ok := seen[v.Subject]
			stale := ok && v.Version <= last
			if !stale {
				seen[v.Subject] = v.Version
			}
			mu.Unlock()
			if stale {
				return nil
			}
			return next(ctx, v)
		}
	}
}

// Watch subscribes to subject (wildcards allowed). Handler errors are logged.
func (b *Bridge) Watch(subject string, h Handler, mws ...Middleware) error {
	h = Chain(h, append([]Middleware{Recover(b.log)}, mws...)...)
	sub, err := b.nc.Subscribe(subject, func(m *nats.Msg) {
		v := View{
			Subject: m.Subject,
			Kind:    m.Header.Get(HeaderKind),
			Data:    append([]byte(nil), m.Data...),
		}
		v.Version, _ = strconv.ParseUint(m.Header.Get(HeaderVersion), 10, 64)
		if err := h(context.Background(), v); err != nil {
			b.log.Warn("view handler failed", zap.String("subject", m.Subject), zap.Error(err))
		}
	})
	if err != nil {
		return errs.ErrRequestFailed.Because(err, "subscribe", "subject", subject)
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return nil
}

// Flush waits until the server has processed everything published so far.
func (b *Bridge) Flush() error {
	return b.nc.Flush()
}

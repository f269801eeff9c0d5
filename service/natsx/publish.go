package natsx

import (
	"encoding/json"
	"strconv"

	"DMProject/tools/errs"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	HeaderVersion = "Dm-Version"
	HeaderKind    = "Dm-Kind"
)

// Publish sends v as JSON to subject, tagging the view version so a
// subscriber can drop anything older than what it already has.
func (b *Bridge) Publish(subject, kind string, version uint64, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errs.ErrInvalidArgument.Because(err, "marshal view", "subject", subject)
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(HeaderVersion, strconv.FormatUint(version, 10))
	msg.Header.Set(HeaderKind, kind)
	if err := b.nc.PublishMsg(msg); err != nil {
		return errs.ErrRequestFailed.Because(err, "publish", "subject", subject)
	}
	return nil
}

// Observer adapts a typed snapshot stream to Publish. Failures are logged;
// a broken bridge never blocks the chat.
func Observer[T any](b *Bridge, subject, kind string, version func(T) uint64) func(T) {
	return func(v T) {
		if err := b.Publish(subject, kind, version(v), v); err != nil {
			b.log.Warn("view publish failed", zap.String("subject", subject), zap.Error(err))
		}
	}
}

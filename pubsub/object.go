package pubsub

import (
	"context"

	rf "github.com/unkn0wn-root/redisflow"
	c "github.com/unkn0wn-root/redisflow/codec"
	"github.com/unkn0wn-root/redisflow/store"
)

// Record is a decoded message. Err is a *redisflow.SerializationError when the
// payload did not decode.
type Record[T any] struct {
	Message store.Message
	Value   T
	Err     error
}

// PublishObject encodes v with codec and publishes it on channel.
func PublishObject[T any](ctx context.Context, b *Broadcaster, channel string, codec c.Codec[T], v T) (int64, error) {
	payload, err := codec.Encode(v)
	if err != nil {
		return 0, &rf.SerializationError{Op: "encode", Source: channel, Err: err}
	}
	return b.Publish(ctx, channel, payload)
}

func ObjectHandler[T any](codec c.Codec[T], fn func(ctx context.Context, r Record[T]) error) Handler {
	return HandlerFunc(func(ctx context.Context, m store.Message) error {
		r := Record[T]{Message: m}
		v, err := codec.Decode(m.Payload)
		if err != nil {
			r.Err = &rf.SerializationError{Op: "decode", Source: m.Channel, Err: err}
		} else {
			r.Value = v
		}
		return fn(ctx, r)
	})
}

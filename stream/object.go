package stream

import (
	"context"
	"errors"

	rf "github.com/unkn0wn-root/redisflow"
	c "github.com/unkn0wn-root/redisflow/codec"
	"github.com/unkn0wn-root/redisflow/store"
)

// PayloadField is the entry field that carries an encoded object body.
const PayloadField = "payload"

var errNoPayload = errors.New("entry has no " + PayloadField + " field")

// Record is a decoded object entry. When the body could not be decoded, Err is a
// *redisflow.SerializationError and Value is the zero value.
type Record[T any] struct {
	Entry store.Entry
	Value T
	Err   error
}

// AppendObject encodes v with codec and appends it to stream under PayloadField.
func AppendObject[T any](ctx context.Context, m *Manager, stream string, codec c.Codec[T], v T) (string, error) {
	b, err := codec.Encode(v)
	if err != nil {
		return "", &rf.SerializationError{Op: "encode", Source: stream, Err: err}
	}
	return m.Append(ctx, stream, map[string]string{PayloadField: string(b)})
}

// ObjectHandler decodes PayloadField of every entry with codec and calls fn.
// A malformed body is passed to fn as Record.Err; it does not stop the consumer.
func ObjectHandler[T any](codec c.Codec[T], fn func(ctx context.Context, r Record[T]) error) Handler {
	return HandlerFunc(func(ctx context.Context, e store.Entry) error {
		r := Record[T]{Entry: e}
		raw, ok := e.Values[PayloadField]
		if !ok {
			r.Err = &rf.SerializationError{Op: "decode", Source: e.Stream + "/" + e.ID, Err: errNoPayload}
			return fn(ctx, r)
		}
		v, err := codec.Decode([]byte(raw))
		if err != nil {
			r.Err = &rf.SerializationError{Op: "decode", Source: e.Stream + "/" + e.ID, Err: err}
			return fn(ctx, r)
		}
		r.Value = v
		return fn(ctx, r)
	})
}

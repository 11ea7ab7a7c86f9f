package demo

import (
	"context"
	"time"

	"github.com/google/uuid"

	rf "github.com/unkn0wn-root/redisflow"
	c "github.com/unkn0wn-root/redisflow/codec"
	"github.com/unkn0wn-root/redisflow/stream"
)

// OrderCodec encodes order bodies on the orders stream.
var OrderCodec c.Codec[Order] = c.Msgpack[Order]{}

// OrderPublisher appends an order of 1000 with a fresh id to the orders stream.
type OrderPublisher struct {
	m *stream.Manager
}

func NewOrderPublisher(m *stream.Manager) *OrderPublisher {
	return &OrderPublisher{m: m}
}

func (p *OrderPublisher) Publish(ctx context.Context) error {
	_, err := stream.AppendObject(ctx, p.m, OrdersStream, OrderCodec, Order{ID: uuid.NewString(), Amount: 1000})
	return err
}

// OrderListener logs every decoded order. Undecodable entries are returned as
// errors so the consumer's error handler sees them.
func OrderListener(log rf.Logger) stream.Handler {
	return stream.ObjectHandler(OrderCodec, func(_ context.Context, r stream.Record[Order]) error {
		if r.Err != nil {
			return r.Err
		}
		log.Info("Receive order : "+r.Value.String(), rf.Fields{"id": r.Entry.ID})
		return nil
	})
}

// OrderReadRequest is the orders consumer: group my-group, consumer consumer-1,
// errors logged as warnings and fatal only with cancelOnError. Without auto-ack,
// entries read but never acked before a restart come back first.
func OrderReadRequest(pollTimeout time.Duration, autoAck, cancelOnError bool, log rf.Logger) stream.ReadRequest {
	return stream.ReadRequest{
		Stream:         OrdersStream,
		Group:          OrdersGroup,
		Consumer:       OrdersConsumer,
		PollTimeout:    pollTimeout,
		AutoAck:        autoAck,
		CancelOnError:  func(error) bool { return cancelOnError },
		ErrorHandler:   func(err error) { log.Warn(err.Error(), nil) },
		ReclaimPending: !autoAck,
	}
}

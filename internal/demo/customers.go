package demo

import (
	"context"

	"github.com/google/uuid"

	rf "github.com/unkn0wn-root/redisflow"
	"github.com/unkn0wn-root/redisflow/pubsub"
	"github.com/unkn0wn-root/redisflow/store"
)

// CustomerPublisher broadcasts "Eko <uuid>" on the customers channel.
type CustomerPublisher struct {
	b *pubsub.Broadcaster
}

func NewCustomerPublisher(b *pubsub.Broadcaster) *CustomerPublisher {
	return &CustomerPublisher{b: b}
}

func (p *CustomerPublisher) Publish(ctx context.Context) error {
	_, err := p.b.Publish(ctx, CustomersChannel, []byte("Eko "+uuid.NewString()))
	return err
}

// CustomerListener logs every customers message.
func CustomerListener(log rf.Logger) pubsub.Handler {
	return pubsub.HandlerFunc(func(_ context.Context, m store.Message) error {
		log.Info("Receive message : "+string(m.Payload), rf.Fields{"channel": m.Channel})
		return nil
	})
}

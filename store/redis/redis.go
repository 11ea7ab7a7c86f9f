package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/redisflow/store"
)

var ErrNilClient = errors.New("redis store: nil client")

// Redis implements store.Streams and store.PubSub on a go-redis client.
type Redis struct {
	rdb         goredis.UniversalClient
	closeClient bool
}

var (
	_ store.Streams = (*Redis)(nil)
	_ store.PubSub  = (*Redis)(nil)
)

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if the store exclusively owns the client
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Redis{rdb: cfg.Client, closeClient: cfg.CloseClient}, nil
}

func (r *Redis) XAdd(ctx context.Context, stream string, values map[string]string) (string, error) {
	vals := make(map[string]any, len(values))
	for k, v := range values {
		vals[k] = v
	}
	return r.rdb.XAdd(ctx, &goredis.XAddArgs{Stream: stream, Values: vals}).Result()
}

func (r *Redis) XGroupCreate(ctx context.Context, stream, group string) error {
	err := r.rdb.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return store.ErrGroupExists
	}
	return err
}

func (r *Redis) XReadGroup(ctx context.Context, args store.ReadArgs) ([]store.Entry, error) {
	id := args.ID
	if id == "" {
		id = ">"
	}
	block := args.Block
	if block <= 0 {
		block = -1 // go-redis: negative omits BLOCK; 0 would block forever
	}
	res, err := r.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    args.Group,
		Consumer: args.Consumer,
		Streams:  []string{args.Stream, id},
		Count:    args.Count,
		Block:    block,
	}).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []store.Entry
	for _, s := range res {
		out = appendEntries(out, s.Stream, s.Messages)
	}
	return out, nil
}

func (r *Redis) XAck(ctx context.Context, stream, group string, ids ...string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return r.rdb.XAck(ctx, stream, group, ids...).Result()
}

func (r *Redis) XAutoClaim(ctx context.Context, args store.ClaimArgs) ([]store.Entry, string, error) {
	start := args.Start
	if start == "" {
		start = "0-0"
	}
	msgs, next, err := r.rdb.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
		Stream:   args.Stream,
		Group:    args.Group,
		Consumer: args.Consumer,
		MinIdle:  args.MinIdle,
		Start:    start,
		Count:    args.Count,
	}).Result()
	if err != nil {
		return nil, "", err
	}
	return appendEntries(nil, args.Stream, msgs), next, nil
}

func (r *Redis) XPending(ctx context.Context, stream, group string) (store.PendingSummary, error) {
	p, err := r.rdb.XPending(ctx, stream, group).Result()
	if err != nil {
		return store.PendingSummary{}, err
	}
	return store.PendingSummary{Count: p.Count, Lower: p.Lower, Higher: p.Higher, Consumers: p.Consumers}, nil
}

func (r *Redis) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	return r.rdb.Publish(ctx, channel, payload).Result()
}

func (r *Redis) Subscribe(ctx context.Context, channels ...string) (store.Subscription, error) {
	if len(channels) == 0 {
		return nil, errors.New("redis store: no channels")
	}
	return confirm(ctx, r.rdb.Subscribe(ctx, channels...), len(channels))
}

func (r *Redis) PSubscribe(ctx context.Context, patterns ...string) (store.Subscription, error) {
	if len(patterns) == 0 {
		return nil, errors.New("redis store: no patterns")
	}
	return confirm(ctx, r.rdb.PSubscribe(ctx, patterns...), len(patterns))
}

func (r *Redis) Close() error {
	if r.closeClient {
		return r.rdb.Close()
	}
	return nil
}

// confirm waits for one subscribe reply per channel, so a publish issued after
// it returns is seen by this subscription.
func confirm(ctx context.Context, ps *goredis.PubSub, n int) (store.Subscription, error) {
	for i := 0; i < n; i++ {
		msg, err := ps.Receive(ctx)
		if err != nil {
			_ = ps.Close()
			return nil, err
		}
		if _, ok := msg.(*goredis.Subscription); !ok {
			_ = ps.Close()
			return nil, fmt.Errorf("redis store: unexpected reply %T while subscribing", msg)
		}
	}
	s := &subscription{ps: ps, out: make(chan store.Message), done: make(chan struct{})}
	s.wg.Add(1)
	go s.forward(ps.Channel())
	return s, nil
}

type subscription struct {
	ps        *goredis.PubSub
	out       chan store.Message
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

func (s *subscription) Messages() <-chan store.Message { return s.out }

func (s *subscription) forward(in <-chan *goredis.Message) {
	defer s.wg.Done()
	defer close(s.out)
	for {
		select {
		case m, ok := <-in:
			if !ok {
				return
			}
			msg := store.Message{Channel: m.Channel, Pattern: m.Pattern, Payload: []byte(m.Payload)}
			select {
			case s.out <- msg:
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.closeErr = s.ps.Close()
		s.wg.Wait()
	})
	return s.closeErr
}

func appendEntries(out []store.Entry, stream string, msgs []goredis.XMessage) []store.Entry {
	for _, m := range msgs {
		vals := make(map[string]string, len(m.Values))
		for k, v := range m.Values {
			switch t := v.(type) {
			case string:
				vals[k] = t
			case nil:
				vals[k] = ""
			default:
				vals[k] = fmt.Sprint(t)
			}
		}
		out = append(out, store.Entry{Stream: stream, ID: m.ID, Values: vals})
	}
	return out
}

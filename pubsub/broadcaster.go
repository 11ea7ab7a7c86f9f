// Package pubsub broadcasts fire-and-forget messages over Redis channels.
//
// Delivery is at-most-once: a subscriber only sees messages published after its
// Subscribe call returned, and nothing is replayed. Every subscription has one
// delivery goroutine, so its handler sees messages one at a time in the order
// the store delivered them.
package pubsub

import (
	"context"
	"fmt"
	"sync"

	rf "github.com/unkn0wn-root/redisflow"
	"github.com/unkn0wn-root/redisflow/internal/util"
	"github.com/unkn0wn-root/redisflow/store"
)

type Handler interface {
	Handle(ctx context.Context, m store.Message) error
}

type HandlerFunc func(ctx context.Context, m store.Message) error

func (f HandlerFunc) Handle(ctx context.Context, m store.Message) error { return f(ctx, m) }

type Options struct {
	Client store.PubSub // required
	Logger rf.Logger    // nil => NopLogger
	Hooks  rf.Hooks     // nil => NopHooks
}

type Broadcaster struct {
	client store.PubSub
	log    rf.Logger
	hooks  rf.Hooks

	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	runCtx  context.Context
	stopped bool
}

func New(opts Options) (*Broadcaster, error) {
	if opts.Client == nil {
		return nil, &rf.ConfigError{Field: "Client", Reason: "required"}
	}
	return &Broadcaster{
		client: opts.Client,
		log:    util.Coalesce[rf.Logger](opts.Logger, rf.NopLogger{}),
		hooks:  util.Coalesce[rf.Hooks](opts.Hooks, rf.NopHooks{}),
		subs:   make(map[*Subscription]struct{}),
	}, nil
}

// Publish sends payload to channel and returns how many subscribers the store
// handed it to. Zero receivers is not an error.
func (b *Broadcaster) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	if channel == "" {
		return 0, &rf.ConfigError{Field: "channel", Reason: "required"}
	}
	n, err := b.client.Publish(ctx, channel, payload)
	if err != nil {
		return 0, &rf.StoreError{Op: "publish", Key: channel, Err: err}
	}
	return n, nil
}

// Subscribe registers h for every channel matching pattern (PSUBSCRIBE).
// A plain name without glob characters matches only itself.
func (b *Broadcaster) Subscribe(ctx context.Context, pattern string, h Handler) (*Subscription, error) {
	return b.subscribe(ctx, pattern, true, h)
}

// SubscribeChannel registers h for exactly one channel (SUBSCRIBE).
func (b *Broadcaster) SubscribeChannel(ctx context.Context, channel string, h Handler) (*Subscription, error) {
	return b.subscribe(ctx, channel, false, h)
}

func (b *Broadcaster) subscribe(ctx context.Context, topic string, pattern bool, h Handler) (*Subscription, error) {
	if topic == "" {
		return nil, &rf.ConfigError{Field: "channel", Reason: "required"}
	}
	if h == nil {
		return nil, &rf.ConfigError{Field: "handler", Reason: "required"}
	}
	b.mu.Lock()
	stopped := b.stopped
	b.mu.Unlock()
	if stopped {
		return nil, rf.ErrStopped
	}

	var (
		ss  store.Subscription
		err error
	)
	if pattern {
		ss, err = b.client.PSubscribe(ctx, topic)
	} else {
		ss, err = b.client.Subscribe(ctx, topic)
	}
	if err != nil {
		return nil, &rf.StoreError{Op: "subscribe", Key: topic, Err: err}
	}

	s := &Subscription{b: b, topic: topic, ss: ss, h: h, source: "pubsub:" + topic, done: make(chan struct{})}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		_ = ss.Close()
		return nil, rf.ErrStopped
	}
	b.subs[s] = struct{}{}
	if b.runCtx != nil {
		s.start(b.runCtx)
	}
	b.log.Debug("pubsub subscribed", rf.Fields{"topic": topic, "pattern": pattern})
	return s, nil
}

// Start begins delivery for every subscription. Messages that arrived for a
// subscription before Start are delivered first.
func (b *Broadcaster) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return rf.ErrStopped
	}
	if b.runCtx != nil {
		return nil
	}
	b.runCtx = context.WithoutCancel(ctx)
	for s := range b.subs {
		s.start(b.runCtx)
	}
	b.log.Info("pubsub broadcaster started", rf.Fields{"subscriptions": len(b.subs)})
	return nil
}

// Stop closes every subscription and waits for in-flight handlers (or ctx).
func (b *Broadcaster) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	subs := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = map[*Subscription]struct{}{}
	b.mu.Unlock()

	for _, s := range subs {
		_ = s.close()
	}
	for _, s := range subs {
		select {
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	b.log.Info("pubsub broadcaster stopped", nil)
	return nil
}

func (b *Broadcaster) remove(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

// Subscription is one registered handler.
type Subscription struct {
	b      *Broadcaster
	topic  string
	ss     store.Subscription
	h      Handler
	source string

	mu      sync.Mutex
	started bool
	closed  bool
	done    chan struct{}
}

func (s *Subscription) Topic() string { return s.topic }

// Done is closed after the delivery goroutine has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close unsubscribes. The message being handled, if any, completes; Done
// reports when it has. Safe to call from the subscription's own handler.
func (s *Subscription) Close() error {
	s.b.remove(s)
	return s.close()
}

func (s *Subscription) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.ss.Close()
	if !s.started {
		close(s.done)
	}
	return err
}

func (s *Subscription) start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true
	go s.deliver(ctx)
}

func (s *Subscription) deliver(ctx context.Context) {
	defer close(s.done)
	for m := range s.ss.Messages() {
		s.b.hooks.MessageReceived(m.Channel)
		if err := s.handle(ctx, m); err != nil {
			s.b.hooks.HandlerFailed(s.source, err)
			s.b.log.Warn("pubsub handler failed", rf.Fields{"source": s.source, "channel": m.Channel, "err": err})
		}
	}
}

func (s *Subscription) handle(ctx context.Context, m store.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &rf.HandlerError{Source: s.source, ID: m.Channel, Err: fmt.Errorf("%w: %v", rf.ErrHandlerPanic, r)}
		}
	}()
	if herr := s.h.Handle(ctx, m); herr != nil {
		return &rf.HandlerError{Source: s.source, ID: m.Channel, Err: herr}
	}
	return nil
}

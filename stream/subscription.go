package stream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	rf "github.com/unkn0wn-root/redisflow"
	"github.com/unkn0wn-root/redisflow/store"
)

// ReadRequest describes one consumer of a consumer group.
type ReadRequest struct {
	Stream   string
	Group    string
	Consumer string

	PollTimeout time.Duration // BLOCK per poll; 0 => manager default
	BatchSize   int64         // COUNT per poll; 0 => manager default

	// AutoAck acknowledges entries as soon as the read returns them, before the
	// handler runs. Without it the handler (or caller) acks via Subscription.Ack.
	AutoAck bool

	// CancelOnError is asked about every poll, ack and handler error.
	// Returning true stops this consumer. nil => never cancel.
	CancelOnError func(error) bool

	// ErrorHandler receives every error of this consumer. nil => log at Warn.
	ErrorHandler func(error)

	// ReclaimPending re-delivers this consumer's own pending entries first
	// (entries read but never acked before a restart).
	ReclaimPending bool

	// EnsureGroup creates the group (and stream) before the first poll.
	EnsureGroup bool
}

// Handler processes one stream entry. Entries of one consumer are handled
// sequentially, in stream order.
type Handler interface {
	Handle(ctx context.Context, e store.Entry) error
}

type HandlerFunc func(ctx context.Context, e store.Entry) error

func (f HandlerFunc) Handle(ctx context.Context, e store.Entry) error { return f(ctx, e) }

type State int32

const (
	Idle State = iota
	Polling
	Dispatching
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Polling:
		return "polling"
	case Dispatching:
		return "dispatching"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Subscription is a registered consumer.
type Subscription struct {
	m      *Manager
	req    ReadRequest
	h      Handler
	source string

	state atomic.Int32

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool
	done    chan struct{}
	err     error
}

func newSubscription(m *Manager, req ReadRequest, h Handler) *Subscription {
	return &Subscription{m: m, req: req, h: h, source: sourceOf(req), done: make(chan struct{})}
}

func sourceOf(req ReadRequest) string {
	return "stream:" + req.Stream + "/" + req.Group + "/" + req.Consumer
}

func (s *Subscription) Stream() string   { return s.req.Stream }
func (s *Subscription) Group() string    { return s.req.Group }
func (s *Subscription) Consumer() string { return s.req.Consumer }
func (s *Subscription) State() State     { return State(s.state.Load()) }

// Done is closed once the consumer loop has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns the error that made CancelOnError stop the loop, if any.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Ack acknowledges ids for this consumer's group.
func (s *Subscription) Ack(ctx context.Context, ids ...string) error {
	return s.m.Ack(ctx, s.req.Stream, s.req.Group, ids...)
}

func (s *Subscription) start(parent context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.ctx, s.cancel = context.WithCancel(parent)
	s.started = true
	go s.run(s.ctx, s.cancel)
}

func (s *Subscription) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	if s.started {
		s.cancel()
		return
	}
	s.state.Store(int32(Stopped))
	close(s.done)
}

func (s *Subscription) wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Subscription) run(ctx context.Context, cancel context.CancelFunc) {
	defer close(s.done)
	defer s.state.Store(int32(Stopped))
	// a loop that exits on its own must still detach from the manager's context
	defer cancel()

	log := s.m.log
	fields := rf.Fields{"stream": s.req.Stream, "group": s.req.Group, "consumer": s.req.Consumer}
	log.Debug("stream consumer loop started", fields)
	defer log.Debug("stream consumer loop exited", fields)

	// handlers finish their entry even when the loop is being stopped
	hctx := context.WithoutCancel(ctx)

	needGroup := s.req.EnsureGroup
	cursor := ">"
	if s.req.ReclaimPending {
		cursor = "0"
	}

	for ctx.Err() == nil {
		if needGroup {
			if err := s.m.EnsureGroup(ctx, s.req.Stream, s.req.Group); err != nil {
				if s.fail(ctx, err) || !s.pause(ctx) {
					return
				}
				continue
			}
			needGroup = false
		}

		s.state.Store(int32(Polling))
		entries, err := s.m.client.XReadGroup(ctx, store.ReadArgs{
			Stream:   s.req.Stream,
			Group:    s.req.Group,
			Consumer: s.req.Consumer,
			ID:       cursor,
			Count:    s.req.BatchSize,
			Block:    s.req.PollTimeout,
		})
		s.state.Store(int32(Idle))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if s.req.EnsureGroup && strings.HasPrefix(err.Error(), "NOGROUP") {
				needGroup = true
			}
			serr := &rf.StoreError{Op: "xreadgroup", Key: s.req.Stream, Err: err}
			s.m.hooks.PollFailed(s.req.Stream, s.req.Group, s.req.Consumer, serr)
			if s.fail(ctx, serr) || !s.pause(ctx) {
				return
			}
			continue
		}

		if cursor != ">" {
			if len(entries) == 0 {
				cursor = ">"
				continue
			}
			cursor = entries[len(entries)-1].ID
		}
		if len(entries) == 0 {
			continue
		}

		if s.dispatch(ctx, hctx, entries) {
			return
		}
	}
}

// dispatch hands a batch to the handler in order. It reports whether the loop
// must terminate.
func (s *Subscription) dispatch(ctx, hctx context.Context, entries []store.Entry) bool {
	s.state.Store(int32(Dispatching))
	defer s.state.Store(int32(Idle))

	s.m.hooks.EntriesDelivered(s.req.Stream, s.req.Group, s.req.Consumer, len(entries))

	if s.req.AutoAck {
		ids := make([]string, len(entries))
		for i, e := range entries {
			ids[i] = e.ID
		}
		if err := s.m.Ack(hctx, s.req.Stream, s.req.Group, ids...); err != nil {
			s.m.hooks.PollFailed(s.req.Stream, s.req.Group, s.req.Consumer, err)
			if s.fail(ctx, err) {
				return true
			}
		}
	}

	for _, e := range entries {
		if err := s.handle(hctx, e); err != nil {
			s.m.hooks.HandlerFailed(s.source, err)
			if s.fail(ctx, err) {
				return true
			}
		}
	}
	return false
}

func (s *Subscription) handle(ctx context.Context, e store.Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &rf.HandlerError{Source: s.source, ID: e.ID, Err: fmt.Errorf("%w: %v", rf.ErrHandlerPanic, r)}
		}
	}()
	if herr := s.h.Handle(ctx, e); herr != nil {
		return &rf.HandlerError{Source: s.source, ID: e.ID, Err: herr}
	}
	return nil
}

// fail reports err and reports whether the consumer should stop.
func (s *Subscription) fail(ctx context.Context, err error) bool {
	if s.req.ErrorHandler != nil {
		s.req.ErrorHandler(err)
	} else {
		s.m.log.Warn("stream consumer error", rf.Fields{"source": s.source, "err": err})
	}
	if s.req.CancelOnError == nil || !s.req.CancelOnError(err) {
		return false
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.m.remove(s)
	s.m.log.Warn("stream consumer cancelled on error", rf.Fields{"source": s.source, "err": err})
	return true
}

// pause waits out the error backoff. It returns false when ctx ended first.
func (s *Subscription) pause(ctx context.Context) bool {
	d := s.m.backoff
	if d > s.req.PollTimeout {
		d = s.req.PollTimeout
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

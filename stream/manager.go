// Package stream delivers Redis stream entries to handlers through consumer
// groups. Each registered consumer runs its own poll loop:
//
//	Idle -> Polling -> Dispatching -> Idle
//
// and leaves it (Stopped) only when unregistered, when the manager stops, or
// when the request's CancelOnError decides an error is fatal.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	rf "github.com/unkn0wn-root/redisflow"
	"github.com/unkn0wn-root/redisflow/internal/util"
	"github.com/unkn0wn-root/redisflow/store"
)

const (
	defaultPollTimeout  = 5 * time.Second
	defaultBatchSize    = 10
	defaultErrorBackoff = time.Second
)

type Options struct {
	Client store.Streams // required
	Logger rf.Logger     // nil => NopLogger
	Hooks  rf.Hooks      // nil => NopHooks

	DefaultPollTimeout time.Duration // BLOCK for requests that leave PollTimeout at 0; 0 => 5s
	DefaultBatchSize   int64         // COUNT for requests that leave BatchSize at 0; 0 => 10
	ErrorBackoff       time.Duration // pause after a failed poll, capped at the poll timeout; 0 => 1s
}

// Manager owns the consumer registry and the per-consumer loops.
type Manager struct {
	client  store.Streams
	log     rf.Logger
	hooks   rf.Hooks
	poll    time.Duration
	batch   int64
	backoff time.Duration

	mu        sync.Mutex
	consumers map[consumerKey]*Subscription
	runCtx    context.Context
	cancel    context.CancelFunc
	stopped   bool
}

type consumerKey struct{ stream, group, consumer string }

func NewManager(opts Options) (*Manager, error) {
	if opts.Client == nil {
		return nil, &rf.ConfigError{Field: "Client", Reason: "required"}
	}
	if opts.DefaultPollTimeout < 0 {
		return nil, &rf.ConfigError{Field: "DefaultPollTimeout", Reason: "must not be negative"}
	}
	if opts.DefaultBatchSize < 0 {
		return nil, &rf.ConfigError{Field: "DefaultBatchSize", Reason: "must not be negative"}
	}
	return &Manager{
		client:    opts.Client,
		log:       util.Coalesce[rf.Logger](opts.Logger, rf.NopLogger{}),
		hooks:     util.Coalesce[rf.Hooks](opts.Hooks, rf.NopHooks{}),
		poll:      util.Coalesce(opts.DefaultPollTimeout, defaultPollTimeout),
		batch:     util.Coalesce(opts.DefaultBatchSize, int64(defaultBatchSize)),
		backoff:   util.Coalesce(opts.ErrorBackoff, defaultErrorBackoff),
		consumers: make(map[consumerKey]*Subscription),
	}, nil
}

// EnsureGroup creates group on stream at the current tail, creating the stream
// when missing. Calling it for an existing group is a no-op.
func (m *Manager) EnsureGroup(ctx context.Context, stream, group string) error {
	if stream == "" || group == "" {
		return &rf.ConfigError{Field: "stream/group", Reason: "required"}
	}
	err := m.client.XGroupCreate(ctx, stream, group)
	if err == nil || errors.Is(err, store.ErrGroupExists) {
		return nil
	}
	return &rf.StoreError{Op: "xgroup create", Key: stream + "/" + group, Err: err}
}

// Register validates req and adds a consumer. Before Start the consumer waits;
// after Start its loop begins immediately.
func (m *Manager) Register(req ReadRequest, h Handler) (*Subscription, error) {
	if h == nil {
		return nil, &rf.ConfigError{Field: "handler", Reason: "required"}
	}
	req, err := m.normalize(req)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil, rf.ErrStopped
	}
	key := consumerKey{req.Stream, req.Group, req.Consumer}
	if _, dup := m.consumers[key]; dup {
		return nil, &rf.ConfigError{Field: "consumer", Reason: fmt.Sprintf("%s already registered", sourceOf(req))}
	}
	s := newSubscription(m, req, h)
	m.consumers[key] = s
	if m.runCtx != nil {
		s.start(m.runCtx)
	}
	m.log.Debug("stream consumer registered", rf.Fields{"stream": req.Stream, "group": req.Group, "consumer": req.Consumer})
	return s, nil
}

func (m *Manager) normalize(req ReadRequest) (ReadRequest, error) {
	switch {
	case req.Stream == "":
		return req, &rf.ConfigError{Field: "Stream", Reason: "required"}
	case req.Group == "":
		return req, &rf.ConfigError{Field: "Group", Reason: "required"}
	case req.Consumer == "":
		return req, &rf.ConfigError{Field: "Consumer", Reason: "required"}
	case req.PollTimeout < 0:
		return req, &rf.ConfigError{Field: "PollTimeout", Reason: "must be positive"}
	case req.BatchSize < 0:
		return req, &rf.ConfigError{Field: "BatchSize", Reason: "must not be negative"}
	}
	req.PollTimeout = util.Coalesce(req.PollTimeout, m.poll)
	req.BatchSize = util.Coalesce(req.BatchSize, m.batch)
	return req, nil
}

// Start launches every registered consumer. Loops run until Stop; ctx only
// carries values and a parent cancellation.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return rf.ErrStopped
	}
	if m.runCtx != nil {
		return nil
	}
	m.runCtx, m.cancel = context.WithCancel(ctx)
	for _, s := range m.consumers {
		s.start(m.runCtx)
	}
	m.log.Info("stream manager started", rf.Fields{"consumers": len(m.consumers)})
	return nil
}

// Stop signals every loop and waits for in-flight cycles to finish, or for ctx.
// Entries awaiting manual ack stay pending in their group.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	subs := make([]*Subscription, 0, len(m.consumers))
	for k, s := range m.consumers {
		subs = append(subs, s)
		delete(m.consumers, k)
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
	for _, s := range subs {
		if err := s.wait(ctx); err != nil {
			return err
		}
	}
	m.log.Info("stream manager stopped", nil)
	return nil
}

// Unregister stops one consumer and waits for its loop to exit (or ctx).
// Unregistering twice is a no-op.
func (m *Manager) Unregister(ctx context.Context, s *Subscription) error {
	if s == nil {
		return nil
	}
	m.remove(s)
	s.stop()
	return s.wait(ctx)
}

func (m *Manager) remove(s *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := consumerKey{s.req.Stream, s.req.Group, s.req.Consumer}
	if cur, ok := m.consumers[key]; ok && cur == s {
		delete(m.consumers, key)
	}
}

// Append adds an entry to stream and returns its ID.
func (m *Manager) Append(ctx context.Context, stream string, values map[string]string) (string, error) {
	if stream == "" {
		return "", &rf.ConfigError{Field: "stream", Reason: "required"}
	}
	if len(values) == 0 {
		return "", &rf.ConfigError{Field: "values", Reason: "at least one field required"}
	}
	id, err := m.client.XAdd(ctx, stream, values)
	if err != nil {
		return "", &rf.StoreError{Op: "xadd", Key: stream, Err: err}
	}
	return id, nil
}

// Ack acknowledges ids for group. Acking an ID that is not pending is a no-op.
func (m *Manager) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := m.client.XAck(ctx, stream, group, ids...); err != nil {
		return &rf.StoreError{Op: "xack", Key: stream + "/" + group, Err: err}
	}
	return nil
}

// ClaimRequest selects stalled entries to move to Consumer.
type ClaimRequest struct {
	Stream   string
	Group    string
	Consumer string
	MinIdle  time.Duration // only entries idle at least this long
	Count    int           // 0 => all
}

// Claim walks the group's pending list and transfers entries idle for at least
// MinIdle to Consumer (XAUTOCLAIM). The claimed entries are returned in PEL order;
// they are not dispatched or acked.
func (m *Manager) Claim(ctx context.Context, req ClaimRequest) ([]store.Entry, error) {
	if req.Stream == "" || req.Group == "" || req.Consumer == "" {
		return nil, &rf.ConfigError{Field: "claim", Reason: "stream, group and consumer required"}
	}
	if req.MinIdle < 0 || req.Count < 0 {
		return nil, &rf.ConfigError{Field: "claim", Reason: "MinIdle and Count must not be negative"}
	}
	var (
		out    []store.Entry
		cursor = "0-0"
	)
	for {
		page := m.batch
		if req.Count > 0 {
			page = int64(req.Count - len(out))
		}
		entries, next, err := m.client.XAutoClaim(ctx, store.ClaimArgs{
			Stream:   req.Stream,
			Group:    req.Group,
			Consumer: req.Consumer,
			MinIdle:  req.MinIdle,
			Start:    cursor,
			Count:    page,
		})
		if err != nil {
			return out, &rf.StoreError{Op: "xautoclaim", Key: req.Stream + "/" + req.Group, Err: err}
		}
		out = append(out, entries...)
		if next == "0-0" || next == "" || (req.Count > 0 && len(out) >= req.Count) {
			return out, nil
		}
		cursor = next
	}
}

// Pending returns the group's pending-entries summary.
func (m *Manager) Pending(ctx context.Context, stream, group string) (store.PendingSummary, error) {
	p, err := m.client.XPending(ctx, stream, group)
	if err != nil {
		return store.PendingSummary{}, &rf.StoreError{Op: "xpending", Key: stream + "/" + group, Err: err}
	}
	return p, nil
}

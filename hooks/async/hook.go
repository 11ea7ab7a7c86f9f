// Package asynchook moves hook calls off delivery paths onto a small worker pool.
// Events are dropped when the queue is full.
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{SelfHealEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	m, _ := stream.NewManager(stream.Options{Client: st, Hooks: hooks})
package asynchook

import (
	"sync"
	"sync/atomic"

	rf "github.com/unkn0wn-root/redisflow"
)

type Hooks struct {
	inner rf.Hooks
	q     chan func()
	wg    sync.WaitGroup

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ rf.Hooks = (*Hooks)(nil)

func New(inner rf.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events after Close are dropped.
func (h *Hooks) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.q)
	h.mu.Unlock()
	h.wg.Wait()
}

// Dropped reports how many events were discarded.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) CacheHit(c string)                 { h.try(func() { h.inner.CacheHit(c) }) }
func (h *Hooks) CacheMiss(c string)                { h.try(func() { h.inner.CacheMiss(c) }) }
func (h *Hooks) SelfHeal(k, r string)              { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) ProviderSetRejected(k string)      { h.try(func() { h.inner.ProviderSetRejected(k) }) }
func (h *Hooks) GenError(k string, err error)      { h.try(func() { h.inner.GenError(k, err) }) }
func (h *Hooks) MessageReceived(ch string)         { h.try(func() { h.inner.MessageReceived(ch) }) }
func (h *Hooks) HandlerFailed(s string, err error) { h.try(func() { h.inner.HandlerFailed(s, err) }) }
func (h *Hooks) TaskSkipped(task string)           { h.try(func() { h.inner.TaskSkipped(task) }) }
func (h *Hooks) EvictOutage(k string, be, de error) {
	h.try(func() { h.inner.EvictOutage(k, be, de) })
}
func (h *Hooks) EntriesDelivered(s, g, c string, n int) {
	h.try(func() { h.inner.EntriesDelivered(s, g, c, n) })
}
func (h *Hooks) PollFailed(s, g, c string, err error) {
	h.try(func() { h.inner.PollFailed(s, g, c, err) })
}

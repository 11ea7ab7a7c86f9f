// Package schedule runs named tasks at a fixed rate.
//
// Every task gets its own goroutine and ticker, so a slow task never delays
// another one. A task never overlaps itself: firings that come due while it is
// still running collapse into one late run, and the rest are dropped and
// reported through Hooks.TaskSkipped. Stop ends the tickers; a run already in
// progress keeps a live context and is allowed to finish.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	rf "github.com/unkn0wn-root/redisflow"
	"github.com/unkn0wn-root/redisflow/internal/util"
)

// Task is one invocation. ctx carries the Start context's values but is not
// cancelled by Stop.
type Task func(ctx context.Context) error

type Options struct {
	Logger rf.Logger // nil => NopLogger
	Hooks  rf.Hooks  // nil => NopHooks
}

type Scheduler struct {
	log   rf.Logger
	hooks rf.Hooks

	mu      sync.Mutex
	tasks   map[string]*entry
	runCtx  context.Context
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
}

type entry struct {
	name   string
	period time.Duration
	fn     Task
}

func New(opts Options) *Scheduler {
	return &Scheduler{
		log:   util.Coalesce[rf.Logger](opts.Logger, rf.NopLogger{}),
		hooks: util.Coalesce[rf.Hooks](opts.Hooks, rf.NopHooks{}),
		tasks: make(map[string]*entry),
	}
}

// Schedule adds a task. The first run happens one period after Start, or one
// period after this call when the scheduler is already running.
func (s *Scheduler) Schedule(name string, period time.Duration, fn Task) error {
	switch {
	case name == "":
		return &rf.ConfigError{Field: "task name", Reason: "required"}
	case period <= 0:
		return &rf.ConfigError{Field: "period", Reason: fmt.Sprintf("task %q: must be positive, got %s", name, period)}
	case fn == nil:
		return &rf.ConfigError{Field: "task", Reason: fmt.Sprintf("task %q: nil func", name)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return rf.ErrStopped
	}
	if _, dup := s.tasks[name]; dup {
		return &rf.ConfigError{Field: "task name", Reason: fmt.Sprintf("%q already scheduled", name)}
	}
	e := &entry{name: name, period: period, fn: fn}
	s.tasks[name] = e
	if s.runCtx != nil {
		s.launch(e)
	}
	return nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return rf.ErrStopped
	}
	if s.runCtx != nil {
		return nil
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)
	for _, e := range s.tasks {
		s.launch(e)
	}
	s.log.Info("scheduler started", rf.Fields{"tasks": len(s.tasks)})
	return nil
}

// Stop prevents further runs and waits for in-flight ones, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("scheduler stopped", nil)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// launch must be called with s.mu held.
func (s *Scheduler) launch(e *entry) {
	s.wg.Add(1)
	go s.loop(s.runCtx, e)
}

func (s *Scheduler) loop(ctx context.Context, e *entry) {
	defer s.wg.Done()
	t := time.NewTicker(e.period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			// both cases may be ready at once
			if ctx.Err() != nil {
				return
			}
			began := time.Now()
			s.run(context.WithoutCancel(ctx), e)
			// one late firing is kept in the ticker channel; the rest were dropped
			if missed := int(time.Since(began)/e.period) - 1; missed > 0 {
				for i := 0; i < missed; i++ {
					s.hooks.TaskSkipped(e.name)
				}
				s.log.Debug("scheduled firings skipped", rf.Fields{"task": e.name, "skipped": missed})
			}
		}
	}
}

func (s *Scheduler) run(ctx context.Context, e *entry) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", rf.ErrHandlerPanic, r)
			}
		}()
		return e.fn(ctx)
	}()
	if err == nil {
		return
	}
	herr := &rf.HandlerError{Source: "schedule:" + e.name, Err: err}
	s.hooks.HandlerFailed(herr.Source, herr)
	s.log.Warn("scheduled task failed", rf.Fields{"task": e.name, "err": err})
}

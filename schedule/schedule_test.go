package schedule

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	rf "github.com/unkn0wn-root/redisflow"
)

type taskHooks struct {
	rf.NopHooks
	skipped  atomic.Int64
	mu       sync.Mutex
	failures []error
}

func (h *taskHooks) TaskSkipped(string) { h.skipped.Add(1) }

func (h *taskHooks) HandlerFailed(_ string, err error) {
	h.mu.Lock()
	h.failures = append(h.failures, err)
	h.mu.Unlock()
}

func stopNow(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestFirstRunAfterOnePeriod(t *testing.T) {
	s := New(Options{})
	first := make(chan time.Time, 1)
	if err := s.Schedule("customer-publisher", 80*time.Millisecond, func(context.Context) error {
		select {
		case first <- time.Now():
		default:
		}
		return nil
	}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	started := time.Now()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopNow(t, s)

	select {
	case at := <-first:
		if d := at.Sub(started); d < 70*time.Millisecond {
			t.Fatalf("first run after %v, want about one period", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("task never ran")
	}
}

func TestSlowTaskDoesNotDelayOthers(t *testing.T) {
	s := New(Options{})
	release := make(chan struct{})
	var fast atomic.Int64

	if err := s.Schedule("slow", 10*time.Millisecond, func(context.Context) error {
		<-release
		return nil
	}); err != nil {
		t.Fatalf("Schedule slow: %v", err)
	}
	if err := s.Schedule("fast", 10*time.Millisecond, func(context.Context) error {
		fast.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Schedule fast: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	close(release)
	stopNow(t, s)

	if n := fast.Load(); n < 5 {
		t.Fatalf("fast task ran %d times while slow task blocked", n)
	}
}

func TestNothingRunsAfterStop(t *testing.T) {
	s := New(Options{})
	var runs atomic.Int64
	if err := s.Schedule("order-publisher", 10*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	stopNow(t, s)

	after := runs.Load()
	if after == 0 {
		t.Fatalf("task never ran before Stop")
	}
	time.Sleep(60 * time.Millisecond)
	if runs.Load() != after {
		t.Fatalf("task ran after Stop: %d -> %d", after, runs.Load())
	}
}

func TestOverrunsAreSkippedNotOverlapped(t *testing.T) {
	hooks := &taskHooks{}
	s := New(Options{Hooks: hooks})

	var active, maxActive, runs atomic.Int64
	if err := s.Schedule("overrun", 10*time.Millisecond, func(context.Context) error {
		n := active.Add(1)
		defer active.Add(-1)
		if n > maxActive.Load() {
			maxActive.Store(n)
		}
		if runs.Add(1) == 1 {
			time.Sleep(60 * time.Millisecond)
		}
		return nil
	}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	stopNow(t, s)

	if maxActive.Load() != 1 {
		t.Fatalf("task overlapped itself: max concurrent %d", maxActive.Load())
	}
	if hooks.skipped.Load() == 0 {
		t.Fatalf("expected skipped firings to be reported")
	}
}

func TestFailuresDoNotStopTheSchedule(t *testing.T) {
	hooks := &taskHooks{}
	s := New(Options{Hooks: hooks})
	var runs atomic.Int64
	done := make(chan struct{})
	if err := s.Schedule("flaky", 10*time.Millisecond, func(context.Context) error {
		switch runs.Add(1) {
		case 1:
			return errors.New("store down")
		case 2:
			panic("bad task")
		case 3:
			close(done)
		}
		return nil
	}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("schedule stopped after a failure")
	}
	stopNow(t, s)

	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	if len(hooks.failures) != 2 {
		t.Fatalf("failures = %v", hooks.failures)
	}
	var he *rf.HandlerError
	if !errors.As(hooks.failures[0], &he) || he.Source != "schedule:flaky" {
		t.Fatalf("failure should be a HandlerError: %#v", hooks.failures[0])
	}
	if !errors.Is(hooks.failures[1], rf.ErrHandlerPanic) {
		t.Fatalf("panic should wrap ErrHandlerPanic: %v", hooks.failures[1])
	}
}

func TestStopWaitsForInFlightRun(t *testing.T) {
	s := New(Options{})
	started := make(chan struct{})
	var finished atomic.Bool
	var once sync.Once
	var lateErr error
	if err := s.Schedule("long", 10*time.Millisecond, func(ctx context.Context) error {
		once.Do(func() { close(started) })
		time.Sleep(50 * time.Millisecond)
		lateErr = ctx.Err()
		finished.Store(true)
		return nil
	}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-started
	stopNow(t, s)
	if !finished.Load() {
		t.Fatalf("Stop returned before the in-flight run finished")
	}
	if lateErr != nil {
		t.Fatalf("in-flight run saw its context cancelled by Stop: %v", lateErr)
	}
}

func TestScheduleAfterStartRuns(t *testing.T) {
	s := New(Options{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopNow(t, s)
	ran := make(chan struct{}, 1)
	if err := s.Schedule("late", 10*time.Millisecond, func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatalf("task scheduled after Start never ran")
	}
}

func TestScheduleValidation(t *testing.T) {
	s := New(Options{})
	noop := func(context.Context) error { return nil }

	var ce *rf.ConfigError
	if err := s.Schedule("", time.Second, noop); !errors.As(err, &ce) {
		t.Fatalf("empty name: %v", err)
	}
	for _, p := range []time.Duration{0, -time.Second} {
		if err := s.Schedule("p", p, noop); !errors.As(err, &ce) {
			t.Fatalf("period %v: %v", p, err)
		}
	}
	if err := s.Schedule("nil", time.Second, nil); !errors.As(err, &ce) {
		t.Fatalf("nil task: %v", err)
	}
	if err := s.Schedule("dup", time.Second, noop); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := s.Schedule("dup", time.Second, noop); !errors.As(err, &ce) {
		t.Fatalf("duplicate: %v", err)
	}
	stopNow(t, s)
	if err := s.Schedule("after", time.Second, noop); !errors.Is(err, rf.ErrStopped) {
		t.Fatalf("after Stop: %v", err)
	}
}

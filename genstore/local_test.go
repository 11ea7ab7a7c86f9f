package genstore

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLocalMissingIsZeroAndBumpIncrements(t *testing.T) {
	ctx := context.Background()
	s := NewLocalGenStore(0, 0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	if g, _ := s.Snapshot(ctx, "products::1"); g != 0 {
		t.Fatalf("missing key should be gen 0, got %d", g)
	}
	for want := uint64(1); want <= 3; want++ {
		g, err := s.Bump(ctx, "products::1")
		if err != nil || g != want {
			t.Fatalf("Bump: got %d err=%v want %d", g, err, want)
		}
	}
	if g, _ := s.Snapshot(ctx, "products::2"); g != 0 {
		t.Fatalf("bumps must be per key, got %d", g)
	}
}

func TestLocalConcurrentBumps(t *testing.T) {
	ctx := context.Background()
	s := NewLocalGenStore(0, 0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Bump(ctx, "k")
		}()
	}
	wg.Wait()
	if g, _ := s.Snapshot(ctx, "k"); g != 50 {
		t.Fatalf("expected 50 bumps, got %d", g)
	}
}

func TestLocalCleanupPrunesOld(t *testing.T) {
	ctx := context.Background()
	s := NewLocalGenStore(0, time.Second)
	t.Cleanup(func() { _ = s.Close(ctx) })

	if _, err := s.Bump(ctx, "old"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(1200 * time.Millisecond)
	if _, err := s.Bump(ctx, "fresh"); err != nil {
		t.Fatal(err)
	}
	s.Cleanup(time.Second)

	if g, _ := s.Snapshot(ctx, "old"); g != 0 {
		t.Fatalf("expected pruned -> 0, got %d", g)
	}
	if g, _ := s.Snapshot(ctx, "fresh"); g != 1 {
		t.Fatalf("fresh key should survive cleanup, got %d", g)
	}
}

func TestLocalCloseIsIdempotent(t *testing.T) {
	s := NewLocalGenStore(10*time.Millisecond, time.Minute)
	_ = s.Close(context.Background())
	_ = s.Close(context.Background())
}

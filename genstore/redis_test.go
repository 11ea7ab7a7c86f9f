package genstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisGenStore(t *testing.T, ttl time.Duration) (*RedisGenStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisGenStore(RedisConfig{
		Client:      redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		Namespace:   "products",
		TTL:         ttl,
		CloseClient: true,
	})
	if err != nil {
		t.Fatalf("NewRedisGenStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s, mr
}

func TestRedisSnapshotAndBump(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisGenStore(t, 0)

	if g, err := s.Snapshot(ctx, "products::1"); err != nil || g != 0 {
		t.Fatalf("Snapshot missing: g=%d err=%v", g, err)
	}
	if g, err := s.Bump(ctx, "products::1"); err != nil || g != 1 {
		t.Fatalf("Bump: g=%d err=%v", g, err)
	}
	if g, _ := s.Snapshot(ctx, "products::1"); g != 1 {
		t.Fatalf("Snapshot after bump: %d", g)
	}
	if got, _ := mr.Get("gen:products:products::1"); got != "1" {
		t.Fatalf("unexpected stored gen %q", got)
	}
}

func TestRedisBumpWithTTL(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisGenStore(t, time.Hour)

	if _, err := s.Bump(ctx, "k"); err != nil {
		t.Fatalf("Bump: %v", err)
	}
	if ttl := mr.TTL("gen:products:k"); ttl != time.Hour {
		t.Fatalf("expected 1h TTL, got %v", ttl)
	}
	mr.FastForward(2 * time.Hour)
	if g, _ := s.Snapshot(ctx, "k"); g != 0 {
		t.Fatalf("expired gen should read as 0, got %d", g)
	}
}

func TestRedisSnapshotParseError(t *testing.T) {
	s, mr := newRedisGenStore(t, 0)
	_ = mr.Set("gen:products:k", "not-a-number")
	if _, err := s.Snapshot(context.Background(), "k"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestRedisRequiresClient(t *testing.T) {
	if _, err := NewRedisGenStore(RedisConfig{}); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

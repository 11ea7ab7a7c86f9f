package redisflow

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/redisflow/codec"
	gen "github.com/unkn0wn-root/redisflow/genstore"
	pr "github.com/unkn0wn-root/redisflow/provider"
)

type SetCostFunc func(storageKey string, raw []byte) int64

// ComputeFunc produces the value for a cache miss.
type ComputeFunc[V any] func(ctx context.Context) (V, error)

// Coordinator is the cache-aside API for one logical cache name.
// V is the caller's value type; serialization is handled by a pluggable Codec[V].
type Coordinator[V any] interface {
	Name() string
	Enabled() bool
	Close(context.Context) error

	// Get returns (value, true, nil) on hit and (zero, false, nil) on miss.
	// A stored zero/nil value is a hit.
	Get(ctx context.Context, key string) (v V, ok bool, err error)

	// GetOrCompute returns the cached value, or runs compute, stores its result
	// with ttl and returns it. ttl 0 => Options.DefaultTTL. Not atomic: concurrent
	// misses may each run compute. The generation check before the write is not
	// atomic with the write either: a Put landing in between is overwritten by the
	// older value, and the next read drops that entry as stale and misses. The
	// Put's value is lost; a stale value is never served. Store failures are
	// logged, never returned; compute errors are returned and not cached.
	GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc[V]) (V, error)

	// Put overwrites the entry unconditionally. ttl 0 => Options.DefaultTTL.
	Put(ctx context.Context, key string, value V, ttl time.Duration) error

	// Evict removes the entry; evicting a missing key is a no-op.
	Evict(ctx context.Context, key string) error
}

// Options configure a Coordinator. Name, Provider and Codec are required.
type Options[V any] struct {
	Name     string // logical cache name, e.g. "products"; must not contain "::"
	Provider pr.Provider
	Codec    c.Codec[V]

	Logger          Logger        // nil => NopLogger
	Hooks           Hooks         // nil => NopHooks
	DefaultTTL      time.Duration // 0 => no expiry
	Disabled        bool          // pass-through: always compute, never store
	ComputeSetCost  SetCostFunc   // default 1 (ristretto uses it for admission)
	GenStore        gen.GenStore  // nil => LocalGenStore owned by the coordinator
	CleanupInterval time.Duration // local gens sweep; 0 => 1h
	GenRetention    time.Duration // local gens retention; 0 => 30d
}

func New[V any](opts Options[V]) (Coordinator[V], error) {
	c, err := newCoordinator[V](opts)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Package genstore keeps a generation counter per cache storage key.
//
// The cache-aside coordinator stamps every entry with the generation it was
// computed under. Put and Evict bump the generation, so a slow GetOrCompute that
// started before them can no longer land its (now stale) value, and entries
// written under an older generation are rejected on read.
package genstore

import (
	"context"
	"time"
)

// GenStore abstracts where generations live.
// Use LocalGenStore (default) for in-process gens, or RedisGenStore when several
// processes share one cache name.
type GenStore interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, storageKey string) (uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, storageKey string) (uint64, error)
	// Cleanup prunes old metadata if applicable (no-op for Redis).
	Cleanup(retention time.Duration)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}

// Package provider defines the keyed byte store behind the cache-aside coordinator.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly the
// bytes previously passed to Set for a key (no prepended/appended metadata, no
// re-encoding, no mutation).
//
// The keyspace "<cacheName>::" is owned by the coordinator for that cache name.
// Foreign writes under it fail frame validation and are deleted on read.
package provider

import (
	"context"
	"time"
)

// Provider is a minimal byte store with TTLs (GET / SET [EX] / DEL).
// Must be safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	// Get must not extend the key's TTL.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL; ttl <= 0 means no expiry.
	// May ignore cost if unsupported.
	// Returns ok=false when the store rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key. Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}

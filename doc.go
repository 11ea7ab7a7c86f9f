// Package redisflow coordinates three access patterns against a shared
// Redis-compatible store:
//
//   - stream: durable, ordered consumer-group delivery with acknowledgment.
//   - pubsub: fire-and-forget broadcast to pattern subscriptions.
//   - this package: a TTL-aware cache-aside coordinator for expensive reads.
//
// The schedule package drives periodic producers. Shared pieces live here too:
// the error taxonomy (StoreError, HandlerError, SerializationError, ConfigError),
// the Logger and Hooks interfaces every component reports through.
//
// Cache keys:
//
//	<cacheName>::<key>   e.g. products::001
//
// Cache-aside pattern:
//
//	p, err := products.GetOrCompute(ctx, "001", 0, loadProduct) // hit => no load
//	_ = products.Put(ctx, p.ID, p, 0)                            // after a write
//	_ = products.Evict(ctx, "001")                               // after a delete
//
// GetOrCompute is not single-flight: two callers missing the same key at the
// same time both run the compute function. Generations (see genstore) only make
// sure a compute that raced with Put/Evict cannot store a stale value.
package redisflow

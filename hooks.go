package redisflow

// Hooks are lightweight callbacks for high-signal events from every component
// (cache, stream manager, broadcaster, scheduler).
// Implementations MUST be cheap and non-blocking: they are called on delivery paths.
// Wrap a slow implementation with hooks/async.
type Hooks interface {
	// Cache lookups by logical cache name.
	CacheHit(cache string)
	CacheMiss(cache string)

	// A cache entry was deleted on read.
	// reason ∈ {"corrupt", "gen_mismatch", "value_decode"}
	SelfHeal(storageKey, reason string)

	// Provider returned ok=false on Set (backpressure/eviction).
	ProviderSetRejected(storageKey string)

	// GenStore snapshot or bump failed.
	GenError(storageKey string, err error)

	// Both gen bump and delete failed during Evict (likely backend outage).
	EvictOutage(key string, bumpErr, delErr error)

	// n stream entries were handed to a consumer's handler.
	EntriesDelivered(stream, group, consumer string, n int)

	// A poll or ack against the store failed for a consumer.
	PollFailed(stream, group, consumer string, err error)

	// A pub/sub message was received by a subscription.
	MessageReceived(channel string)

	// User code failed; source identifies the stream consumer, subscription or task.
	HandlerFailed(source string, err error)

	// A scheduled firing was dropped because the previous run was still going.
	TaskSkipped(task string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) CacheHit(string)                              {}
func (NopHooks) CacheMiss(string)                             {}
func (NopHooks) SelfHeal(string, string)                      {}
func (NopHooks) ProviderSetRejected(string)                   {}
func (NopHooks) GenError(string, error)                       {}
func (NopHooks) EvictOutage(string, error, error)             {}
func (NopHooks) EntriesDelivered(string, string, string, int) {}
func (NopHooks) PollFailed(string, string, string, error)     {}
func (NopHooks) MessageReceived(string)                       {}
func (NopHooks) HandlerFailed(string, error)                  {}
func (NopHooks) TaskSkipped(string)                           {}

package redisflow

import (
	"context"
	"strings"
	"time"

	c "github.com/unkn0wn-root/redisflow/codec"
	gen "github.com/unkn0wn-root/redisflow/genstore"
	"github.com/unkn0wn-root/redisflow/internal/util"
	"github.com/unkn0wn-root/redisflow/internal/wire"
	pr "github.com/unkn0wn-root/redisflow/provider"
)

const (
	defaultGenRetention = 30 * 24 * time.Hour
	defaultSweep        = time.Hour
)

type coordinator[V any] struct {
	name           string
	provider       pr.Provider
	codec          c.Codec[V]
	log            Logger
	hooks          Hooks
	enabled        bool
	defaultTTL     time.Duration
	computeSetCost SetCostFunc
	gen            gen.GenStore
	ownsGen        bool
}

func newCoordinator[V any](opts Options[V]) (*coordinator[V], error) {
	switch {
	case opts.Name == "":
		return nil, &ConfigError{Field: "Name", Reason: "required"}
	case strings.Contains(opts.Name, keySep):
		return nil, &ConfigError{Field: "Name", Reason: "must not contain " + keySep}
	case opts.Provider == nil:
		return nil, &ConfigError{Field: "Provider", Reason: "required"}
	case opts.Codec == nil:
		return nil, &ConfigError{Field: "Codec", Reason: "required"}
	case opts.DefaultTTL < 0:
		return nil, &ConfigError{Field: "DefaultTTL", Reason: "must not be negative"}
	}

	co := &coordinator[V]{
		name:       opts.Name,
		provider:   opts.Provider,
		codec:      opts.Codec,
		enabled:    !opts.Disabled,
		defaultTTL: opts.DefaultTTL,
	}
	co.log = util.Coalesce[Logger](opts.Logger, NopLogger{})
	co.hooks = util.Coalesce[Hooks](opts.Hooks, NopHooks{})

	if opts.ComputeSetCost != nil {
		co.computeSetCost = opts.ComputeSetCost
	} else {
		co.computeSetCost = func(string, []byte) int64 { return 1 }
	}

	if opts.GenStore != nil {
		co.gen = opts.GenStore
	} else {
		co.gen = gen.NewLocalGenStore(
			util.Coalesce(opts.CleanupInterval, defaultSweep),
			util.Coalesce(opts.GenRetention, defaultGenRetention),
		)
		co.ownsGen = true
	}
	return co, nil
}

func (co *coordinator[V]) Name() string  { return co.name }
func (co *coordinator[V]) Enabled() bool { return co.enabled }

// Close releases the gen store it created and the provider.
// A caller-supplied GenStore is left to the caller.
func (co *coordinator[V]) Close(ctx context.Context) error {
	if co.ownsGen {
		_ = co.gen.Close(ctx)
	}
	return co.provider.Close(ctx)
}

func (co *coordinator[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	if !co.enabled {
		return zero, false, nil
	}
	k := co.storageKey(key)
	raw, ok, err := co.provider.Get(ctx, k)
	if err != nil {
		return zero, false, &StoreError{Op: "get", Key: k, Err: err}
	}
	if !ok {
		co.hooks.CacheMiss(co.name)
		return zero, false, nil
	}

	g, payload, err := wire.DecodeEntry(raw)
	if err != nil {
		co.heal(ctx, k, "corrupt")
		return zero, false, nil
	}
	cur, err := co.gen.Snapshot(ctx, k)
	if err != nil {
		// can't tell whether the entry is current; serve a miss but keep it
		co.hooks.GenError(k, err)
		co.log.Warn("gen snapshot failed; treating as miss", Fields{"key": k, "err": err})
		co.hooks.CacheMiss(co.name)
		return zero, false, nil
	}
	if g != cur {
		co.heal(ctx, k, "gen_mismatch")
		return zero, false, nil
	}
	v, err := co.codec.Decode(payload)
	if err != nil {
		co.heal(ctx, k, "value_decode")
		return zero, false, nil
	}
	co.hooks.CacheHit(co.name)
	return v, true, nil
}

func (co *coordinator[V]) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc[V]) (V, error) {
	var zero V
	if compute == nil {
		return zero, &ConfigError{Field: "compute", Reason: "required"}
	}
	if ttl < 0 {
		return zero, &ConfigError{Field: "ttl", Reason: "must not be negative"}
	}
	if !co.enabled {
		return compute(ctx)
	}

	v, ok, err := co.Get(ctx, key)
	if err != nil {
		co.log.Warn("cache lookup failed; computing", Fields{"cache": co.name, "key": key, "err": err})
	} else if ok {
		return v, nil
	}

	// Observe the generation before computing: a Put/Evict that lands while
	// compute runs moves it, and the store below is skipped.
	k := co.storageKey(key)
	obs, genErr := co.gen.Snapshot(ctx, k)

	v, err = compute(ctx)
	if err != nil {
		return zero, err
	}
	if genErr != nil {
		co.hooks.GenError(k, genErr)
		co.log.Warn("gen snapshot failed; value not cached", Fields{"key": k, "err": genErr})
		return v, nil
	}
	if err := co.setWithGen(ctx, k, v, obs, ttl); err != nil {
		co.log.Warn("cache store failed", Fields{"key": k, "err": err})
	}
	return v, nil
}

func (co *coordinator[V]) Put(ctx context.Context, key string, value V, ttl time.Duration) error {
	if ttl < 0 {
		return &ConfigError{Field: "ttl", Reason: "must not be negative"}
	}
	if !co.enabled {
		return nil
	}
	k := co.storageKey(key)
	payload, err := co.codec.Encode(value)
	if err != nil {
		return &SerializationError{Op: "encode", Source: k, Err: err}
	}
	g, err := co.gen.Bump(ctx, k)
	if err != nil {
		co.hooks.GenError(k, err)
		return &StoreError{Op: "gen bump", Key: k, Err: err}
	}
	return co.write(ctx, k, g, payload, ttl)
}

func (co *coordinator[V]) Evict(ctx context.Context, key string) error {
	if !co.enabled {
		return nil
	}
	k := co.storageKey(key)
	newGen, bumpErr := co.gen.Bump(ctx, k)
	if bumpErr != nil {
		co.hooks.GenError(k, bumpErr)
	}
	delErr := co.provider.Del(ctx, k)
	switch {
	case bumpErr != nil && delErr != nil:
		co.hooks.EvictOutage(k, bumpErr, delErr)
		return &EvictError{Key: k, BumpErr: bumpErr, DelErr: delErr}
	case delErr != nil:
		// the bumped gen already makes the old entry unreadable
		co.log.Warn("evict: delete failed, entry will self-heal", Fields{"key": k, "err": delErr})
	case bumpErr != nil:
		co.log.Warn("evict: gen bump failed, entry deleted", Fields{"key": k, "err": bumpErr})
	default:
		co.log.Debug("evicted", Fields{"key": k, "newGen": newGen})
	}
	return nil
}

func (co *coordinator[V]) setWithGen(ctx context.Context, k string, value V, observedGen uint64, ttl time.Duration) error {
	cur, err := co.gen.Snapshot(ctx, k)
	if err != nil {
		co.hooks.GenError(k, err)
		return &StoreError{Op: "gen snapshot", Key: k, Err: err}
	}
	if cur != observedGen {
		co.log.Debug("store skipped (gen moved during compute)", Fields{"key": k, "obs": observedGen, "cur": cur})
		return nil
	}
	payload, err := co.codec.Encode(value)
	if err != nil {
		return &SerializationError{Op: "encode", Source: k, Err: err}
	}
	return co.write(ctx, k, observedGen, payload, ttl)
}

func (co *coordinator[V]) write(ctx context.Context, k string, g uint64, payload []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = co.defaultTTL
	}
	b := wire.EncodeEntry(g, payload)
	ok, err := co.provider.Set(ctx, k, b, co.computeSetCost(k, b), ttl)
	if err != nil {
		return &StoreError{Op: "set", Key: k, Err: err}
	}
	if !ok {
		co.hooks.ProviderSetRejected(k)
		co.log.Debug("set rejected by provider (pressure)", Fields{"key": k})
	}
	return nil
}

func (co *coordinator[V]) heal(ctx context.Context, k, reason string) {
	_ = co.provider.Del(ctx, k)
	co.hooks.SelfHeal(k, reason)
	co.hooks.CacheMiss(co.name)
	co.log.Debug("self-healed cache entry", Fields{"key": k, "reason": reason})
}

func (co *coordinator[V]) storageKey(key string) string {
	return co.name + keySep + key
}

// Package sloghooks reports redisflow hook events as slog records.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	rf "github.com/unkn0wn-root/redisflow"
)

type Options struct {
	// Sampling for the high-volume events; 0/1 = log all.
	SelfHealEvery uint64
	DeliveryEvery uint64 // EntriesDelivered and MessageReceived
	// Optional cache key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr atomic.Uint64
	deliveryCtr atomic.Uint64
}

var _ rf.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) CacheHit(string)  {}
func (h *Hooks) CacheMiss(string) {}

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("redisflow.cache.self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) ProviderSetRejected(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Warn("redisflow.cache.provider_set_rejected",
		"key", h.redact(storageKey))
}

func (h *Hooks) GenError(storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("redisflow.cache.gen_error",
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) EvictOutage(key string, bumpErr, delErr error) {
	if h.l == nil {
		return
	}
	h.l.Error("redisflow.cache.evict_outage",
		"key", h.redact(key),
		"bump_err", bumpErr,
		"del_err", delErr)
}

func (h *Hooks) EntriesDelivered(stream, group, consumer string, n int) {
	if h.l == nil || !sample(h.opts.DeliveryEvery, &h.deliveryCtr) {
		return
	}
	h.l.Debug("redisflow.stream.delivered",
		"stream", stream,
		"group", group,
		"consumer", consumer,
		"n", n)
}

func (h *Hooks) PollFailed(stream, group, consumer string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("redisflow.stream.poll_failed",
		"stream", stream,
		"group", group,
		"consumer", consumer,
		"err", err)
}

func (h *Hooks) MessageReceived(channel string) {
	if h.l == nil || !sample(h.opts.DeliveryEvery, &h.deliveryCtr) {
		return
	}
	h.l.Debug("redisflow.pubsub.received", "channel", channel)
}

func (h *Hooks) HandlerFailed(source string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("redisflow.handler_failed",
		"source", source,
		"err", err)
}

func (h *Hooks) TaskSkipped(task string) {
	if h.l == nil {
		return
	}
	h.l.Info("redisflow.schedule.skipped", "task", task)
}

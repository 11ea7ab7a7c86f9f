// Package promhooks exports redisflow hook events as Prometheus counters.
package promhooks

import (
	"github.com/prometheus/client_golang/prometheus"

	rf "github.com/unkn0wn-root/redisflow"
)

// Metric labels
const (
	LabelCache    = "cache"
	LabelReason   = "reason"
	LabelStream   = "stream"
	LabelGroup    = "group"
	LabelConsumer = "consumer"
	LabelChannel  = "channel"
	LabelSource   = "source"
	LabelTask     = "task"
)

// Hooks holds all redisflow counters. Cache keys are never used as labels.
type Hooks struct {
	// Cache metrics
	cacheLookups *prometheus.CounterVec
	selfHeals    *prometheus.CounterVec
	setRejected  prometheus.Counter
	genErrors    prometheus.Counter
	evictOutages prometheus.Counter

	// Stream metrics
	entriesDelivered *prometheus.CounterVec
	pollFailures     *prometheus.CounterVec

	// Pub/sub metrics
	messagesReceived *prometheus.CounterVec

	// Handler and scheduler metrics
	handlerFailures *prometheus.CounterVec
	tasksSkipped    *prometheus.CounterVec
}

var _ rf.Hooks = (*Hooks)(nil)

// New creates the counters and registers them with reg.
func New(reg prometheus.Registerer) (*Hooks, error) {
	h := &Hooks{
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redisflow_cache_lookups_total",
				Help: "Cache lookups by cache name and result (hit or miss)",
			},
			[]string{LabelCache, "result"},
		),
		selfHeals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redisflow_cache_self_heals_total",
				Help: "Cache entries deleted on read because they were corrupt, stale or undecodable",
			},
			[]string{LabelReason},
		),
		setRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "redisflow_cache_set_rejected_total",
			Help: "Cache writes the provider refused",
		}),
		genErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "redisflow_cache_gen_errors_total",
			Help: "Generation store failures",
		}),
		evictOutages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "redisflow_cache_evict_outages_total",
			Help: "Evictions where both the generation bump and the delete failed",
		}),
		entriesDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redisflow_stream_entries_delivered_total",
				Help: "Stream entries handed to consumer handlers",
			},
			[]string{LabelStream, LabelGroup, LabelConsumer},
		),
		pollFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redisflow_stream_poll_failures_total",
				Help: "Failed stream polls and acks",
			},
			[]string{LabelStream, LabelGroup, LabelConsumer},
		),
		messagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redisflow_pubsub_messages_received_total",
				Help: "Pub/sub messages received by subscriptions",
			},
			[]string{LabelChannel},
		),
		handlerFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redisflow_handler_failures_total",
				Help: "Errors and panics raised by handlers and scheduled tasks",
			},
			[]string{LabelSource},
		),
		tasksSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redisflow_schedule_skipped_total",
				Help: "Scheduled firings dropped because the previous run was still going",
			},
			[]string{LabelTask},
		),
	}
	for _, c := range []prometheus.Collector{
		h.cacheLookups, h.selfHeals, h.setRejected, h.genErrors, h.evictOutages,
		h.entriesDelivered, h.pollFailures, h.messagesReceived,
		h.handlerFailures, h.tasksSkipped,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (h *Hooks) CacheHit(cache string)  { h.cacheLookups.WithLabelValues(cache, "hit").Inc() }
func (h *Hooks) CacheMiss(cache string) { h.cacheLookups.WithLabelValues(cache, "miss").Inc() }

func (h *Hooks) SelfHeal(_ string, reason string) { h.selfHeals.WithLabelValues(reason).Inc() }
func (h *Hooks) ProviderSetRejected(string)       { h.setRejected.Inc() }
func (h *Hooks) GenError(string, error)           { h.genErrors.Inc() }
func (h *Hooks) EvictOutage(string, error, error) { h.evictOutages.Inc() }

func (h *Hooks) EntriesDelivered(stream, group, consumer string, n int) {
	h.entriesDelivered.WithLabelValues(stream, group, consumer).Add(float64(n))
}

func (h *Hooks) PollFailed(stream, group, consumer string, _ error) {
	h.pollFailures.WithLabelValues(stream, group, consumer).Inc()
}

func (h *Hooks) MessageReceived(channel string) { h.messagesReceived.WithLabelValues(channel).Inc() }

func (h *Hooks) HandlerFailed(source string, _ error) { h.handlerFailures.WithLabelValues(source).Inc() }

func (h *Hooks) TaskSkipped(task string) { h.tasksSkipped.WithLabelValues(task).Inc() }

// Package store defines the slice of a Redis-compatible store that the stream
// manager and the pub/sub broadcaster talk to. The cache side uses the
// provider package instead.
//
// store/redis implements both interfaces on go-redis.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrGroupExists is returned by XGroupCreate when the group is already there
// (BUSYGROUP). Callers that only want the group to exist treat it as success.
var ErrGroupExists = errors.New("store: consumer group already exists")

// Entry is one stream record. ID is assigned by the store ("<ms>-<seq>").
type Entry struct {
	Stream string
	ID     string
	Values map[string]string
}

// Message is one pub/sub delivery. Pattern is set only for pattern subscriptions.
type Message struct {
	Channel string
	Pattern string
	Payload []byte
}

// ReadArgs drive a single XREADGROUP call.
type ReadArgs struct {
	Stream   string
	Group    string
	Consumer string
	// ID is ">" (new entries) or "0" (this consumer's pending entries). Empty => ">".
	ID    string
	Count int64
	// Block is how long to wait for data. <= 0 does not block.
	Block time.Duration
}

// ClaimArgs drive a single XAUTOCLAIM call.
type ClaimArgs struct {
	Stream   string
	Group    string
	Consumer string
	MinIdle  time.Duration
	Start    string // "0-0" to scan the whole PEL
	Count    int64
}

// PendingSummary is the XPENDING summary form.
type PendingSummary struct {
	Count     int64
	Lower     string
	Higher    string
	Consumers map[string]int64
}

// Streams is the consumer-group stream API.
type Streams interface {
	// XAdd appends an entry and returns its ID.
	XAdd(ctx context.Context, stream string, values map[string]string) (string, error)
	// XGroupCreate creates group at the stream tail, creating the stream if missing.
	XGroupCreate(ctx context.Context, stream, group string) error
	// XReadGroup returns (nil, nil) when Block elapsed without data.
	XReadGroup(ctx context.Context, args ReadArgs) ([]Entry, error)
	XAck(ctx context.Context, stream, group string, ids ...string) (int64, error)
	// XAutoClaim transfers entries idle for at least MinIdle to Consumer.
	// It returns the claimed entries and the cursor for the next call ("0-0" when done).
	XAutoClaim(ctx context.Context, args ClaimArgs) ([]Entry, string, error)
	XPending(ctx context.Context, stream, group string) (PendingSummary, error)
}

// Subscription is a live pub/sub subscription.
// Messages is closed after Close.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// PubSub is the broadcast API. Subscribe and PSubscribe return only after the
// store confirmed the subscription.
type PubSub interface {
	Publish(ctx context.Context, channel string, payload []byte) (int64, error)
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
	PSubscribe(ctx context.Context, patterns ...string) (Subscription, error)
}

package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/redisflow/store"
)

func newTestStore(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := New(Config{Client: goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), CloseClient: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r, mr
}

func TestNewRequiresClient(t *testing.T) {
	if _, err := New(Config{}); err != ErrNilClient {
		t.Fatalf("expected ErrNilClient, got %v", err)
	}
}

func TestGroupCreateIsIdempotentViaSentinel(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestStore(t)

	if err := r.XGroupCreate(ctx, "orders", "my-group"); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if !mr.Exists("orders") {
		t.Fatalf("MKSTREAM should have created the stream")
	}
	if err := r.XGroupCreate(ctx, "orders", "my-group"); !errors.Is(err, store.ErrGroupExists) {
		t.Fatalf("second create: expected ErrGroupExists, got %v", err)
	}
}

func TestAddReadAck(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestStore(t)

	if err := r.XGroupCreate(ctx, "orders", "my-group"); err != nil {
		t.Fatalf("create: %v", err)
	}
	var ids []string
	for _, amt := range []string{"10", "20", "30"} {
		id, err := r.XAdd(ctx, "orders", map[string]string{"amount": amt})
		if err != nil {
			t.Fatalf("XAdd: %v", err)
		}
		ids = append(ids, id)
	}

	got, err := r.XReadGroup(ctx, store.ReadArgs{Stream: "orders", Group: "my-group", Consumer: "consumer-1", Count: 10, Block: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("XReadGroup: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	for i, e := range got {
		if e.ID != ids[i] || e.Stream != "orders" {
			t.Fatalf("entry %d: %+v, want id %s", i, e, ids[i])
		}
	}
	if got[1].Values["amount"] != "20" {
		t.Fatalf("values not preserved: %v", got[1].Values)
	}

	p, err := r.XPending(ctx, "orders", "my-group")
	if err != nil || p.Count != 3 || p.Consumers["consumer-1"] != 3 {
		t.Fatalf("XPending before ack: %+v err=%v", p, err)
	}
	n, err := r.XAck(ctx, "orders", "my-group", ids...)
	if err != nil || n != 3 {
		t.Fatalf("XAck: n=%d err=%v", n, err)
	}
	p, err = r.XPending(ctx, "orders", "my-group")
	if err != nil || p.Count != 0 {
		t.Fatalf("XPending after ack: %+v err=%v", p, err)
	}
}

func TestReadTimeoutIsNotAnError(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestStore(t)
	if err := r.XGroupCreate(ctx, "orders", "my-group"); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := r.XReadGroup(ctx, store.ReadArgs{Stream: "orders", Group: "my-group", Consumer: "c", Block: 20 * time.Millisecond})
	if err != nil || got != nil {
		t.Fatalf("expected (nil, nil) on timeout, got %v, %v", got, err)
	}
}

func TestReadOwnPendingAndAutoClaim(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestStore(t)
	if err := r.XGroupCreate(ctx, "orders", "my-group"); err != nil {
		t.Fatalf("create: %v", err)
	}
	id, _ := r.XAdd(ctx, "orders", map[string]string{"amount": "1"})

	if _, err := r.XReadGroup(ctx, store.ReadArgs{Stream: "orders", Group: "my-group", Consumer: "crashed", Count: 1, Block: 20 * time.Millisecond}); err != nil {
		t.Fatalf("XReadGroup: %v", err)
	}

	own, err := r.XReadGroup(ctx, store.ReadArgs{Stream: "orders", Group: "my-group", Consumer: "crashed", ID: "0"})
	if err != nil || len(own) != 1 || own[0].ID != id {
		t.Fatalf("re-read of own PEL: %v err=%v", own, err)
	}

	claimed, _, err := r.XAutoClaim(ctx, store.ClaimArgs{Stream: "orders", Group: "my-group", Consumer: "rescuer", Count: 10})
	if err != nil {
		t.Fatalf("XAutoClaim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != id || claimed[0].Values["amount"] != "1" {
		t.Fatalf("claimed: %+v", claimed)
	}
	p, _ := r.XPending(ctx, "orders", "my-group")
	if p.Consumers["rescuer"] != 1 {
		t.Fatalf("entry should now be owned by rescuer: %+v", p.Consumers)
	}
}

func TestPublishSubscribe(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestStore(t)

	// nobody listening yet
	if n, err := r.Publish(ctx, "customers", []byte("early")); err != nil || n != 0 {
		t.Fatalf("Publish without subscribers: n=%d err=%v", n, err)
	}

	sub, err := r.Subscribe(ctx, "customers")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	psub, err := r.PSubscribe(ctx, "cust*")
	if err != nil {
		t.Fatalf("PSubscribe: %v", err)
	}
	defer psub.Close()

	if n, err := r.Publish(ctx, "customers", []byte("Eko 1")); err != nil || n != 2 {
		t.Fatalf("Publish: n=%d err=%v", n, err)
	}

	select {
	case m := <-sub.Messages():
		if m.Channel != "customers" || string(m.Payload) != "Eko 1" || m.Pattern != "" {
			t.Fatalf("subscribe got %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message")
	}
	select {
	case m := <-psub.Messages():
		if m.Pattern != "cust*" || string(m.Payload) != "Eko 1" {
			t.Fatalf("psubscribe got %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for pattern message")
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-sub.Messages(); ok {
		t.Fatalf("Messages should be closed after Close")
	}
	_ = sub.Close()
}

package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	rf "github.com/unkn0wn-root/redisflow"
	c "github.com/unkn0wn-root/redisflow/codec"
	"github.com/unkn0wn-root/redisflow/store"
	rs "github.com/unkn0wn-root/redisflow/store/redis"
)

const waitFor = 3 * time.Second

type failRecorder struct {
	rf.NopHooks
	mu       sync.Mutex
	failures []error
	received int
}

func (h *failRecorder) HandlerFailed(_ string, err error) {
	h.mu.Lock()
	h.failures = append(h.failures, err)
	h.mu.Unlock()
}

func (h *failRecorder) MessageReceived(string) {
	h.mu.Lock()
	h.received++
	h.mu.Unlock()
}

func newTestBroadcaster(t *testing.T, hooks rf.Hooks) *Broadcaster {
	t.Helper()
	mr := miniredis.RunT(t)
	st, err := rs.New(rs.Config{Client: goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), CloseClient: true})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	b, err := New(Options{Client: st, Hooks: hooks})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = b.Stop(ctx)
		_ = st.Close()
	})
	return b
}

func chanHandler(ch chan<- store.Message) Handler {
	return HandlerFunc(func(_ context.Context, m store.Message) error {
		ch <- m
		return nil
	})
}

func expectMsg(t *testing.T, ch <-chan store.Message) store.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(waitFor):
		t.Fatalf("timed out waiting for message")
	}
	return store.Message{}
}

func expectNone(t *testing.T, ch <-chan store.Message) {
	t.Helper()
	select {
	case m := <-ch:
		t.Fatalf("unexpected message %+v", m)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscriberSeesOnlyLaterMessagesExactlyOnce(t *testing.T) {
	ctx := context.Background()
	b := newTestBroadcaster(t, nil)
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if n, err := b.Publish(ctx, "customers", []byte("Eko before")); err != nil || n != 0 {
		t.Fatalf("Publish before subscribe: n=%d err=%v", n, err)
	}

	got := make(chan store.Message, 8)
	if _, err := b.Subscribe(ctx, "customers", chanHandler(got)); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if n, err := b.Publish(ctx, "customers", []byte("Eko 42")); err != nil || n != 1 {
		t.Fatalf("Publish: n=%d err=%v", n, err)
	}

	m := expectMsg(t, got)
	if m.Channel != "customers" || !strings.HasPrefix(string(m.Payload), "Eko") {
		t.Fatalf("got %+v", m)
	}
	if string(m.Payload) != "Eko 42" {
		t.Fatalf("pre-subscribe message leaked or payload wrong: %q", m.Payload)
	}
	expectNone(t, got)
}

func TestPerSubscriptionFIFO(t *testing.T) {
	ctx := context.Background()
	b := newTestBroadcaster(t, nil)
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	got := make(chan store.Message, 64)
	if _, err := b.SubscribeChannel(ctx, "customers", chanHandler(got)); err != nil {
		t.Fatalf("SubscribeChannel: %v", err)
	}
	const n = 50
	for i := 0; i < n; i++ {
		if _, err := b.Publish(ctx, "customers", []byte(fmt.Sprint(i))); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	for i := 0; i < n; i++ {
		if m := expectMsg(t, got); string(m.Payload) != fmt.Sprint(i) {
			t.Fatalf("message %d out of order: %q", i, m.Payload)
		}
	}
}

func TestPatternSubscription(t *testing.T) {
	ctx := context.Background()
	b := newTestBroadcaster(t, nil)
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	got := make(chan store.Message, 4)
	if _, err := b.Subscribe(ctx, "customers.*", chanHandler(got)); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := b.Publish(ctx, "customers.vip", []byte("x")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := b.Publish(ctx, "orders", []byte("y")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	m := expectMsg(t, got)
	if m.Channel != "customers.vip" || m.Pattern != "customers.*" {
		t.Fatalf("got %+v", m)
	}
	expectNone(t, got)
}

func TestHandlerPanicsAndErrorsAreContained(t *testing.T) {
	ctx := context.Background()
	hooks := &failRecorder{}
	b := newTestBroadcaster(t, hooks)
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	got := make(chan store.Message, 4)
	if _, err := b.SubscribeChannel(ctx, "customers", HandlerFunc(func(_ context.Context, m store.Message) error {
		switch string(m.Payload) {
		case "panic":
			panic("handler blew up")
		case "error":
			return errors.New("nope")
		}
		got <- m
		return nil
	})); err != nil {
		t.Fatalf("SubscribeChannel: %v", err)
	}
	for _, p := range []string{"panic", "error", "ok"} {
		if _, err := b.Publish(ctx, "customers", []byte(p)); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	if m := expectMsg(t, got); string(m.Payload) != "ok" {
		t.Fatalf("got %q", m.Payload)
	}

	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	if len(hooks.failures) != 2 || hooks.received != 3 {
		t.Fatalf("failures=%v received=%d", hooks.failures, hooks.received)
	}
	if !errors.Is(hooks.failures[0], rf.ErrHandlerPanic) {
		t.Fatalf("first failure should be a panic: %v", hooks.failures[0])
	}
	var he *rf.HandlerError
	if !errors.As(hooks.failures[1], &he) || he.Source != "pubsub:customers" {
		t.Fatalf("second failure should be a HandlerError: %#v", hooks.failures[1])
	}
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	ctx := context.Background()
	b := newTestBroadcaster(t, nil)
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	release := make(chan struct{})
	defer close(release)
	if _, err := b.SubscribeChannel(ctx, "customers", HandlerFunc(func(context.Context, store.Message) error {
		<-release
		return nil
	})); err != nil {
		t.Fatalf("SubscribeChannel slow: %v", err)
	}
	got := make(chan store.Message, 4)
	if _, err := b.SubscribeChannel(ctx, "customers", chanHandler(got)); err != nil {
		t.Fatalf("SubscribeChannel fast: %v", err)
	}
	if n, err := b.Publish(ctx, "customers", []byte("hi")); err != nil || n != 2 {
		t.Fatalf("Publish: n=%d err=%v", n, err)
	}
	expectMsg(t, got)
}

func TestDeliveryWaitsForStart(t *testing.T) {
	ctx := context.Background()
	b := newTestBroadcaster(t, nil)

	got := make(chan store.Message, 4)
	if _, err := b.SubscribeChannel(ctx, "customers", chanHandler(got)); err != nil {
		t.Fatalf("SubscribeChannel: %v", err)
	}
	if _, err := b.Publish(ctx, "customers", []byte("queued")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	expectNone(t, got)

	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if m := expectMsg(t, got); string(m.Payload) != "queued" {
		t.Fatalf("got %q", m.Payload)
	}
}

func TestCloseAndStop(t *testing.T) {
	ctx := context.Background()
	b := newTestBroadcaster(t, nil)
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	got := make(chan store.Message, 4)
	sub, err := b.SubscribeChannel(ctx, "customers", chanHandler(got))
	if err != nil {
		t.Fatalf("SubscribeChannel: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case <-sub.Done():
	case <-time.After(waitFor):
		t.Fatalf("delivery goroutine did not exit")
	}
	if _, err := b.Publish(ctx, "customers", []byte("late")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	expectNone(t, got)

	if err := b.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := b.Subscribe(ctx, "customers", chanHandler(got)); !errors.Is(err, rf.ErrStopped) {
		t.Fatalf("Subscribe after Stop: expected ErrStopped, got %v", err)
	}
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	b := newTestBroadcaster(t, nil)
	var ce *rf.ConfigError
	if _, err := b.Subscribe(ctx, "", HandlerFunc(func(context.Context, store.Message) error { return nil })); !errors.As(err, &ce) {
		t.Fatalf("empty channel: %v", err)
	}
	if _, err := b.SubscribeChannel(ctx, "customers", nil); !errors.As(err, &ce) {
		t.Fatalf("nil handler: %v", err)
	}
	if _, err := b.Publish(ctx, "", nil); !errors.As(err, &ce) {
		t.Fatalf("empty channel publish: %v", err)
	}
	if _, err := New(Options{}); !errors.As(err, &ce) {
		t.Fatalf("New without client: %v", err)
	}
}

type customer struct {
	ID   string `msgpack:"id"`
	Name string `msgpack:"name"`
}

func TestObjectMessages(t *testing.T) {
	ctx := context.Background()
	b := newTestBroadcaster(t, nil)
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	recs := make(chan Record[customer], 2)
	h := ObjectHandler[customer](c.Msgpack[customer]{}, func(_ context.Context, r Record[customer]) error {
		recs <- r
		return nil
	})
	if _, err := b.SubscribeChannel(ctx, "customers", h); err != nil {
		t.Fatalf("SubscribeChannel: %v", err)
	}

	want := customer{ID: "c-1", Name: "Eko"}
	if _, err := PublishObject[customer](ctx, b, "customers", c.Msgpack[customer]{}, want); err != nil {
		t.Fatalf("PublishObject: %v", err)
	}
	if _, err := b.Publish(ctx, "customers", []byte{0xc1}); err != nil { // 0xc1 is never valid msgpack
		t.Fatalf("Publish: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case r := <-recs:
			if i == 0 && (r.Err != nil || r.Value != want) {
				t.Fatalf("decoded: %+v", r)
			}
			var se *rf.SerializationError
			if i == 1 && !errors.As(r.Err, &se) {
				t.Fatalf("malformed payload should give SerializationError, got %v", r.Err)
			}
		case <-time.After(waitFor):
			t.Fatalf("record %d not delivered", i)
		}
	}
}

package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"clusterbus/internal/ha"
	"clusterbus/internal/membership/inmemory"
)

func newBus(t *testing.T, backend *inmemory.Registry) *Bus {
	t.Helper()
	b, err := New(context.Background(), Options{BindHost: "127.0.0.1", BindPort: 0}, Deps{
		Membership: backend,
		HA:         ha.NewInMemory(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		if err := b.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return b
}

func waitForCond(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never became true")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestConsumerReceivesSend(t *testing.T) {
	backend := inmemory.New()
	a := newBus(t, backend)
	b := newBus(t, backend)

	var mu sync.Mutex
	var got string
	_, err := b.Consumer("greeting", func(m Message) {
		mu.Lock()
		got, _ = m.Body.(string)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Consumer: %v", err)
	}

	if err := a.Send(context.Background(), "greeting", "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	waitForCond(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got == "hello"
	})
}

func TestLocalConsumerNeverReceivesRemoteSend(t *testing.T) {
	backend := inmemory.New()
	a := newBus(t, backend)
	b := newBus(t, backend)

	received := make(chan struct{}, 1)
	if _, err := b.Consumer("private", func(Message) { received <- struct{}{} }, Local()); err != nil {
		t.Fatalf("Consumer: %v", err)
	}

	err := a.Send(context.Background(), "private", "x")
	if err == nil {
		t.Fatal("expected Send to a local-only address with no remote registrants to error")
	}

	select {
	case <-received:
		t.Fatal("local-only consumer must not receive a remote send")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRequestReplyRoundTrip(t *testing.T) {
	backend := inmemory.New()
	a := newBus(t, backend)
	b := newBus(t, backend)

	if _, err := b.Consumer("calc.double", func(m Message) {
		n, _ := m.Body.(float64)
		if err := b.n.Router().Reply(context.Background(), m, n*2); err != nil {
			t.Errorf("Reply: %v", err)
		}
	}); err != nil {
		t.Fatalf("Consumer: %v", err)
	}

	reply, err := a.Request(context.Background(), "calc.double", float64(21), time.Second)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	got, _ := reply.Body.(float64)
	if got != 42 {
		t.Fatalf("expected 42, got %v", reply.Body)
	}
}

func TestRequestTimesOutWithNoResponder(t *testing.T) {
	backend := inmemory.New()
	a := newBus(t, backend)
	_ = newBus(t, backend)

	_, err := a.Request(context.Background(), "nobody.home", "x", 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected Request with no responder to error")
	}
}

func TestConsumerUnregisterStopsDelivery(t *testing.T) {
	backend := inmemory.New()
	a := newBus(t, backend)
	b := newBus(t, backend)

	called := false
	c, err := b.Consumer("topic", func(Message) { called = true })
	if err != nil {
		t.Fatalf("Consumer: %v", err)
	}
	if err := c.Unregister(context.Background()); err != nil {
		t.Fatalf("Unregister: %v", err)
	}

	// The registry no longer lists b, so the send stays on a's local bus.
	if err := a.Send(context.Background(), "topic", "x"); err != nil {
		t.Fatalf("Send after Unregister: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if called {
		t.Fatal("handler should not fire after Unregister")
	}
}

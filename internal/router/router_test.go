package router

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"clusterbus/internal/addr"
	"clusterbus/internal/bus"
	"clusterbus/internal/codec"
	"clusterbus/internal/membership/inmemory"
	"clusterbus/internal/metrics"
	"clusterbus/internal/registry"
	"clusterbus/internal/transport"
)

// clusterNode wires together one node's worth of collaborators against a
// shared membership backend, standing in for a real multi-process cluster.
type clusterNode struct {
	self   addr.NodeAddress
	bus    bus.Bus
	reg    *registry.Client
	router *Router
}

func newClusterNode(t *testing.T, backend *inmemory.Registry) *clusterNode {
	t.Helper()

	srv, err := transport.Listen("127.0.0.1", 0, metrics.NoOp())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	self := addr.NodeAddress{Host: "127.0.0.1", Port: srv.Addr().(*net.TCPAddr).Port}

	localBus := bus.New()
	reg := registry.New(backend, self)
	mgr := transport.NewManager(self, 20*time.Second, 2*time.Second, 16, metrics.NoOp())
	codecs := codec.NewRegistry()
	rtr := New(self, localBus, reg, mgr, codecs, metrics.NoOp(), 16)

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx, rtr.HandleWireMessage)

	t.Cleanup(func() {
		cancel()
		rtr.Close()
		mgr.CloseAll()
		srv.Close()
	})

	return &clusterNode{self: self, bus: localBus, reg: reg, router: rtr}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never became true")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSendPrefersLocalDeliveryOnSameNode(t *testing.T) {
	backend := inmemory.New()
	a := newClusterNode(t, backend)

	var got string
	a.bus.RegisterLocal("greet", func(m bus.Message) { got, _ = m.Body.(string) })
	if err := a.reg.AddRegistration(context.Background(), "greet", false, false); err != nil {
		t.Fatalf("AddRegistration: %v", err)
	}

	if err := a.router.Send(context.Background(), "greet", "hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got != "hi" {
		t.Fatalf("expected local delivery, got %q", got)
	}
}

func TestSendRoutesAcrossNodes(t *testing.T) {
	backend := inmemory.New()
	a := newClusterNode(t, backend)
	b := newClusterNode(t, backend)

	var mu sync.Mutex
	var got string
	b.bus.RegisterLocal("topic", func(m bus.Message) {
		mu.Lock()
		got, _ = m.Body.(string)
		mu.Unlock()
	})
	if err := b.reg.AddRegistration(context.Background(), "topic", false, false); err != nil {
		t.Fatalf("AddRegistration: %v", err)
	}

	if err := a.router.Send(context.Background(), "topic", "from-a"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got == "from-a"
	})
}

func TestPublishFansOutAcrossNodes(t *testing.T) {
	backend := inmemory.New()
	a := newClusterNode(t, backend)
	b := newClusterNode(t, backend)

	var mu sync.Mutex
	var aGot, bGot bool
	a.bus.RegisterLocal("news", func(bus.Message) { mu.Lock(); aGot = true; mu.Unlock() })
	b.bus.RegisterLocal("news", func(bus.Message) { mu.Lock(); bGot = true; mu.Unlock() })
	if err := a.reg.AddRegistration(context.Background(), "news", false, false); err != nil {
		t.Fatalf("a AddRegistration: %v", err)
	}
	if err := b.reg.AddRegistration(context.Background(), "news", false, false); err != nil {
		t.Fatalf("b AddRegistration: %v", err)
	}

	if err := a.router.Publish(context.Background(), "news", "bulletin"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return aGot && bGot
	})
}

func TestSendWithNoHandlersDeliversLocally(t *testing.T) {
	backend := inmemory.New()
	a := newClusterNode(t, backend)

	var mu sync.Mutex
	var got bool
	a.bus.RegisterLocal("nobody", func(bus.Message) { mu.Lock(); got = true; mu.Unlock() })

	if err := a.router.Send(context.Background(), "nobody", "x"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got
	})
}

func TestReplyBypassesRegistryAndGoesToSender(t *testing.T) {
	backend := inmemory.New()
	a := newClusterNode(t, backend)
	b := newClusterNode(t, backend)

	replyAddress := NewReplyAddress()
	replyCh := make(chan string, 1)
	unregister := a.bus.RegisterLocal(replyAddress, func(m bus.Message) {
		s, _ := m.Body.(string)
		replyCh <- s
	})
	defer unregister()

	if err := b.reg.AddRegistration(context.Background(), "rpc", false, false); err != nil {
		t.Fatalf("AddRegistration: %v", err)
	}
	b.bus.RegisterLocal("rpc", func(m bus.Message) {
		if err := b.router.Reply(context.Background(), m, "pong"); err != nil {
			t.Errorf("Reply: %v", err)
		}
	})

	if err := a.router.Send(context.Background(), "rpc", "ping", WithReplyAddress(replyAddress)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-replyCh:
		if got != "pong" {
			t.Fatalf("expected pong, got %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reply")
	}
}

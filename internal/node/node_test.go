package node

import (
	"context"
	"sync"
	"testing"
	"time"

	"clusterbus/internal/bus"
	"clusterbus/internal/config"
	"clusterbus/internal/ha"
	"clusterbus/internal/membership/inmemory"
)

func startNode(t *testing.T, backend *inmemory.Registry, haMgr ha.Manager) *Node {
	t.Helper()
	n, err := New(config.Options{BindHost: "127.0.0.1", BindPort: 0}, Deps{
		Membership: backend,
		HA:         haMgr,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		if n.State() == StateRunning {
			if err := n.Stop(); err != nil {
				t.Errorf("Stop: %v", err)
			}
		}
	})
	return n
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

func TestNodeStartAssignsSelfAddress(t *testing.T) {
	backend := inmemory.New()
	n := startNode(t, backend, ha.NewInMemory())

	if n.Self().IsZero() {
		t.Fatal("expected Start to assign a non-zero self address")
	}
	if n.State() != StateRunning {
		t.Fatalf("expected StateRunning, got %s", n.State())
	}
}

func TestNodeStartTwiceErrors(t *testing.T) {
	backend := inmemory.New()
	n := startNode(t, backend, ha.NewInMemory())

	if err := n.Start(context.Background()); err == nil {
		t.Fatal("expected second Start to error")
	}
}

func TestTwoNodesExchangeMessages(t *testing.T) {
	backend := inmemory.New()
	a := startNode(t, backend, ha.NewInMemory())
	b := startNode(t, backend, ha.NewInMemory())

	var mu sync.Mutex
	var got string
	b.Bus().RegisterLocal("echo", func(m bus.Message) {
		mu.Lock()
		got, _ = m.Body.(string)
		mu.Unlock()
	})
	if err := b.Registry().AddRegistration(context.Background(), "echo", false, false); err != nil {
		t.Fatalf("AddRegistration: %v", err)
	}

	if err := a.Router().Send(context.Background(), "echo", "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	waitForCond(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got == "hello"
	})
}

func TestNodeCrashSweepsRegistrations(t *testing.T) {
	backend := inmemory.New()
	haA := ha.NewInMemory()
	a := startNode(t, backend, haA)
	b := startNode(t, backend, ha.NewInMemory())

	b.Bus().RegisterLocal("svc", func(bus.Message) {})
	if err := b.Registry().AddRegistration(context.Background(), "svc", false, false); err != nil {
		t.Fatalf("AddRegistration: %v", err)
	}

	choosable, err := backend.Get(context.Background(), "svc")
	if err != nil || choosable.Len() != 1 {
		t.Fatalf("expected one registration before crash, got %d (err=%v)", choosable.Len(), err)
	}

	haA.Crash(b.Self())

	waitForCond(t, time.Second, func() bool {
		c, err := backend.Get(context.Background(), "svc")
		return err == nil && c.Len() == 0
	})
}

func TestNodeSecondStopErrors(t *testing.T) {
	backend := inmemory.New()
	n := startNode(t, backend, ha.NewInMemory())

	if err := n.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := n.Stop(); err == nil {
		t.Fatal("expected second Stop to error since node is already stopped")
	}
}

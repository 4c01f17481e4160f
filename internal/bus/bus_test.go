package bus

import (
	"context"
	"testing"
)

func TestDeliverLocalPublishFansOutToAll(t *testing.T) {
	b := New()
	var got []int
	b.RegisterLocal("topic", func(Message) { got = append(got, 1) })
	b.RegisterLocal("topic", func(Message) { got = append(got, 2) })

	b.DeliverLocal(context.Background(), Message{Address: "topic"}, false)

	if len(got) != 2 {
		t.Fatalf("expected both handlers to fire, got %v", got)
	}
}

func TestDeliverLocalSendRoundRobins(t *testing.T) {
	b := New()
	var calls []int
	b.RegisterLocal("svc", func(Message) { calls = append(calls, 1) })
	b.RegisterLocal("svc", func(Message) { calls = append(calls, 2) })

	for i := 0; i < 4; i++ {
		b.DeliverLocal(context.Background(), Message{Address: "svc"}, true)
	}

	if len(calls) != 4 {
		t.Fatalf("expected 4 deliveries, got %d", len(calls))
	}
	if calls[0] == calls[1] {
		t.Fatalf("expected round-robin alternation, got %v", calls)
	}
}

func TestDeliverLocalNoSubscribersIsNoop(t *testing.T) {
	b := New()
	b.DeliverLocal(context.Background(), Message{Address: "nobody"}, false)
}

func TestUnregisterRemovesHandler(t *testing.T) {
	b := New()
	called := false
	unregister := b.RegisterLocal("topic", func(Message) { called = true })
	unregister()

	b.DeliverLocal(context.Background(), Message{Address: "topic"}, false)
	if called {
		t.Fatal("handler should not fire after unregister")
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	b := New()
	called := false
	b.RegisterLocal("topic", func(Message) { called = true })
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	b.DeliverLocal(context.Background(), Message{Address: "topic"}, false)
	if called {
		t.Fatal("handler should not fire after Close")
	}
}

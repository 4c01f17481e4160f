package grpcmap

import (
	"testing"

	"clusterbus/internal/addr"
	"clusterbus/internal/membership"
)

func TestCursorForReturnsSamePointerAcrossCalls(t *testing.T) {
	r := &Registry{cursors: map[string]*uint64{}}

	first := r.cursorFor("topic")
	second := r.cursorFor("topic")
	if first != second {
		t.Fatal("expected cursorFor to return the same cursor for repeated calls on the same address")
	}

	other := r.cursorFor("other")
	if other == first {
		t.Fatal("expected a distinct cursor for a different address")
	}
}

func TestCursorForRoundRobinsAcrossRepeatedChoose(t *testing.T) {
	r := &Registry{cursors: map[string]*uint64{}}
	nodes := []addr.NodeAddress{{Host: "a", Port: 1}, {Host: "b", Port: 2}}

	seen := map[addr.NodeAddress]bool{}
	for i := 0; i < 4; i++ {
		set := membership.NewRoundRobinSet(nodes, r.cursorFor("topic"))
		n, ok := set.Choose()
		if !ok {
			t.Fatalf("Choose returned no node on iteration %d", i)
		}
		seen[n] = true
	}

	if len(seen) != 2 {
		t.Fatalf("expected Choose to cycle through both nodes across calls, got %v", seen)
	}
}

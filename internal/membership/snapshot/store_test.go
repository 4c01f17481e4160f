package snapshot

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"clusterbus/internal/addr"
	"clusterbus/internal/membership"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshot.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)
	nodes := []addr.NodeAddress{{Host: "10.0.0.1", Port: 7400}, {Host: "10.0.0.2", Port: 7400}}

	if err := s.Save("svc", nodes); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load("svc")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(got))
	}
}

func TestStoreSaveOverwritesPriorSnapshot(t *testing.T) {
	s := openTestStore(t)
	first := []addr.NodeAddress{{Host: "10.0.0.1", Port: 7400}}
	second := []addr.NodeAddress{{Host: "10.0.0.2", Port: 7400}}

	if err := s.Save("svc", first); err != nil {
		t.Fatalf("Save first: %v", err)
	}
	if err := s.Save("svc", second); err != nil {
		t.Fatalf("Save second: %v", err)
	}

	got, err := s.Load("svc")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 1 || got[0] != second[0] {
		t.Fatalf("expected overwrite to leave only %v, got %v", second, got)
	}
}

func TestLoadUnknownAddressIsEmpty(t *testing.T) {
	s := openTestStore(t)
	got, err := s.Load("ghost")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty result, got %v", got)
	}
}

type failingRegistry struct {
	membership.Registry
	getErr error
}

func (f *failingRegistry) Get(context.Context, string) (membership.Choosable, error) {
	return nil, f.getErr
}

func TestCachedRegistryFallsBackOnBackendFailure(t *testing.T) {
	s := openTestStore(t)
	nodes := []addr.NodeAddress{{Host: "10.0.0.1", Port: 7400}}
	if err := s.Save("svc", nodes); err != nil {
		t.Fatalf("Save: %v", err)
	}

	backend := &failingRegistry{getErr: errors.New("coordinator unreachable")}
	cached := NewCachedRegistry(backend, s)

	choosable, err := cached.Get(context.Background(), "svc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if choosable.Len() != 1 {
		t.Fatalf("expected fallback to snapshot with 1 node, got %d", choosable.Len())
	}
}

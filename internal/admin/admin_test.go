package admin

import (
	"context"
	"testing"
)

type fakeBackend struct {
	status StatusInfo
	subs   map[string]SubsInfo
}

func (f *fakeBackend) AdminStatus() StatusInfo { return f.status }

func (f *fakeBackend) AdminSubs(ctx context.Context, address string) (SubsInfo, error) {
	s, ok := f.subs[address]
	if !ok {
		return SubsInfo{Address: address}, nil
	}
	return s, nil
}

func startServer(t *testing.T, backend Backend) (*Server, func()) {
	t.Helper()
	s, err := Listen("127.0.0.1:0", backend)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = s.Serve(ctx) }()
	return s, func() {
		cancel()
		_ = s.Close()
	}
}

func TestQueryStatus(t *testing.T) {
	backend := &fakeBackend{status: StatusInfo{Self: "10.0.0.1:7400", State: "RUNNING"}}
	s, stop := startServer(t, backend)
	defer stop()

	resp, err := Query(context.Background(), s.Addr().String(), Request{Command: "status"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if resp.Status == nil || resp.Status.Self != "10.0.0.1:7400" || resp.Status.State != "RUNNING" {
		t.Fatalf("unexpected status response: %+v", resp.Status)
	}
}

func TestQuerySubs(t *testing.T) {
	backend := &fakeBackend{subs: map[string]SubsInfo{
		"topic": {Address: "topic", Nodes: []string{"10.0.0.1:7400", "10.0.0.2:7400"}},
	}}
	s, stop := startServer(t, backend)
	defer stop()

	resp, err := Query(context.Background(), s.Addr().String(), Request{Command: "subs", Address: "topic"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if resp.Subs == nil || len(resp.Subs.Nodes) != 2 {
		t.Fatalf("unexpected subs response: %+v", resp.Subs)
	}
}

func TestQueryUnknownCommandErrors(t *testing.T) {
	s, stop := startServer(t, &fakeBackend{})
	defer stop()

	_, err := Query(context.Background(), s.Addr().String(), Request{Command: "bogus"})
	if err == nil {
		t.Fatal("expected error for unknown command")
	}
}

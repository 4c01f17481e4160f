package ha

import (
	"context"
	"log/slog"
	"sync"

	"clusterbus/internal/addr"
	"clusterbus/internal/membership/grpcmap"
)

// haAddress is the reserved registry key the grpc-backed Manager piggybacks
// on to publish/retrieve server_id metadata: a single-value "set" under a
// name no ordinary address will collide with.
const haAddress = "__clusterbus.ha.server_id__"

// GRPC is a Manager backed by the same membership coordination service
// used for the subscription registry: Announce publishes self under
// haAddress, and node-crashed events stream from the coordinator's Watch
// RPC (see internal/membership/grpcmap).
type GRPC struct {
	registry *grpcmap.Registry

	mu       sync.Mutex
	handlers map[int]func(addr.NodeAddress)
	nextID   int
	cancel   context.CancelFunc
	started  bool
}

// NewGRPC wraps registry as an HA manager.
func NewGRPC(registry *grpcmap.Registry) *GRPC {
	return &GRPC{registry: registry, handlers: map[int]func(addr.NodeAddress){}}
}

func (g *GRPC) Announce(ctx context.Context, self addr.NodeAddress) error {
	return g.registry.Add(ctx, haAddress, self)
}

func (g *GRPC) OnNodeCrashed(handler func(addr.NodeAddress)) (unsubscribe func()) {
	g.mu.Lock()
	id := g.nextID
	g.nextID++
	g.handlers[id] = handler
	if !g.started {
		g.started = true
		ctx, cancel := context.WithCancel(context.Background())
		g.cancel = cancel
		go g.watch(ctx)
	}
	g.mu.Unlock()

	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.handlers, id)
	}
}

func (g *GRPC) watch(ctx context.Context) {
	if err := g.registry.Watch(ctx, g.dispatch); err != nil && ctx.Err() == nil {
		slog.Warn("ha: watch stream ended", "err", err)
	}
}

func (g *GRPC) dispatch(node addr.NodeAddress) {
	g.mu.Lock()
	handlers := make([]func(addr.NodeAddress), 0, len(g.handlers))
	for _, h := range g.handlers {
		handlers = append(handlers, h)
	}
	g.mu.Unlock()

	for _, h := range handlers {
		h(node)
	}
}

func (g *GRPC) Close() error {
	g.mu.Lock()
	if g.cancel != nil {
		g.cancel()
	}
	g.mu.Unlock()
	return nil
}

// Package node implements the cluster node lifecycle (C6): wiring every
// other component together, advertising this process under the HA
// manager's server_id key, and reacting to peer crashes by sweeping the
// subscription registry and the transport manager's connection table.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"clusterbus/internal/addr"
	"clusterbus/internal/admin"
	"clusterbus/internal/bus"
	"clusterbus/internal/codec"
	"clusterbus/internal/config"
	"clusterbus/internal/ha"
	"clusterbus/internal/membership"
	"clusterbus/internal/metrics"
	"clusterbus/internal/registry"
	"clusterbus/internal/router"
	"clusterbus/internal/transport"
)

// State is a Node's lifecycle stage.
type State int

const (
	StateInit State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Deps bundles the external collaborators a Node composes over. Every
// field besides Membership and HA is optional and defaulted, so tests can
// build a Node with just an in-memory registry and HA manager.
type Deps struct {
	Membership  membership.Registry
	HA          ha.Manager
	Codecs      *codec.Registry
	MetricsSink *metrics.Sink
	LocalBus    bus.Bus
}

// Node owns the startup/shutdown sequence and exposes the composed
// Router and local Bus to callers (pkg/eventbus's public API).
type Node struct {
	mu    sync.Mutex
	state State

	opts config.Options
	self addr.NodeAddress

	localBus     bus.Bus
	membership   membership.Registry
	haMgr        ha.Manager
	codecs       *codec.Registry
	metricsSink  *metrics.Sink
	reg          *registry.Client
	transportMgr *transport.Manager
	server       *transport.Server
	rtr          *router.Router
	adminSrv     *admin.Server

	unsubscribeCrash func()
	cancel           context.CancelFunc
	g                *errgroup.Group
}

// New validates opts and deps and returns a Node in StateInit. Start must
// be called before the node does anything.
func New(opts config.Options, deps Deps) (*Node, error) {
	normalized, err := config.Normalize(opts)
	if err != nil {
		return nil, fmt.Errorf("normalize node options: %w", err)
	}
	if deps.Membership == nil {
		return nil, errors.New("node: Membership dependency is required")
	}
	if deps.HA == nil {
		return nil, errors.New("node: HA dependency is required")
	}

	codecs := deps.Codecs
	if codecs == nil {
		codecs = codec.NewRegistry()
	}
	sink := deps.MetricsSink
	if sink == nil {
		sink = metrics.NoOp()
	}
	localBus := deps.LocalBus
	if localBus == nil {
		localBus = bus.New()
	}

	return &Node{
		state:       StateInit,
		opts:        normalized,
		localBus:    localBus,
		membership:  deps.Membership,
		haMgr:       deps.HA,
		codecs:      codecs,
		metricsSink: sink,
	}, nil
}

// Start binds the peer server, resolves this node's public address,
// announces it under the HA manager, and begins reacting to crash
// notifications. It returns once the peer server is accepting
// connections; the accept loop itself runs on a supervised goroutine.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.state != StateInit {
		state := n.state
		n.mu.Unlock()
		return fmt.Errorf("node: Start called in state %s, want %s", state, StateInit)
	}
	n.state = StateStarting
	n.mu.Unlock()

	srv, err := transport.Listen(n.opts.BindHost, n.opts.BindPort, n.metricsSink)
	if err != nil {
		return fmt.Errorf("bind peer server: %w", err)
	}

	boundPort := srv.Addr().(*net.TCPAddr).Port
	publicHost, publicPort := config.ResolvePublic(n.opts, boundPort)
	n.self = addr.NodeAddress{Host: publicHost, Port: publicPort}

	n.transportMgr = transport.NewManager(n.self, n.opts.PingInterval, n.opts.ConnectTimeout, n.opts.PendingQueueSize, n.metricsSink)
	n.reg = registry.New(n.membership, n.self)
	n.rtr = router.New(n.self, n.localBus, n.reg, n.transportMgr, n.codecs, n.metricsSink, n.opts.PendingQueueSize)
	n.server = srv

	runCtx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	g, gctx := errgroup.WithContext(runCtx)
	n.g = g
	g.Go(func() error {
		if err := n.server.Serve(gctx, n.rtr.HandleWireMessage); err != nil {
			return fmt.Errorf("peer server: %w", err)
		}
		return nil
	})

	if err := n.haMgr.Announce(ctx, n.self); err != nil {
		cancel()
		_ = srv.Close()
		return fmt.Errorf("announce to HA manager: %w", err)
	}
	n.unsubscribeCrash = n.haMgr.OnNodeCrashed(n.onNodeCrashed)

	if n.opts.AdminBindAddr != "" {
		adminSrv, err := admin.Listen(n.opts.AdminBindAddr, n)
		if err != nil {
			cancel()
			_ = srv.Close()
			return fmt.Errorf("bind admin listener: %w", err)
		}
		n.adminSrv = adminSrv
		g.Go(func() error {
			if err := adminSrv.Serve(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
		slog.Info("admin listener bound", "address", adminSrv.Addr())
	}

	n.mu.Lock()
	n.state = StateRunning
	n.mu.Unlock()
	slog.Info("node started", "address", n.self)
	return nil
}

// onNodeCrashed withdraws every registration the crashed peer owned and
// stops retrying its outbound connection, per spec.md §4.6.
func (n *Node) onNodeCrashed(crashed addr.NodeAddress) {
	if crashed == n.self {
		return
	}
	if err := n.reg.NodeCrashed(context.Background(), crashed); err != nil {
		slog.Error("failed to clean up registrations for crashed node", "node", crashed, "err", err)
	}
	n.transportMgr.Evict(crashed)
}

// Stop runs the shutdown sequence: stop reacting to crashes, close the HA
// manager (the announcement itself is not withdrawn), stop the local bus, then close the peer server, wait for
// the accept loop to exit, close the router's dispatch goroutine, and
// finally close every connection holder. The first error encountered is
// returned; every step still runs.
func (n *Node) Stop() error {
	n.mu.Lock()
	if n.state != StateRunning {
		state := n.state
		n.mu.Unlock()
		return fmt.Errorf("node: Stop called in state %s, want %s", state, StateRunning)
	}
	n.state = StateStopping
	n.mu.Unlock()

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if n.unsubscribeCrash != nil {
		n.unsubscribeCrash()
	}
	record(n.haMgr.Close())

	record(n.localBus.Close())

	if n.cancel != nil {
		n.cancel()
	}
	if n.adminSrv != nil {
		record(n.adminSrv.Close())
	}
	record(n.server.Close())
	if n.g != nil {
		if err := n.g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			record(err)
		}
	}

	record(n.rtr.Close())
	record(n.transportMgr.CloseAll())

	n.mu.Lock()
	n.state = StateStopped
	n.mu.Unlock()
	slog.Info("node stopped", "address", n.self)
	return firstErr
}

// Self returns this node's advertised NodeAddress. Zero until Start has
// run.
func (n *Node) Self() addr.NodeAddress { return n.self }

// Router exposes the clustered send/publish/reply engine.
func (n *Node) Router() *router.Router { return n.rtr }

// Bus exposes the local publish/subscribe dispatcher.
func (n *Node) Bus() bus.Bus { return n.localBus }

// Registry exposes the subscription registry adapter, for callers that
// need to register/deregister local consumers.
func (n *Node) Registry() *registry.Client { return n.reg }

// State reports the node's current lifecycle stage.
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// AdminAddr returns the bound admin listener address, or nil if the admin
// surface was never enabled.
func (n *Node) AdminAddr() net.Addr {
	if n.adminSrv == nil {
		return nil
	}
	return n.adminSrv.Addr()
}

// AdminStatus implements admin.Backend for clusterbusctl's status command.
func (n *Node) AdminStatus() admin.StatusInfo {
	return admin.StatusInfo{Self: n.self.String(), State: n.State().String()}
}

// AdminSubs implements admin.Backend for clusterbusctl's subs command.
func (n *Node) AdminSubs(ctx context.Context, address string) (admin.SubsInfo, error) {
	choosable, err := n.reg.Lookup(ctx, address)
	if err != nil {
		return admin.SubsInfo{}, fmt.Errorf("lookup %s: %w", address, err)
	}
	nodes := make([]string, 0, choosable.Len())
	for _, node := range choosable.Nodes() {
		nodes = append(nodes, node.String())
	}
	return admin.SubsInfo{Address: address, Nodes: nodes}, nil
}

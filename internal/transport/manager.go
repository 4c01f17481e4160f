package transport

import (
	"context"
	"sync"
	"time"

	"clusterbus/internal/addr"
	"clusterbus/internal/metrics"
)

// Manager owns the connections map: at most one Holder per peer, per
// spec.md's §3/§5 unique-holder invariant. Creation uses sync.Map's
// LoadOrStore as the put-if-absent primitive; a losing creator's fresh
// Holder is simply discarded, never connected.
type Manager struct {
	self addr.NodeAddress

	pingInterval     time.Duration
	connectTimeout   time.Duration
	pendingQueueSize int
	metricsSink      *metrics.Sink

	connections sync.Map // addr.NodeAddress -> *Holder
}

// NewManager returns a Manager for self's outbound connections.
func NewManager(self addr.NodeAddress, pingInterval, connectTimeout time.Duration, pendingQueueSize int, sink *metrics.Sink) *Manager {
	return &Manager{
		self:             self,
		pingInterval:     pingInterval,
		connectTimeout:   connectTimeout,
		pendingQueueSize: pendingQueueSize,
		metricsSink:      sink,
	}
}

// HolderFor returns the (possibly newly created) Holder for peer, starting
// its connect() goroutine exactly once. It does not check peer against
// self: callers are responsible for the no-self-transport invariant
// (spec.md §8 invariant 2); Router enforces it before reaching here.
func (m *Manager) HolderFor(peer addr.NodeAddress) *Holder {
	if v, ok := m.connections.Load(peer); ok {
		return v.(*Holder)
	}

	fresh := newHolder(peer, m.self, m, m.pingInterval, m.connectTimeout, m.pendingQueueSize, m.metricsSink)
	actual, loaded := m.connections.LoadOrStore(peer, fresh)
	h := actual.(*Holder)
	if !loaded {
		go h.connect(context.Background())
	}
	return h
}

// evict removes h from the map iff it is still the holder registered for
// peer — the compare-and-remove half of the unique-holder invariant.
func (m *Manager) evict(peer addr.NodeAddress, h *Holder) {
	m.connections.CompareAndDelete(peer, h)
}

// Evict closes and removes the holder for peer, if one exists. Used on a
// node-crashed notification to stop retrying a peer that is never coming
// back, without needing to mint a fresh holder just to close it.
func (m *Manager) Evict(peer addr.NodeAddress) {
	if v, ok := m.connections.Load(peer); ok {
		_ = v.(*Holder).Close()
	}
}

// Count returns the number of tracked holders, for tests and diagnostics.
func (m *Manager) Count() int {
	n := 0
	m.connections.Range(func(any, any) bool { n++; return true })
	return n
}

// CloseAll closes every holder, surfacing the first error while
// continuing to close the rest, per spec.md §4.6's shutdown contract.
func (m *Manager) CloseAll() error {
	var firstErr error
	m.connections.Range(func(_, v any) bool {
		if err := v.(*Holder).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

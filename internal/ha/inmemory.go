package ha

import (
	"context"
	"sync"

	"clusterbus/internal/addr"
)

// InMemory is a single-process Manager for tests and single-node runs.
// Crash events must be raised manually via Crash, since there is no real
// failure detector behind a single process.
type InMemory struct {
	mu       sync.Mutex
	self     addr.NodeAddress
	handlers map[int]func(addr.NodeAddress)
	nextID   int
}

// NewInMemory returns an empty in-memory HA manager.
func NewInMemory() *InMemory {
	return &InMemory{handlers: map[int]func(addr.NodeAddress){}}
}

func (m *InMemory) Announce(_ context.Context, self addr.NodeAddress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.self = self
	return nil
}

func (m *InMemory) OnNodeCrashed(handler func(addr.NodeAddress)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.handlers[id] = handler
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.handlers, id)
	}
}

// Crash fires every registered handler with node's address, simulating the
// membership service observing node's HA info disappear.
func (m *InMemory) Crash(node addr.NodeAddress) {
	m.mu.Lock()
	handlers := make([]func(addr.NodeAddress), 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(node)
	}
}

func (m *InMemory) Close() error { return nil }

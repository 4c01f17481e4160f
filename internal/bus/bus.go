// Package bus is the node-local publish/subscribe dispatcher the clustered
// router composes over and delegates local delivery to (spec.md's
// "local bus" collaborator, out of cluster scope but needed end to end).
package bus

import (
	"context"
	"sync"
	"sync/atomic"

	"clusterbus/internal/addr"
)

// Message is what a local handler receives: a decoded, possibly
// wire-originated message.
type Message struct {
	Sender       addr.NodeAddress
	Address      string
	ReplyAddress string
	Headers      map[string]string
	Body         any
	FromWire     bool
}

// Handler processes one delivered Message.
type Handler func(Message)

// Bus is the capability set the clustered router composes over.
type Bus interface {
	// RegisterLocal adds h as a handler for address. The returned func
	// removes it.
	RegisterLocal(address string, h Handler) (unregister func())
	// DeliverLocal dispatches msg to address's local handlers. When isSend
	// is true, exactly one handler is chosen (round-robin); otherwise every
	// handler receives the message. A message with no local handlers is
	// silently discarded — the best-effort contract spec.md describes.
	DeliverLocal(ctx context.Context, msg Message, isSend bool)
	// Close unregisters everything; in-flight deliveries are not awaited.
	Close() error
}

type subscription struct {
	id int
	h  Handler
}

// memoryBus is the concrete in-process Bus.
type memoryBus struct {
	mu      sync.RWMutex
	subs    map[string][]subscription
	cursors map[string]*uint64
	nextID  int
	closed  bool
}

// New returns an empty in-process Bus.
func New() Bus {
	return &memoryBus{
		subs:    map[string][]subscription{},
		cursors: map[string]*uint64{},
	}
}

func (b *memoryBus) RegisterLocal(address string, h Handler) (unregister func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[address] = append(b.subs[address], subscription{id: id, h: h})
	if _, ok := b.cursors[address]; !ok {
		b.cursors[address] = new(uint64)
	}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[address]
		for i, s := range list {
			if s.id == id {
				b.subs[address] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(b.subs[address]) == 0 {
			delete(b.subs, address)
			delete(b.cursors, address)
		}
	}
}

func (b *memoryBus) DeliverLocal(_ context.Context, msg Message, isSend bool) {
	b.mu.RLock()
	list := append([]subscription(nil), b.subs[msg.Address]...)
	cursor := b.cursors[msg.Address]
	closed := b.closed
	b.mu.RUnlock()

	if closed || len(list) == 0 {
		return
	}

	if !isSend {
		for _, s := range list {
			s.h(msg)
		}
		return
	}

	i := atomic.AddUint64(cursor, 1) - 1
	list[i%uint64(len(list))].h(msg)
}

func (b *memoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = map[string][]subscription{}
	b.cursors = map[string]*uint64{}
	return nil
}

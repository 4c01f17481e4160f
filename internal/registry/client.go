// Package registry is the thin adapter between the local bus's
// subscribe/unsubscribe calls and the replicated membership.Registry
// (C4 of spec.md's component table): it is the only place that decides
// when a registration is worth telling the cluster about.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/containerd/errdefs"

	"clusterbus/internal/addr"
	"clusterbus/internal/membership"
)

// Client counts advertisable (non-reply, non-local-only) local handlers
// per address and calls into the backend registry only on the first
// registration and the last deregistration for that address on this
// node, per spec.md §4.4.
type Client struct {
	backend membership.Registry
	self    addr.NodeAddress

	mu     sync.Mutex
	counts map[string]int
}

// New returns a Client fronting backend for self's registrations.
func New(backend membership.Registry, self addr.NodeAddress) *Client {
	return &Client{
		backend: backend,
		self:    self,
		counts:  make(map[string]int),
	}
}

// AddRegistration records a new local handler for address. Reply
// handlers and explicitly local-only consumers never reach the backend
// registry; everything else is advertised only on the first such
// handler for address on this node.
func (c *Client) AddRegistration(ctx context.Context, address string, isReplyHandler, isLocalOnly bool) error {
	if isReplyHandler || isLocalOnly {
		return nil
	}

	c.mu.Lock()
	c.counts[address]++
	first := c.counts[address] == 1
	c.mu.Unlock()

	if !first {
		return nil
	}

	if err := c.backend.Add(ctx, address, c.self); err != nil {
		c.mu.Lock()
		c.counts[address]--
		c.mu.Unlock()
		return fmt.Errorf("advertise %s: %w", address, err)
	}
	return nil
}

// RemoveRegistration withdraws one local handler for address. The
// backend registry is only told when this was the last advertisable
// handler for address remaining on this node. Removing a registration
// nothing is tracking for is reported via errdefs.ErrNotFound, per
// spec.md §7's error handling table.
func (c *Client) RemoveRegistration(ctx context.Context, address string, isReplyHandler, isLocalOnly bool) error {
	if isReplyHandler || isLocalOnly {
		return nil
	}

	c.mu.Lock()
	n, ok := c.counts[address]
	if !ok || n == 0 {
		c.mu.Unlock()
		return fmt.Errorf("remove registration %s: %w", address, errdefs.ErrNotFound)
	}
	n--
	if n == 0 {
		delete(c.counts, address)
	} else {
		c.counts[address] = n
	}
	c.mu.Unlock()

	if n > 0 {
		return nil
	}

	found, err := c.backend.Remove(ctx, address, c.self)
	if err != nil {
		return fmt.Errorf("withdraw %s: %w", address, err)
	}
	if !found {
		return fmt.Errorf("withdraw %s: %w", address, errdefs.ErrNotFound)
	}
	return nil
}

// Lookup resolves address to a choosable set of candidate nodes.
func (c *Client) Lookup(ctx context.Context, address string) (membership.Choosable, error) {
	return c.backend.Get(ctx, address)
}

// NodeCrashed withdraws every registration owned by node, the cleanup
// spec.md §4.6 requires on a crash notification from the HA manager.
func (c *Client) NodeCrashed(ctx context.Context, node addr.NodeAddress) error {
	return c.backend.RemoveAllForValue(ctx, node)
}

// Package membership defines the replicated subscription-registry
// collaborator: spec.md's "Address -> Set<NodeAddress>" multi-map, owned by
// the cluster membership service and treated here as an injected
// dependency with swappable backends (see inmemory and grpcmap).
package membership

import (
	"context"

	"clusterbus/internal/addr"
)

// Registry is the contract inherited from the cluster service: a
// replicated mapping Address -> Set<NodeAddress>.
type Registry interface {
	// Add publishes (address, node) to the registry.
	Add(ctx context.Context, address string, node addr.NodeAddress) error
	// Remove withdraws (address, node). The bool reports whether an entry
	// was actually found and removed.
	Remove(ctx context.Context, address string, node addr.NodeAddress) (bool, error)
	// RemoveAllForValue removes every entry whose value is node, used on
	// node-crashed cleanup.
	RemoveAllForValue(ctx context.Context, node addr.NodeAddress) error
	// Get returns a choosable snapshot of the nodes registered for address.
	Get(ctx context.Context, address string) (Choosable, error)
}

// Choosable is a finite iterable of NodeAddress augmented with a fair
// selection operation for point-to-point routing.
type Choosable interface {
	// Nodes returns every node in the set, in no particular order.
	Nodes() []addr.NodeAddress
	// Choose picks one node using a round-robin or equivalent fair policy.
	// The second return value is false when the set is empty.
	Choose() (addr.NodeAddress, bool)
	// Len reports the set's size.
	Len() int
}

// Package ha defines the HA manager collaborator: it publishes and
// retrieves per-node metadata under the "server_id" key and raises a
// node-crashed event the node lifecycle (C6) reacts to by cleaning up the
// subscription registry for the failed peer.
package ha

import (
	"context"

	"clusterbus/internal/addr"
)

// HAKey is the metadata key under which a node's public NodeAddress is
// published, per spec.md §3/§6.
const HAKey = "server_id"

// Manager publishes node metadata and notifies on peer crash.
type Manager interface {
	// Announce publishes self's NodeAddress under HAKey.
	Announce(ctx context.Context, self addr.NodeAddress) error
	// OnNodeCrashed registers handler to be called with the failed peer's
	// reconstructed NodeAddress. The returned func unsubscribes.
	OnNodeCrashed(handler func(addr.NodeAddress)) (unsubscribe func())
	// Close releases any background resources (watch goroutines, conns).
	Close() error
}

package membership

import (
	"sync/atomic"

	"clusterbus/internal/addr"
)

// roundRobinSet is a Choosable snapshot backed by a shared, persistent
// cursor so repeated Choose calls for the same address cycle fairly
// across callers, rather than resetting to index 0 on every snapshot.
type roundRobinSet struct {
	nodes  []addr.NodeAddress
	cursor *uint64
}

// NewRoundRobinSet builds a Choosable over nodes, advancing cursor (shared
// across snapshots of the same address) on every Choose call.
func NewRoundRobinSet(nodes []addr.NodeAddress, cursor *uint64) Choosable {
	out := make([]addr.NodeAddress, len(nodes))
	copy(out, nodes)
	return &roundRobinSet{nodes: out, cursor: cursor}
}

func (s *roundRobinSet) Nodes() []addr.NodeAddress {
	out := make([]addr.NodeAddress, len(s.nodes))
	copy(out, s.nodes)
	return out
}

func (s *roundRobinSet) Len() int {
	return len(s.nodes)
}

func (s *roundRobinSet) Choose() (addr.NodeAddress, bool) {
	if len(s.nodes) == 0 {
		return addr.NodeAddress{}, false
	}
	i := atomic.AddUint64(s.cursor, 1) - 1
	return s.nodes[i%uint64(len(s.nodes))], true
}

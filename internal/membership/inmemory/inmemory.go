// Package inmemory is a single-process Registry backend for tests and
// single-node runs: a concurrent map standing in for the replicated
// multi-map the cluster membership service would otherwise provide.
package inmemory

import (
	"context"
	"sync"

	"clusterbus/internal/addr"
	"clusterbus/internal/membership"
)

// Registry implements membership.Registry over an in-process map. It is
// not replicated: it only serves a single node's view, which is exactly
// the view a single node needs for tests and for the common degenerate
// case (self is the only node in the cluster).
type Registry struct {
	mu      sync.RWMutex
	entries map[string]map[addr.NodeAddress]struct{}
	cursors map[string]*uint64
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		entries: map[string]map[addr.NodeAddress]struct{}{},
		cursors: map[string]*uint64{},
	}
}

func (r *Registry) Add(_ context.Context, address string, node addr.NodeAddress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.entries[address]
	if !ok {
		set = map[addr.NodeAddress]struct{}{}
		r.entries[address] = set
		r.cursors[address] = new(uint64)
	}
	set[node] = struct{}{}
	return nil
}

func (r *Registry) Remove(_ context.Context, address string, node addr.NodeAddress) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.entries[address]
	if !ok {
		return false, nil
	}
	if _, found := set[node]; !found {
		return false, nil
	}
	delete(set, node)
	if len(set) == 0 {
		delete(r.entries, address)
		delete(r.cursors, address)
	}
	return true, nil
}

func (r *Registry) RemoveAllForValue(_ context.Context, node addr.NodeAddress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for address, set := range r.entries {
		if _, ok := set[node]; ok {
			delete(set, node)
			if len(set) == 0 {
				delete(r.entries, address)
				delete(r.cursors, address)
			}
		}
	}
	return nil
}

func (r *Registry) Get(_ context.Context, address string) (membership.Choosable, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.entries[address]
	nodes := make([]addr.NodeAddress, 0, len(set))
	for n := range set {
		nodes = append(nodes, n)
	}
	cursor, ok := r.cursors[address]
	if !ok {
		cursor = new(uint64)
		r.cursors[address] = cursor
	}
	return membership.NewRoundRobinSet(nodes, cursor), nil
}

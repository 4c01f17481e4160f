package snapshot

import (
	"context"
	"log/slog"

	"clusterbus/internal/addr"
	"clusterbus/internal/membership"
)

// CachedRegistry wraps a membership.Registry backend, writing every
// successful Add/Remove through to a local Store. Get consults the cache
// only when the backend call itself fails — typically right after a
// restart, before the coordinator connection is up — and is never treated
// as authoritative once the backend answers successfully.
type CachedRegistry struct {
	backend membership.Registry
	store   *Store
}

// NewCachedRegistry wraps backend with a write-through snapshot cache.
func NewCachedRegistry(backend membership.Registry, store *Store) *CachedRegistry {
	return &CachedRegistry{backend: backend, store: store}
}

func (c *CachedRegistry) Add(ctx context.Context, address string, node addr.NodeAddress) error {
	if err := c.backend.Add(ctx, address, node); err != nil {
		return err
	}
	c.refresh(ctx, address)
	return nil
}

func (c *CachedRegistry) Remove(ctx context.Context, address string, node addr.NodeAddress) (bool, error) {
	found, err := c.backend.Remove(ctx, address, node)
	if err != nil {
		return found, err
	}
	c.refresh(ctx, address)
	return found, nil
}

func (c *CachedRegistry) RemoveAllForValue(ctx context.Context, node addr.NodeAddress) error {
	return c.backend.RemoveAllForValue(ctx, node)
}

func (c *CachedRegistry) Get(ctx context.Context, address string) (membership.Choosable, error) {
	choosable, err := c.backend.Get(ctx, address)
	if err != nil {
		slog.Warn("membership backend unavailable, falling back to local snapshot", "address", address, "err", err)
		nodes, loadErr := c.store.Load(address)
		if loadErr != nil {
			return nil, err
		}
		return membership.NewRoundRobinSet(nodes, new(uint64)), nil
	}

	if saveErr := c.store.Save(address, choosable.Nodes()); saveErr != nil {
		slog.Warn("failed to persist peer snapshot", "address", address, "err", saveErr)
	}
	return choosable, nil
}

// refresh re-reads address from the backend and persists it, used after a
// write so the cache reflects the backend's post-write state rather than
// just the single node that changed.
func (c *CachedRegistry) refresh(ctx context.Context, address string) {
	choosable, err := c.backend.Get(ctx, address)
	if err != nil {
		return
	}
	if err := c.store.Save(address, choosable.Nodes()); err != nil {
		slog.Warn("failed to persist peer snapshot", "address", address, "err", err)
	}
}

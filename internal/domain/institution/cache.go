// Package institution resolves opaque institution identifiers to display names.
package institution

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Cache stores resolved institution names. Entries are permanent: there is
// no eviction and no expiry. Put with an existing id overwrites it.
type Cache interface {
	Get(ctx context.Context, id string) (string, bool, error)
	Put(ctx context.Context, id, name string) error
}

// MemoryCache is the process-local Cache.
type MemoryCache struct {
	mu    sync.RWMutex
	names map[string]string
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{names: make(map[string]string)}
}

func (c *MemoryCache) Get(_ context.Context, id string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.names[id]
	return name, ok, nil
}

func (c *MemoryCache) Put(_ context.Context, id, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names[id] = name
	return nil
}

// Len returns the number of cached names.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.names)
}

// LayeredCache keeps a MemoryCache in front of an optional shared tier
// (Redis or Postgres). Reads go L1 then L2 and populate L1 on an L2 hit.
// Writes go to L2 first, then L1.
type LayeredCache struct {
	mem    *MemoryCache
	remote Cache
	logger zerolog.Logger
}

// NewLayeredCache creates a layered cache. remote may be nil, in which
// case the cache behaves like a plain MemoryCache.
func NewLayeredCache(remote Cache, logger zerolog.Logger) *LayeredCache {
	return &LayeredCache{
		mem:    NewMemoryCache(),
		remote: remote,
		logger: logger,
	}
}

// Local returns the in-process tier. Writes to it are not propagated to
// the shared tier.
func (c *LayeredCache) Local() *MemoryCache {
	return c.mem
}

func (c *LayeredCache) Get(ctx context.Context, id string) (string, bool, error) {
	if name, ok, _ := c.mem.Get(ctx, id); ok {
		return name, true, nil
	}
	if c.remote == nil {
		return "", false, nil
	}

	name, ok, err := c.remote.Get(ctx, id)
	if err != nil {
		c.logger.Warn().Err(err).Str("institution_id", id).Msg("shared institution cache read failed")
		return "", false, nil
	}
	if !ok {
		return "", false, nil
	}

	_ = c.mem.Put(ctx, id, name)
	return name, true, nil
}

func (c *LayeredCache) Put(ctx context.Context, id, name string) error {
	if c.remote != nil {
		if err := c.remote.Put(ctx, id, name); err != nil {
			c.logger.Warn().Err(err).Str("institution_id", id).Msg("shared institution cache write failed")
		}
	}
	return c.mem.Put(ctx, id, name)
}

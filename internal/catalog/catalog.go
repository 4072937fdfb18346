// Package catalog maintains the model catalog: metadata fetched from the
// hosted model listing, cached locally or in redis so startup never waits
// on the network.
package catalog

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ModelInfo is one catalog entry. Prices are kept as the upstream decimal
// strings; the gateway does no cost accounting.
type ModelInfo struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	ContextLength   int    `json:"context_length,omitempty"`
	PromptPrice     string `json:"prompt_price,omitempty"`
	CompletionPrice string `json:"completion_price,omitempty"`
}

// Snapshot is the cached catalog structure.
type Snapshot struct {
	Version   int         `json:"version"`
	UpdatedAt time.Time   `json:"updated_at"`
	Models    []ModelInfo `json:"models"`
}

// Cache stores catalog snapshots. Implementations must be safe for
// concurrent use. Get returns nil, nil when no snapshot exists yet.
type Cache interface {
	Get(ctx context.Context) (*Snapshot, error)
	Set(ctx context.Context, snap *Snapshot) error
	Close() error
}

// Lister fetches the live model listing.
type Lister interface {
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

// Catalog serves models from its in-memory snapshot, filling it from the
// cache or the lister on demand.
type Catalog struct {
	lister Lister
	cache  Cache

	mu     sync.RWMutex
	models []ModelInfo
}

func New(lister Lister, cache Cache) *Catalog {
	return &Catalog{lister: lister, cache: cache}
}

// Models returns the current catalog sorted by id, loading the cache on
// first use and falling back to a live fetch when the cache is empty.
func (c *Catalog) Models(ctx context.Context) ([]ModelInfo, error) {
	c.mu.RLock()
	if len(c.models) > 0 {
		models := append([]ModelInfo(nil), c.models...)
		c.mu.RUnlock()
		return models, nil
	}
	c.mu.RUnlock()

	if c.cache != nil {
		snap, err := c.cache.Get(ctx)
		if err == nil && snap != nil && len(snap.Models) > 0 {
			c.store(snap.Models)
			return append([]ModelInfo(nil), snap.Models...), nil
		}
	}
	return c.Refresh(ctx)
}

// Refresh fetches the live listing and updates the cache.
func (c *Catalog) Refresh(ctx context.Context) ([]ModelInfo, error) {
	models, err := c.lister.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	c.store(models)

	if c.cache != nil {
		snap := &Snapshot{Version: 1, UpdatedAt: time.Now().UTC(), Models: models}
		_ = c.cache.Set(ctx, snap)
	}
	return append([]ModelInfo(nil), models...), nil
}

func (c *Catalog) store(models []ModelInfo) {
	c.mu.Lock()
	c.models = append([]ModelInfo(nil), models...)
	c.mu.Unlock()
}

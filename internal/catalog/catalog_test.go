package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLister serves a fixed listing and counts fetches.
type fakeLister struct {
	models []ModelInfo
	err    error
	calls  int
}

func (l *fakeLister) ListModels(context.Context) ([]ModelInfo, error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return append([]ModelInfo(nil), l.models...), nil
}

func testListing() []ModelInfo {
	return []ModelInfo{
		{ID: "openai/gpt-4o", Name: "GPT-4o", ContextLength: 128000, PromptPrice: "0.0000025"},
		{ID: "anthropic/claude-sonnet-4", Name: "Claude Sonnet 4", ContextLength: 200000},
		{ID: "meta-llama/llama-3-70b", Name: "Llama 3 70B"},
	}
}

func TestModelsFetchesOnceAndSorts(t *testing.T) {
	lister := &fakeLister{models: testListing()}
	cat := New(lister, nil)
	ctx := context.Background()

	models, err := cat.Models(ctx)
	require.NoError(t, err)
	require.Len(t, models, 3)
	assert.Equal(t, "anthropic/claude-sonnet-4", models[0].ID)
	assert.Equal(t, "meta-llama/llama-3-70b", models[1].ID)
	assert.Equal(t, "openai/gpt-4o", models[2].ID)

	// Second call is served from memory.
	_, err = cat.Models(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, lister.calls)
}

func TestModelsPrefersCacheOverFetch(t *testing.T) {
	cache := NewLocalCache(filepath.Join(t.TempDir(), "models.json"))
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, &Snapshot{
		Version:   1,
		UpdatedAt: time.Now().UTC(),
		Models:    []ModelInfo{{ID: "cached/model", Name: "Cached"}},
	}))

	lister := &fakeLister{models: testListing()}
	cat := New(lister, cache)

	models, err := cat.Models(ctx)
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "cached/model", models[0].ID)
	assert.Equal(t, 0, lister.calls, "cache hit must not fetch")
}

func TestRefreshUpdatesCache(t *testing.T) {
	cache := NewLocalCache(filepath.Join(t.TempDir(), "models.json"))
	lister := &fakeLister{models: testListing()}
	cat := New(lister, cache)
	ctx := context.Background()

	_, err := cat.Refresh(ctx)
	require.NoError(t, err)

	snap, err := cache.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 1, snap.Version)
	assert.Len(t, snap.Models, 3)
	assert.False(t, snap.UpdatedAt.IsZero())
}

func TestRefreshErrorPropagates(t *testing.T) {
	lister := &fakeLister{err: errors.New("upstream down")}
	cat := New(lister, nil)

	_, err := cat.Models(context.Background())
	assert.Error(t, err)
}

func TestLocalCacheEmptyPath(t *testing.T) {
	cache := NewLocalCache("")
	ctx := context.Background()

	snap, err := cache.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap)

	require.NoError(t, cache.Set(ctx, &Snapshot{Version: 1}))
}

func TestLocalCacheMissingFile(t *testing.T) {
	cache := NewLocalCache(filepath.Join(t.TempDir(), "never-written.json"))
	snap, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap)
}

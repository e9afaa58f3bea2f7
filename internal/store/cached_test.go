package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netsblox/cloud/internal/model"
)

func TestCachedMetadataStoreServesFromCacheAfterCreate(t *testing.T) {
	backing := NewMemoryStore()
	cached, err := NewCachedMetadataStore(backing, 10)
	require.NoError(t, err)
	ctx := context.Background()

	p := model.ProjectMetadata{ID: "p1", Owner: "bob", Name: "proj"}
	require.NoError(t, cached.CreateProject(ctx, p))

	got, err := cached.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "proj", got.Name)

	// Delete directly from the backing store; the cache should still
	// serve the stale copy until explicitly invalidated by an Update or
	// Delete through the cached wrapper.
	require.NoError(t, backing.DeleteProject(ctx, "p1"))
	got, err = cached.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "proj", got.Name)
}

func TestCachedMetadataStoreInvalidatesOnUpdate(t *testing.T) {
	backing := NewMemoryStore()
	cached, err := NewCachedMetadataStore(backing, 10)
	require.NoError(t, err)
	ctx := context.Background()

	p := model.ProjectMetadata{ID: "p1", Owner: "bob", Name: "proj"}
	require.NoError(t, cached.CreateProject(ctx, p))
	_, err = cached.GetProject(ctx, "p1")
	require.NoError(t, err)

	p.Name = "renamed"
	require.NoError(t, cached.UpdateProject(ctx, p))

	got, err := cached.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
}

func TestCachedMetadataStoreInvalidatesOnDelete(t *testing.T) {
	backing := NewMemoryStore()
	cached, err := NewCachedMetadataStore(backing, 10)
	require.NoError(t, err)
	ctx := context.Background()

	p := model.ProjectMetadata{ID: "p1"}
	require.NoError(t, cached.CreateProject(ctx, p))
	require.NoError(t, cached.DeleteProject(ctx, "p1"))

	_, err = cached.GetProject(ctx, "p1")
	assert.Error(t, err)
}

func TestCachedMetadataStoreDefaultsSize(t *testing.T) {
	cached, err := NewCachedMetadataStore(NewMemoryStore(), 0)
	require.NoError(t, err)
	assert.NotNil(t, cached)
}

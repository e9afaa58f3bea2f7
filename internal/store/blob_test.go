package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBlobStorePutGetDelete(t *testing.T) {
	b := NewMemoryBlobStore()
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, "k1", []byte("hello")))
	got, err := b.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	require.NoError(t, b.Delete(ctx, "k1"))
	_, err = b.Get(ctx, "k1")
	assert.Error(t, err)
}

func TestMemoryBlobStoreGetMissing(t *testing.T) {
	b := NewMemoryBlobStore()
	_, err := b.Get(context.Background(), "missing")
	assert.Error(t, err)
}

func TestMemoryBlobStoreCopiesOnPut(t *testing.T) {
	b := NewMemoryBlobStore()
	ctx := context.Background()
	data := []byte("mutate-me")
	require.NoError(t, b.Put(ctx, "k", data))
	data[0] = 'X'

	got, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, byte('m'), got[0])
}

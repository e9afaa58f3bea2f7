package store

import (
	"context"
	"sync"

	"github.com/netsblox/cloud/internal/usererr"
)

// MemoryBlobStore is the in-memory reference BlobStore. A
// production deployment points this interface at an object store; picking
// one is out of the core's scope.
type MemoryBlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{data: make(map[string][]byte)}
}

func (b *MemoryBlobStore) Put(_ context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	b.data[key] = cp
	return nil
}

func (b *MemoryBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[key]
	if !ok {
		return nil, usererr.New(usererr.S3, "blob not found")
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (b *MemoryBlobStore) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	return nil
}

var _ BlobStore = (*MemoryBlobStore)(nil)

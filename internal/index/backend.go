package index

import (
	"context"
	"sync"
)

// Backend persists the whole index document. Every write replaces the stored
// document; the last write wins.
type Backend interface {
	InitializeIndex(ctx context.Context, data *Data) error
	DropIndex(ctx context.Context) error
	UpdateIndex(ctx context.Context, data *Data) error
	IndexInitialized(ctx context.Context) (bool, error)
	RetrieveIndex(ctx context.Context) (*Data, error)
}

// MemoryBackend keeps the index document in memory. Used in tests and when
// persistence is disabled.
type MemoryBackend struct {
	mu   sync.Mutex
	data *Data
}

// NewMemoryBackend returns an empty, uninitialized backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// InitializeIndex stores data as a new index.
func (b *MemoryBackend) InitializeIndex(_ context.Context, data *Data) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = data.Clone()
	return nil
}

// DropIndex forgets the stored index.
func (b *MemoryBackend) DropIndex(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = nil
	return nil
}

// UpdateIndex replaces the stored index.
func (b *MemoryBackend) UpdateIndex(_ context.Context, data *Data) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = data.Clone()
	return nil
}

// IndexInitialized reports whether an index is stored.
func (b *MemoryBackend) IndexInitialized(_ context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data != nil, nil
}

// RetrieveIndex returns a copy of the stored index, or ErrNotFound.
func (b *MemoryBackend) RetrieveIndex(_ context.Context) (*Data, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		return nil, ErrNotFound
	}
	return b.data.Clone(), nil
}

package relay

import (
	"context"
	"sync"
)

// BlobStore keeps uploaded ciphertext as ordered parts.
type BlobStore interface {
	// Append stores part, which callers guarantee to be the next in order.
	Append(ctx context.Context, id string, part int, data []byte) error
	// Read returns the concatenation of all parts of id.
	Read(ctx context.Context, id string) ([]byte, error)
	// Delete drops every part of id. Deleting a missing blob is not an error.
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
	Close() error
}

// MemoryBlobStore keeps blobs in process memory.
type MemoryBlobStore struct {
	blobs map[string][]byte
	mu    sync.RWMutex
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

func (m *MemoryBlobStore) Append(_ context.Context, id string, _ int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[id] = append(m.blobs[id], data...)
	return nil
}

func (m *MemoryBlobStore) Read(_ context.Context, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[id]
	if !ok {
		return nil, ErrBlobNotFound
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (m *MemoryBlobStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, id)
	return nil
}

func (m *MemoryBlobStore) Ping(context.Context) error { return nil }

func (m *MemoryBlobStore) Close() error { return nil }

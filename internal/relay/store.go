package relay

import (
	"context"
	"sync"
	"time"
)

// RecordStore persists exchange records.
type RecordStore interface {
	Create(ctx context.Context, r *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	Update(ctx context.Context, r *Record) error
	Delete(ctx context.Context, id string) error
	// Expired lists ids of records whose TTL ended before now.
	Expired(ctx context.Context, now time.Time) ([]string, error)
	Count(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// MemoryRecordStore manages in-memory record storage
type MemoryRecordStore struct {
	records map[string]*Record
	mu      sync.RWMutex
}

// NewMemoryRecordStore creates a new record store
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		records: make(map[string]*Record),
	}
}

// Create adds a new record to the store
func (s *MemoryRecordStore) Create(_ context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[r.ID]; exists {
		return ErrRecordExists
	}

	s.records[r.ID] = r.clone()
	return nil
}

// Get retrieves a copy of a record by ID
func (s *MemoryRecordStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.records[id]
	if !exists {
		return nil, ErrRecordNotFound
	}

	return r.clone(), nil
}

// Update replaces an existing record
func (s *MemoryRecordStore) Update(_ context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[r.ID]; !exists {
		return ErrRecordNotFound
	}

	s.records[r.ID] = r.clone()
	return nil
}

// Delete removes a record from the store
func (s *MemoryRecordStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[id]; !exists {
		return ErrRecordNotFound
	}

	delete(s.records, id)
	return nil
}

func (s *MemoryRecordStore) Expired(_ context.Context, now time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, r := range s.records {
		if r.Expired(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *MemoryRecordStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func (s *MemoryRecordStore) Ping(context.Context) error { return nil }

func (s *MemoryRecordStore) Close() error { return nil }

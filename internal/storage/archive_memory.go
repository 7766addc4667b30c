package storage

import (
	"context"
	"sync"
)

// InMemoryRollupStore keeps archived records in process memory.
type InMemoryRollupStore struct {
	mu       sync.RWMutex
	blobs    map[string][]byte
	numerics map[string]float64
}

// NewInMemoryRollupStore creates an empty rollup store.
func NewInMemoryRollupStore() *InMemoryRollupStore {
	return &InMemoryRollupStore{
		blobs:    make(map[string][]byte),
		numerics: make(map[string]float64),
	}
}

func (s *InMemoryRollupStore) PutBlob(ctx context.Context, key ArchiveKey, blob []byte) error {
	cp := make([]byte, len(blob))
	copy(cp, blob)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key.String()] = cp
	return nil
}

func (s *InMemoryRollupStore) GetBlob(ctx context.Context, key ArchiveKey) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.blobs[key.String()]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(blob))
	copy(cp, blob)
	return cp, true, nil
}

func (s *InMemoryRollupStore) PutNumeric(ctx context.Context, key ArchiveKey, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.numerics[key.String()] = value
	return nil
}

func (s *InMemoryRollupStore) GetNumeric(ctx context.Context, key ArchiveKey) (float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.numerics[key.String()]
	return v, ok, nil
}

// Len returns the number of stored records.
func (s *InMemoryRollupStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs) + len(s.numerics)
}

package engine

import (
	"context"
	"sync"
)

// Compile time check to ensure MapStore satisfies the Store interface.
var _ Store = (*MapStore)(nil)

// MapStore is an in-memory Store backed by a map.
type MapStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMapStore creates an empty in-memory store.
func NewMapStore() *MapStore {
	return &MapStore{records: make(map[string]Record)}
}

// Get retrieves the record stored under id.
func (s *MapStore) Get(ctx context.Context, id string) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]

	return rec, ok, nil
}

// Set stores the record under id, replacing any previous one.
func (s *MapStore) Set(ctx context.Context, id string, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[id] = rec

	return nil
}

// Delete removes the record under id.
func (s *MapStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, id)

	return nil
}

// Len returns the number of stored records.
func (s *MapStore) Len(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.records), nil
}

// Clear removes all records.
func (s *MapStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]Record)

	return nil
}

// ToMap returns a copy of all records keyed by id.
func (s *MapStore) ToMap(ctx context.Context) (map[string]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Record, len(s.records))
	for id, rec := range s.records {
		out[id] = rec
	}

	return out, nil
}

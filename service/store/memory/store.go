package memory

import (
	"context"
	"sync"

	"github.com/viant/hitloop/model"
	"github.com/viant/hitloop/service/store"
)

// Store is an in-memory implementation of store.Store.
// Records are cloned on the way in and out so callers never share state
// with the store.
type Store struct {
	mu      sync.RWMutex
	records map[string]*model.Record
}

// Save stores or overwrites a record.
func (s *Store) Save(_ context.Context, record *model.Record) error {
	if err := store.Validate(record); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = record.Clone()
	return nil
}

// Get returns a record by id.
func (s *Store) Get(_ context.Context, id string) (*model.Record, error) {
	if id == "" {
		return nil, store.ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return record.Clone(), nil
}

// ListPending returns pending records ordered by creation time.
func (s *Store) ListPending(_ context.Context, threadRef string) ([]*model.Record, error) {
	s.mu.RLock()
	out := make([]*model.Record, 0, len(s.records))
	for _, record := range s.records {
		if store.Matches(record, threadRef) {
			out = append(out, record.Clone())
		}
	}
	s.mu.RUnlock()
	store.SortByCreated(out)
	return out, nil
}

// MarkResolved resolves a pending record.
func (s *Store) MarkResolved(_ context.Context, id string, resolution *store.Resolution) (*model.Record, error) {
	if err := resolution.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := resolution.Apply(record); err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

// RecordDelivery updates delivery bookkeeping of a pending record.
func (s *Store) RecordDelivery(_ context.Context, id string, delivery *store.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return store.ErrNotFound
	}
	delivery.Apply(record)
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// Len returns number of stored records
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// New creates an in-memory store
func New() *Store {
	return &Store{records: make(map[string]*model.Record)}
}

var _ store.Store = (*Store)(nil)

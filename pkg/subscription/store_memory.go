package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrymomot/subsync/pkg/identity"
)

// MemoryStore is an in-process Store. It backs tests and the development
// mode without a database.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]Record
	uuidKeys bool
	now      func() time.Time
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithUUIDKeys makes the store reject non-UUID keys with ErrKeyFormatRejected,
// mirroring a uuid-typed key column.
func WithUUIDKeys() MemoryStoreOption {
	return func(s *MemoryStore) { s.uuidKeys = true }
}

// WithMemoryStoreNow overrides the timestamp source for CreatedAt/UpdatedAt.
func WithMemoryStoreNow(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		records: make(map[string]Record),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) checkKey(key string) error {
	if s.uuidKeys && !identity.IsUUID(key) {
		return ErrKeyFormatRejected
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, userKey string) (*Record, error) {
	if err := s.checkKey(userKey); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[userKey]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &rec, nil
}

func (s *MemoryStore) GetByCustomerID(_ context.Context, customerID string) (*Record, error) {
	if customerID == "" {
		return nil, ErrRecordNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// Most recently written row wins, same as ordering by last_updated in SQL.
	var found *Record
	for _, rec := range s.records {
		if rec.ExternalCustomerID != customerID {
			continue
		}
		if found == nil || rec.LastUpdated > found.LastUpdated {
			r := rec
			found = &r
		}
	}
	if found == nil {
		return nil, ErrRecordNotFound
	}
	return found, nil
}

func (s *MemoryStore) Upsert(_ context.Context, rec Record) (*Record, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkKey(rec.UserKey); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if prev, ok := s.records[rec.UserKey]; ok {
		rec.CreatedAt = prev.CreatedAt
		if rec.LastUpdated <= prev.LastUpdated {
			rec.LastUpdated = prev.LastUpdated + 1
		}
	} else {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	s.records[rec.UserKey] = rec

	return &rec, nil
}

func (s *MemoryStore) ConditionalUpsert(_ context.Context, rec Record) (*Record, bool, error) {
	if err := rec.Validate(); err != nil {
		return nil, false, err
	}
	if err := s.checkKey(rec.UserKey); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	prev, exists := s.records[rec.UserKey]
	if exists && prev.LastUpdated >= rec.LastUpdated {
		return &prev, false, nil
	}
	if exists {
		rec.CreatedAt = prev.CreatedAt
	} else {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	s.records[rec.UserKey] = rec

	return &rec, true, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

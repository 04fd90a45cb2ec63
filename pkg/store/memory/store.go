// Package memory provides an in-process content store backend.
//
// Items live in a map guarded by a mutex and expire lazily on read; there is
// no background sweeper. The backend counts put and get calls so tests can
// assert that pass-through payloads never touch the store.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stashproxy/stashproxy/pkg/store"
)

// Store is an in-memory store.Backend. Safe for concurrent use.
type Store struct {
	location string

	mu    sync.RWMutex
	items map[string]store.Item

	puts atomic.Int64
	gets atomic.Int64

	// FailPutWith and FailGetWith, when set, make the next calls fail
	// with the given error. Tests use these to exercise retry paths.
	FailPutWith error
	FailGetWith error

	now func() time.Time
}

// New creates an empty store addressed by location.
func New(location string) *Store {
	return &Store{
		location: location,
		items:    make(map[string]store.Item),
		now:      time.Now,
	}
}

func (s *Store) Name() string     { return "memory" }
func (s *Store) Location() string { return s.location }

// PutItem stores the item under key.
func (s *Store) PutItem(ctx context.Context, key string, item store.Item) error {
	s.puts.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.FailPutWith != nil {
		return s.FailPutWith
	}

	s.mu.Lock()
	s.items[key] = item
	s.mu.Unlock()
	return nil
}

// GetItem returns the item under key, treating expired items as missing.
func (s *Store) GetItem(ctx context.Context, key string) (store.Item, error) {
	s.gets.Add(1)
	if err := ctx.Err(); err != nil {
		return store.Item{}, err
	}
	if s.FailGetWith != nil {
		return store.Item{}, s.FailGetWith
	}

	s.mu.RLock()
	item, ok := s.items[key]
	s.mu.RUnlock()

	if !ok || item.Expired(s.now()) {
		return store.Item{}, store.ErrNotFound
	}
	return item, nil
}

// PutCalls returns how many PutItem calls were made.
func (s *Store) PutCalls() int64 { return s.puts.Load() }

// GetCalls returns how many GetItem calls were made.
func (s *Store) GetCalls() int64 { return s.gets.Load() }

// Len returns the number of items currently held, expired or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// SetClock overrides the expiry clock. Tests use this to simulate TTL lapse.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Package badger provides a content store backend on an embedded Badger
// database. It suits single-host deployments and local testing where no
// external store is reachable; items expire through Badger's native entry
// TTL.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/stashproxy/stashproxy/pkg/store"
)

// Store is a store.Backend on a local Badger database.
type Store struct {
	db       *badger.DB
	location string
	now      func() time.Time
}

// Config configures the Badger backend.
type Config struct {
	// Path is the database directory. Created if it does not exist.
	Path string

	// Location is the key namespace embedded in reference tokens.
	Location string
}

// New opens (or creates) the database at cfg.Path.
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	opts.Logger = nil // badger's own logger is too chatty for a sidecar

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %q: %w", cfg.Path, err)
	}

	return &Store{db: db, location: cfg.Location, now: time.Now}, nil
}

func (s *Store) Name() string     { return "badger" }
func (s *Store) Location() string { return s.location }

// Close releases the database. Call on process shutdown.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) key(key string) []byte {
	return []byte(s.location + "/" + key)
}

// PutItem writes the item with an entry TTL derived from its expiry
// timestamp, so Badger garbage-collects it without any sweeper of ours.
func (s *Store) PutItem(ctx context.Context, key string, item store.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	val, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode stored item: %w", err)
	}

	ttl := item.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		ttl = time.Second
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(s.key(key), val).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return store.NewStoreError("put", s.Name(), key, fmt.Errorf("%w: %v", store.ErrUnavailable, err))
	}
	return nil
}

// GetItem reads the item under key. Badger drops expired entries on read,
// so a lapsed TTL reports not found without an explicit expiry check.
func (s *Store) GetItem(ctx context.Context, key string) (store.Item, error) {
	if err := ctx.Err(); err != nil {
		return store.Item{}, err
	}

	var item store.Item
	err := s.db.View(func(txn *badger.Txn) error {
		entry, err := txn.Get(s.key(key))
		if err != nil {
			return err
		}
		return entry.Value(func(val []byte) error {
			return json.Unmarshal(val, &item)
		})
	})

	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return store.Item{}, store.ErrNotFound
	case err != nil:
		return store.Item{}, store.NewStoreError("get", s.Name(), key, fmt.Errorf("%w: %v", store.ErrUnavailable, err))
	}

	// Badger entry TTL has second granularity; enforce the exact expiry.
	if item.Expired(s.now()) {
		return store.Item{}, store.ErrNotFound
	}
	return item, nil
}

// Package redis provides a content store backend on Redis. Expiry uses the
// server's native key TTL, set from the item's expiry timestamp at write
// time.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stashproxy/stashproxy/pkg/store"
)

// Store is a store.Backend on a Redis server. The underlying go-redis
// client pools connections and is safe for concurrent use.
type Store struct {
	client   *redis.Client
	location string
	now      func() time.Time
}

// Config configures the Redis backend.
type Config struct {
	// Addr is the host:port of the Redis server.
	Addr string

	// Password is optional.
	Password string

	// DB selects the logical database.
	DB int

	// Location is the key namespace embedded in reference tokens.
	Location string
}

// New creates a Redis-backed store. The connection is established lazily;
// a dead server surfaces as ErrUnavailable on first use.
func New(cfg Config) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Store{client: client, location: cfg.Location, now: time.Now}
}

func (s *Store) Name() string     { return "redis" }
func (s *Store) Location() string { return s.location }

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(key string) string {
	return s.location + ":" + key
}

// PutItem writes the JSON-encoded item with a TTL from its expiry timestamp.
func (s *Store) PutItem(ctx context.Context, key string, item store.Item) error {
	val, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode stored item: %w", err)
	}

	ttl := item.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		ttl = time.Second
	}

	if err := s.client.Set(ctx, s.key(key), val, ttl).Err(); err != nil {
		return store.NewStoreError("put", s.Name(), key, fmt.Errorf("%w: %v", store.ErrUnavailable, err))
	}
	return nil
}

// GetItem reads the item under key. Redis expires keys server-side, so a
// lapsed TTL reports not found.
func (s *Store) GetItem(ctx context.Context, key string) (store.Item, error) {
	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return store.Item{}, store.ErrNotFound
	case err != nil:
		return store.Item{}, store.NewStoreError("get", s.Name(), key, fmt.Errorf("%w: %v", store.ErrUnavailable, err))
	}

	var item store.Item
	if err := json.Unmarshal(val, &item); err != nil {
		return store.Item{}, fmt.Errorf("failed to decode stored item %q: %w", key, err)
	}
	if item.Expired(s.now()) {
		return store.Item{}, store.ErrNotFound
	}
	return item, nil
}

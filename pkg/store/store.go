// Package store defines the content store used to park oversized payloads,
// and the client the payload transformer talks to.
//
// The store holds opaque blobs keyed by generated UUIDs. Items carry a
// creation timestamp and an expiry timestamp; the backend's native item
// expiry mechanism performs cleanup — the proxy never deletes explicitly.
// Backends are intentionally narrow: a single put and a single get, both
// context-aware, both safe for concurrent use.
package store

import (
	"context"
	"time"
)

// Item is the record written for one offloaded payload.
//
// Wire format per backend:
//   - dynamodb: one item with pk, blob, created_at and expires_at attributes,
//     table TTL enabled on expires_at
//   - s3: one object, timestamps in object metadata, bucket lifecycle rules
//     handle physical cleanup
//   - badger: JSON envelope, entry TTL set from ExpiresAt
//   - redis: JSON envelope, SET with EX from ExpiresAt
type Item struct {
	// Blob is the opaque payload content, typically UTF-8 JSON text.
	Blob []byte `json:"blob"`

	// CreatedAt is when the item was written.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is when the item becomes eligible for automatic deletion.
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the item's TTL has elapsed at the given instant.
// Backends whose physical cleanup lags (DynamoDB TTL, S3 lifecycle) use this
// to report expired-but-not-yet-purged items as not found.
func (i Item) Expired(now time.Time) bool {
	return !i.ExpiresAt.After(now)
}

// Backend is implemented by each concrete store.
//
// PutItem writes the item under key, creating or replacing it. GetItem
// returns ErrNotFound for missing or expired keys and ErrUnavailable for
// transient backend failures; it must not return partial items.
type Backend interface {
	// Name returns the backend identifier embedded in reference tokens,
	// e.g. "dynamodb".
	Name() string

	// Location returns the addressable container (table, bucket, key
	// namespace) embedded in reference tokens.
	Location() string

	PutItem(ctx context.Context, key string, item Item) error
	GetItem(ctx context.Context, key string) (Item, error)
}

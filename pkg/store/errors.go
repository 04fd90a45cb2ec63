package store

import (
	"errors"
	"fmt"
	"time"
)

// Standard content store errors. The proxy checks these with errors.Is and
// maps them to HTTP responses on the intercepted path.
var (
	// ErrNotFound indicates the item never existed or its TTL elapsed
	// before a late resolve. Permanent for that key, never retried.
	ErrNotFound = errors.New("stored item not found")

	// ErrUnavailable indicates the store backend is temporarily
	// unreachable. Transient: retried with bounded backoff, then surfaced.
	ErrUnavailable = errors.New("store unavailable")

	// ErrMalformedReference indicates a token failed to decode during
	// resolution. Permanent, never retried.
	ErrMalformedReference = errors.New("malformed content reference")

	// ErrTooLarge indicates the blob exceeds the store's own per-item
	// ceiling. Permanent, never retried.
	ErrTooLarge = errors.New("blob exceeds store item size limit")

	// ErrDepthExceeded indicates a chain of references longer than the
	// supported indirection depth.
	ErrDepthExceeded = errors.New("reference depth exceeded")
)

// StoreError wraps sentinel store errors with operational context for
// diagnosis, without losing errors.Is compatibility:
//
//	err := NewStoreError("put", "dynamodb", key, ErrUnavailable)
//	errors.Is(err, ErrUnavailable) // true
type StoreError struct {
	// Op is the failing operation: "put" or "get".
	Op string

	// Backend identifies the store backend type: "dynamodb", "s3",
	// "badger", "redis", or "memory".
	Backend string

	// Key is the item key involved, if known.
	Key string

	// Size is the blob size involved in the operation (bytes).
	Size int64

	// Retries is the number of retry attempts made before the final failure.
	Retries int

	// Duration is how long the operation ran before failing.
	Duration time.Duration

	// Err is the wrapped sentinel error.
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %s (backend=%s, key=%s, retries=%d)",
		e.Op, e.Err, e.Backend, e.Key, e.Retries)
}

// Unwrap returns the underlying sentinel, enabling errors.Is matching
// through StoreError wrapping.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a StoreError wrapping the given sentinel. Optional
// fields (Size, Retries, Duration) default to zero and can be set on the
// returned pointer.
func NewStoreError(op, backend, key string, err error) *StoreError {
	return &StoreError{Op: op, Backend: backend, Key: key, Err: err}
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stashproxy/stashproxy/internal/logger"
	"github.com/stashproxy/stashproxy/pkg/reference"
)

// RetryConfig bounds how Put and Get retry on ErrUnavailable.
// ErrNotFound, ErrMalformedReference and ErrTooLarge are never retried;
// they indicate a permanent condition, not transient unavailability.
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first (default: 3).
	MaxRetries int

	// InitialBackoff is the delay before the first retry (default: 100ms).
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff (default: 2s).
	MaxBackoff time.Duration
}

func (c *RetryConfig) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 2 * time.Second
	}
}

// ClientConfig configures the content store client.
type ClientConfig struct {
	// Retention is how long stored items live before the backend may
	// delete them (default: 24h).
	Retention time.Duration

	// OpTimeout bounds each individual backend call. It must be strictly
	// shorter than the surrounding host's invocation timeout so a slow
	// store degrades into an explicit error instead of an opaque overall
	// timeout (default: 5s).
	OpTimeout time.Duration

	// MaxItemSize rejects blobs above the backend's per-item ceiling
	// before the backend does, with ErrTooLarge. Zero disables the guard.
	MaxItemSize int64

	Retry RetryConfig
}

func (c *ClientConfig) applyDefaults() {
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 5 * time.Second
	}
	c.Retry.applyDefaults()
}

// Client is the typed wrapper the payload transformer uses. It generates
// keys, stamps TTLs, encodes reference tokens, and retries transient
// failures with bounded backoff.
//
// A Client is immutable after construction and safe for concurrent use from
// multiple in-flight requests; the only shared state is the pooled backend
// connection it wraps.
type Client struct {
	backend Backend
	cfg     ClientConfig
	now     func() time.Time
}

// NewClient wraps a backend. Defaults are applied here so a zero
// ClientConfig works in tests.
func NewClient(backend Backend, cfg ClientConfig) *Client {
	cfg.applyDefaults()
	return &Client{backend: backend, cfg: cfg, now: time.Now}
}

// Backend returns the backend identifier tokens produced by this client
// will carry.
func (c *Client) Backend() string {
	return c.backend.Name()
}

// Location returns the container name tokens produced by this client will
// carry.
func (c *Client) Location() string {
	return c.backend.Location()
}

// Put stores a blob under a fresh key and returns the encoded reference
// token. The item is written before the token is handed out, so every token
// that leaves the proxy corresponds to an item that exists at creation time.
func (c *Client) Put(ctx context.Context, blob []byte) (string, error) {
	if c.cfg.MaxItemSize > 0 && int64(len(blob)) > c.cfg.MaxItemSize {
		serr := NewStoreError("put", c.backend.Name(), "", ErrTooLarge)
		serr.Size = int64(len(blob))
		return "", serr
	}

	key := reference.NewKey()
	created := c.now()
	item := Item{
		Blob:      blob,
		CreatedAt: created,
		ExpiresAt: created.Add(c.cfg.Retention),
	}

	err := c.withRetry(ctx, "put", key, int64(len(blob)), func(opCtx context.Context) error {
		return c.backend.PutItem(opCtx, key, item)
	})
	if err != nil {
		return "", err
	}

	return reference.Encode(c.backend.Name(), c.backend.Location(), key), nil
}

// Get fetches the blob a reference points to. The reference must name this
// client's backend and location; mismatches surface as ErrMalformedReference.
func (c *Client) Get(ctx context.Context, ref reference.Ref) ([]byte, error) {
	if err := ref.Validate(c.backend.Name(), c.backend.Location()); err != nil {
		return nil, NewStoreError("get", c.backend.Name(), ref.Key,
			fmt.Errorf("%w: %v", ErrMalformedReference, err))
	}

	var item Item
	err := c.withRetry(ctx, "get", ref.Key, 0, func(opCtx context.Context) error {
		var getErr error
		item, getErr = c.backend.GetItem(opCtx, ref.Key)
		return getErr
	})
	if err != nil {
		return nil, err
	}

	return item.Blob, nil
}

// withRetry runs op with a per-attempt timeout, retrying only on
// ErrUnavailable with capped exponential backoff.
func (c *Client) withRetry(ctx context.Context, op, key string, size int64, fn func(context.Context) error) error {
	start := time.Now()
	backoff := c.cfg.Retry.InitialBackoff

	var lastErr error
	retries := 0
	for attempt := 0; attempt <= c.cfg.Retry.MaxRetries; attempt++ {
		if attempt > 0 {
			retries++
			logger.Debug("retrying store operation",
				"op", op,
				"backend", c.backend.Name(),
				"key", key,
				"attempt", attempt,
				"backoff", backoff,
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
			if backoff > c.cfg.Retry.MaxBackoff {
				backoff = c.cfg.Retry.MaxBackoff
			}
		}

		opCtx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
		err := fn(opCtx)
		cancel()

		if err == nil {
			return nil
		}
		lastErr = err

		// Per-attempt timeouts count as unavailability; a cancelled
		// parent context does not.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			lastErr = ErrUnavailable
		}
		if !errors.Is(lastErr, ErrUnavailable) {
			break
		}
	}

	serr := NewStoreError(op, c.backend.Name(), key, lastErr)
	serr.Size = size
	serr.Retries = retries
	serr.Duration = time.Since(start)
	return serr
}

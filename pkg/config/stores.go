package config

import (
	"context"
	"fmt"
	"io"

	"github.com/stashproxy/stashproxy/pkg/store"
	"github.com/stashproxy/stashproxy/pkg/store/badger"
	"github.com/stashproxy/stashproxy/pkg/store/dynamodb"
	"github.com/stashproxy/stashproxy/pkg/store/memory"
	"github.com/stashproxy/stashproxy/pkg/store/redis"
	"github.com/stashproxy/stashproxy/pkg/store/s3"
)

// CreateBackend creates a content store backend from configuration.
//
// The AWS-backed stores validate connectivity lazily; a misconfigured
// endpoint surfaces as ErrUnavailable on first use, not here.
func CreateBackend(ctx context.Context, cfg StoreConfig) (store.Backend, error) {
	switch cfg.Backend {
	case "dynamodb":
		return dynamodb.New(ctx, dynamodb.Config{
			Table:    cfg.Location,
			Region:   cfg.DynamoDB.Region,
			Endpoint: cfg.DynamoDB.Endpoint,
		})
	case "s3":
		return s3.New(ctx, s3.Config{
			Bucket:         cfg.Location,
			KeyPrefix:      cfg.S3.KeyPrefix,
			Region:         cfg.S3.Region,
			Endpoint:       cfg.S3.Endpoint,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
	case "redis":
		return redis.New(redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Location: cfg.Location,
		}), nil
	case "badger":
		return badger.New(badger.Config{
			Path:     cfg.Badger.Path,
			Location: cfg.Location,
		})
	case "memory":
		return memory.New(cfg.Location), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %q", cfg.Backend)
	}
}

// CreateClient wraps a backend built from cfg into the typed store client.
func CreateClient(ctx context.Context, cfg StoreConfig) (*store.Client, store.Backend, error) {
	backend, err := CreateBackend(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s store backend: %w", cfg.Backend, err)
	}

	client := store.NewClient(backend, store.ClientConfig{
		Retention:   cfg.Retention,
		OpTimeout:   cfg.Timeout,
		MaxItemSize: int64(cfg.MaxItemSize),
		Retry: store.RetryConfig{
			MaxRetries:     cfg.Retry.MaxRetries,
			InitialBackoff: cfg.Retry.InitialBackoff,
			MaxBackoff:     cfg.Retry.MaxBackoff,
		},
	})
	return client, backend, nil
}

// CloseBackend releases backend resources for implementations that hold any
// (Badger's database, Redis's connection pool).
func CloseBackend(backend store.Backend) error {
	if closer, ok := backend.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

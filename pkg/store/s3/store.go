// Package s3 provides a content store backend on Amazon S3 or S3-compatible
// storage.
//
// Each item is one object under an optional key prefix. The creation and
// expiry timestamps travel as object metadata; physical cleanup is left to a
// bucket lifecycle rule, and expired-but-not-yet-purged objects are reported
// as not found on read.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/stashproxy/stashproxy/pkg/store"
)

const (
	metaCreatedAt = "created-at"
	metaExpiresAt = "expires-at"
)

// Store is a store.Backend on an S3 bucket. The underlying SDK client pools
// connections and is safe for concurrent use.
type Store struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
	now       func() time.Time
}

// Config configures the S3 backend.
type Config struct {
	// Client is a pre-configured S3 client. When nil, one is built from
	// Region/Endpoint and the default credential chain.
	Client *s3.Client

	// Bucket is the bucket name; it doubles as the token location.
	Bucket string

	// KeyPrefix is an optional prefix for all object keys,
	// e.g. "stashproxy/".
	KeyPrefix string

	// Region is the AWS region, used only when Client is nil.
	Region string

	// Endpoint overrides the S3 endpoint (Localstack, MinIO). Used only
	// when Client is nil.
	Endpoint string

	// AccessKeyID and SecretAccessKey select static credentials. Empty
	// values fall back to the default credential chain.
	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle switches to path-style addressing, required by most
	// S3-compatible servers.
	ForcePathStyle bool
}

// New creates an S3-backed store. The bucket must already exist.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client := cfg.Client
	if client == nil {
		var err error
		client, err = newClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}
	return &Store{
		client:    client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		now:       time.Now,
	}, nil
}

func newClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
		}
		o.UsePathStyle = cfg.ForcePathStyle
	}), nil
}

func (s *Store) Name() string     { return "s3" }
func (s *Store) Location() string { return s.bucket }

func (s *Store) objectKey(key string) string {
	return s.keyPrefix + key
}

// PutItem uploads the blob with timestamps in object metadata.
func (s *Store) PutItem(ctx context.Context, key string, item store.Item) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
		Body:   bytes.NewReader(item.Blob),
		Metadata: map[string]string{
			metaCreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano),
			metaExpiresAt: item.ExpiresAt.UTC().Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		return store.NewStoreError("put", s.Name(), key, fmt.Errorf("%w: %v", store.ErrUnavailable, err))
	}
	return nil
}

// GetItem downloads the object and reconstructs the item from its metadata.
func (s *Store) GetItem(ctx context.Context, key string) (store.Item, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFoundError(err) {
			return store.Item{}, store.ErrNotFound
		}
		return store.Item{}, store.NewStoreError("get", s.Name(), key, fmt.Errorf("%w: %v", store.ErrUnavailable, err))
	}
	defer out.Body.Close()

	blob, err := io.ReadAll(out.Body)
	if err != nil {
		return store.Item{}, store.NewStoreError("get", s.Name(), key, fmt.Errorf("%w: %v", store.ErrUnavailable, err))
	}

	item := store.Item{Blob: blob}
	if v, ok := out.Metadata[metaCreatedAt]; ok {
		item.CreatedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	if v, ok := out.Metadata[metaExpiresAt]; ok {
		item.ExpiresAt, _ = time.Parse(time.RFC3339Nano, v)
	}

	// Lifecycle rules purge asynchronously; enforce the recorded expiry.
	if !item.ExpiresAt.IsZero() && item.Expired(s.now()) {
		return store.Item{}, store.ErrNotFound
	}
	return item, nil
}

// isNotFoundError checks if an error is an S3 not found error.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "NoSuchKey") ||
		strings.Contains(errStr, "NotFound") ||
		strings.Contains(errStr, "404")
}

// Ensure Store implements store.Backend.
var _ store.Backend = (*Store)(nil)

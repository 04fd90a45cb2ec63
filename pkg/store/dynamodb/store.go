// Package dynamodb provides the default content store backend on Amazon
// DynamoDB.
//
// One table row per item: {pk, blob, created_at, expires_at}, with the
// table's TTL feature enabled on expires_at (epoch seconds). DynamoDB can
// lag actual deletion behind the TTL by a while, so reads enforce the
// recorded expiry and report lapsed items as not found.
package dynamodb

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/stashproxy/stashproxy/pkg/store"
)

// Store is a store.Backend on a DynamoDB table. The underlying SDK client
// pools connections and is safe for concurrent use.
type Store struct {
	client *dynamodb.Client
	table  string
	now    func() time.Time
}

// Config configures the DynamoDB backend.
type Config struct {
	// Client is a pre-configured DynamoDB client. When nil, one is built
	// from Region/Endpoint and the default credential chain.
	Client *dynamodb.Client

	// Table is the table name; it doubles as the token location. The
	// table must exist with a string partition key named "pk" and TTL
	// enabled on "expires_at".
	Table string

	// Region is the AWS region, used only when Client is nil.
	Region string

	// Endpoint overrides the DynamoDB endpoint (Localstack). Used only
	// when Client is nil.
	Endpoint string

	// AccessKeyID and SecretAccessKey select static credentials. Empty
	// values fall back to the default credential chain.
	AccessKeyID     string
	SecretAccessKey string
}

// record is the table row shape.
type record struct {
	PK        string `dynamodbav:"pk"`
	Blob      []byte `dynamodbav:"blob"`
	CreatedAt int64  `dynamodbav:"created_at"`
	ExpiresAt int64  `dynamodbav:"expires_at"`
}

// New creates a DynamoDB-backed store. The table must already exist.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client := cfg.Client
	if client == nil {
		var err error
		client, err = newClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}
	return &Store{client: client, table: cfg.Table, now: time.Now}, nil
}

func newClient(ctx context.Context, cfg Config) (*dynamodb.Client, error) {
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

	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
		}
	}), nil
}

func (s *Store) Name() string     { return "dynamodb" }
func (s *Store) Location() string { return s.table }

// PutItem writes one row; the table TTL on expires_at handles cleanup.
func (s *Store) PutItem(ctx context.Context, key string, item store.Item) error {
	av, err := attributevalue.MarshalMap(record{
		PK:        key,
		Blob:      item.Blob,
		CreatedAt: item.CreatedAt.Unix(),
		ExpiresAt: item.ExpiresAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode stored item: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	})
	if err != nil {
		return store.NewStoreError("put", s.Name(), key, fmt.Errorf("%w: %v", store.ErrUnavailable, err))
	}
	return nil
}

// GetItem reads one row with a consistent read so a resolve immediately
// following an offload observes the write.
func (s *Store) GetItem(ctx context.Context, key string) (store.Item, error) {
	keyAttr, err := attributevalue.MarshalMap(map[string]string{"pk": key})
	if err != nil {
		return store.Item{}, fmt.Errorf("failed to encode key: %w", err)
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            keyAttr,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return store.Item{}, store.NewStoreError("get", s.Name(), key, fmt.Errorf("%w: %v", store.ErrUnavailable, err))
	}
	if out.Item == nil {
		return store.Item{}, store.ErrNotFound
	}

	var rec record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return store.Item{}, fmt.Errorf("failed to decode stored item %q: %w", key, err)
	}

	item := store.Item{
		Blob:      rec.Blob,
		CreatedAt: time.Unix(rec.CreatedAt, 0),
		ExpiresAt: time.Unix(rec.ExpiresAt, 0),
	}
	if item.Expired(s.now()) {
		return store.Item{}, store.ErrNotFound
	}
	return item, nil
}

// Ensure Store implements store.Backend.
var _ store.Backend = (*Store)(nil)

// Package couchbase provides a typed document store over the Couchbase Go SDK.
package couchbase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"
)

// Config holds the connection settings for a Couchbase cluster.
type Config struct {
	ConnectionString string        `env:"COUCHBASE_CONNECTION_STRING" envDefault:"couchbase://localhost"`
	Username         string        `env:"COUCHBASE_USERNAME" envDefault:"Administrator"`
	Password         string        `env:"COUCHBASE_PASSWORD" envDefault:"password"`
	BucketName       string        `env:"COUCHBASE_BUCKET_NAME" envDefault:"pulsarpub"`
	ScopeName        string        `env:"COUCHBASE_SCOPE_NAME" envDefault:"_default"`
	ReadyTimeout     time.Duration `env:"COUCHBASE_READY_TIMEOUT" envDefault:"5s"`
}

// Connect opens the cluster and waits for the bucket to become ready.
func Connect(config Config) (*gocb.Cluster, *gocb.Bucket, error) {
	cluster, err := gocb.Connect(config.ConnectionString, gocb.ClusterOptions{
		Authenticator: gocb.PasswordAuthenticator{
			Username: config.Username,
			Password: config.Password,
		},
		TimeoutsConfig: gocb.TimeoutsConfig{
			ConnectTimeout: 10 * time.Second,
			KVTimeout:      5 * time.Second,
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to cluster: %w", err)
	}

	bucket := cluster.Bucket(config.BucketName)
	if err := bucket.WaitUntilReady(config.ReadyTimeout, nil); err != nil {
		_ = cluster.Close(nil)
		return nil, nil, fmt.Errorf("bucket %s not ready: %w", config.BucketName, err)
	}

	return cluster, bucket, nil
}

// Couchbase stores documents of type T in one collection.
type Couchbase[T any] struct {
	cluster    *gocb.Cluster
	collection *gocb.Collection
}

// NewCouchbase returns a store for the named collection of bucket's scope.
func NewCouchbase[T any](cluster *gocb.Cluster, bucket *gocb.Bucket, scope, collection string) (*Couchbase[T], error) {
	if cluster == nil || bucket == nil {
		return nil, errors.New("invalid Couchbase parameters: cluster and bucket must not be nil")
	}
	if scope == "" || collection == "" {
		return nil, errors.New("invalid Couchbase parameters: scope and collection must not be empty")
	}

	return &Couchbase[T]{
		cluster:    cluster,
		collection: bucket.Scope(scope).Collection(collection),
	}, nil
}

// Insert creates a new document. It fails with gocb.ErrDocumentExists when
// the key is taken.
func (c *Couchbase[T]) Insert(ctx context.Context, key string, value T, opts *gocb.InsertOptions) error {
	if opts == nil {
		opts = new(gocb.InsertOptions)
	}
	opts.Context = ctx

	if _, err := c.collection.Insert(key, value, opts); err != nil {
		return fmt.Errorf("failed to insert document with key %s: %w", key, err)
	}

	return nil
}

// Get loads a document by key. The CAS of the read is stored on values
// implementing CasSetter.
func (c *Couchbase[T]) Get(ctx context.Context, key string, opts *gocb.GetOptions) (*T, error) {
	if opts == nil {
		opts = new(gocb.GetOptions)
	}
	opts.Context = ctx

	res, err := c.collection.Get(key, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get document with key %s: %w", key, err)
	}

	var v T
	if err := res.Content(&v); err != nil {
		return nil, fmt.Errorf("failed to parse document content for key %s: %w", key, err)
	}

	if s, ok := any(&v).(CasSetter); ok {
		s.SetCas(uint64(res.Cas()))
	}

	return &v, nil
}

// Close closes the cluster connection.
func (c *Couchbase[T]) Close() error {
	return c.cluster.Close(nil)
}

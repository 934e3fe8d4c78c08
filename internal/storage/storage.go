package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a blob does not exist in the backend.
var ErrNotFound = errors.New("blob not found")

// BlobStore abstracts the durable object backends holding media files and
// transcript documents. Keys are opaque slash-separated paths, e.g.
// "media/{id}" or "documents/{id}.json".
type BlobStore interface {
	// Save stores a blob, overwriting any previous object under the key.
	Save(ctx context.Context, key string, data []byte, contentType string) error

	// Read returns the full blob contents. Returns ErrNotFound when the key
	// does not exist.
	Read(ctx context.Context, key string) ([]byte, error)

	// Open returns a streaming reader for the blob.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// URL returns a presigned URL for the blob. Returns "" for backends
	// without URL support (local).
	URL(ctx context.Context, key string) (string, error)

	// Exists checks whether the key is present.
	Exists(ctx context.Context, key string) bool

	// Delete removes the blob. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Type returns "local" or "s3".
	Type() string
}

// S3Settings configures the S3 backend. A blank Bucket selects the local
// filesystem backend instead.
type S3Settings struct {
	Bucket        string
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Prefix        string
	PresignExpiry time.Duration
}

// Enabled reports whether S3 storage is configured.
func (s S3Settings) Enabled() bool { return s.Bucket != "" }

// New selects a backend from config: S3 when a bucket is configured
// (validated with a HeadBucket call at startup), local filesystem otherwise.
func New(cfg S3Settings, dataDir string, log zerolog.Logger) (BlobStore, error) {
	if !cfg.Enabled() {
		return NewLocalStore(dataDir), nil
	}

	s3store, err := NewS3Store(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("s3 init: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, fmt.Errorf("s3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("s3 connection verified")

	return s3store, nil
}

// Package storage provides the remote object-storage backends the transfer
// engine drives: AWS S3 through aws-sdk-go-v2, any S3-compatible service
// through minio-go, and an in-memory store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/pithecene-io/persevere/types"
)

// CreateOptions are applied when a multipart upload is registered.
type CreateOptions struct {
	ContentType string
}

// ObjectStore is the capability set the transfer engine needs from a
// remote object store. Every call is an opaque fallible operation; the
// engine does not branch on error codes.
type ObjectStore interface {
	// CreateMultipartUpload registers a multipart upload and returns its id.
	CreateMultipartUpload(ctx context.Context, bucket, key string, opts CreateOptions) (string, error)
	// UploadPart uploads length bytes read from body as part partNumber.
	UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, body io.ReadSeeker, length int64) (types.Receipt, error)
	// CompleteMultipartUpload assembles the object from the ordered receipts
	// and returns the object's ETag.
	CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []types.Receipt) (string, error)
	// AbortMultipartUpload discards an upload and its parts.
	AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error
	// ObjectSize returns the size of an object in bytes.
	ObjectSize(ctx context.Context, bucket, key string) (uint64, error)
	// GetRange returns the bytes start..end (inclusive) of an object.
	GetRange(ctx context.Context, bucket, key string, start, end uint64) (io.ReadCloser, error)
}

// Backend names a storage backend.
type Backend string

// Supported backends.
const (
	BackendS3    Backend = "s3"
	BackendMinio Backend = "minio"
)

// Config selects and configures a backend.
type Config struct {
	// Backend is "s3" (default) or "minio".
	Backend Backend
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom endpoint URL for S3-compatible providers.
	// Required for the minio backend.
	Endpoint string
	// UsePathStyle forces path-style addressing.
	UsePathStyle bool
	// Static credentials. When empty the default credential chain is used.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	// Insecure disables TLS for the minio backend.
	Insecure bool
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.Backend {
	case "", BackendS3:
	case BackendMinio:
		if c.Endpoint == "" {
			return errors.New("minio backend requires an endpoint")
		}
	default:
		return fmt.Errorf("unknown storage backend %q (want s3 or minio)", c.Backend)
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return errors.New("access key id and secret access key must be set together")
	}
	return nil
}

// New builds the ObjectStore described by cfg.
func New(ctx context.Context, cfg Config) (ObjectStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case BackendMinio:
		core, err := NewMinioCore(cfg)
		if err != nil {
			return nil, err
		}
		return NewMinioStore(core), nil
	default:
		client, err := NewS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewS3Store(client), nil
	}
}

package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/pithecene-io/persevere/types"
)

// NewMinioCore creates a low-level minio client for cfg.Endpoint. The
// endpoint may carry a scheme; "http://" or Insecure disables TLS.
func NewMinioCore(cfg Config) (*minio.Core, error) {
	host, secure, err := splitEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	if cfg.Insecure {
		secure = false
	}

	creds := credentials.NewEnvAWS()
	if cfg.AccessKeyID != "" {
		creds = credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)
	}

	lookup := minio.BucketLookupAuto
	if cfg.UsePathStyle {
		lookup = minio.BucketLookupPath
	}

	core, err := minio.NewCore(host, &minio.Options{
		Creds:        creds,
		Secure:       secure,
		Region:       cfg.Region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return core, nil
}

func splitEndpoint(endpoint string) (host string, secure bool, err error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		// Bare host[:port].
		return endpoint, true, nil
	}
	switch u.Scheme {
	case "https":
		return u.Host, true, nil
	case "http":
		return u.Host, false, nil
	default:
		return "", false, fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
}

// MinioStore implements ObjectStore on minio-go's multipart primitives.
type MinioStore struct {
	core *minio.Core
}

// NewMinioStore wraps a minio core client.
func NewMinioStore(core *minio.Core) *MinioStore {
	return &MinioStore{core: core}
}

// CreateMultipartUpload implements ObjectStore.
func (s *MinioStore) CreateMultipartUpload(ctx context.Context, bucket, key string, opts CreateOptions) (string, error) {
	id, err := s.core.NewMultipartUpload(ctx, bucket, key, minio.PutObjectOptions{ContentType: opts.ContentType})
	if err != nil {
		return "", wrap("NewMultipartUpload", bucket, key, err)
	}
	return id, nil
}

// UploadPart implements ObjectStore.
func (s *MinioStore) UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, body io.ReadSeeker, length int64) (types.Receipt, error) {
	part, err := s.core.PutObjectPart(ctx, bucket, key, uploadID, int(partNumber), body, length, minio.PutObjectPartOptions{})
	if err != nil {
		return types.Receipt{}, wrap(fmt.Sprintf("PutObjectPart(%d)", partNumber), bucket, key, err)
	}
	return types.Receipt{
		PartNumber:        partNumber,
		ETag:              part.ETag,
		ChecksumCRC32:     part.ChecksumCRC32,
		ChecksumCRC32C:    part.ChecksumCRC32C,
		ChecksumSHA1:      part.ChecksumSHA1,
		ChecksumSHA256:    part.ChecksumSHA256,
		ChecksumCRC64NVME: part.ChecksumCRC64NVME,
	}, nil
}

// CompleteMultipartUpload implements ObjectStore.
func (s *MinioStore) CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []types.Receipt) (string, error) {
	completed := make([]minio.CompletePart, 0, len(parts))
	for _, p := range parts {
		completed = append(completed, minio.CompletePart{
			PartNumber:        int(p.PartNumber),
			ETag:              p.ETag,
			ChecksumCRC32:     p.ChecksumCRC32,
			ChecksumCRC32C:    p.ChecksumCRC32C,
			ChecksumSHA1:      p.ChecksumSHA1,
			ChecksumSHA256:    p.ChecksumSHA256,
			ChecksumCRC64NVME: p.ChecksumCRC64NVME,
		})
	}
	info, err := s.core.CompleteMultipartUpload(ctx, bucket, key, uploadID, completed, minio.PutObjectOptions{})
	if err != nil {
		return "", wrap("CompleteMultipartUpload", bucket, key, err)
	}
	return info.ETag, nil
}

// AbortMultipartUpload implements ObjectStore.
func (s *MinioStore) AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error {
	return wrap("AbortMultipartUpload", bucket, key, s.core.AbortMultipartUpload(ctx, bucket, key, uploadID))
}

// ObjectSize implements ObjectStore.
func (s *MinioStore) ObjectSize(ctx context.Context, bucket, key string) (uint64, error) {
	info, err := s.core.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return 0, wrap("StatObject", bucket, key, err)
	}
	if info.Size < 0 {
		return 0, wrap("StatObject", bucket, key, fmt.Errorf("negative object size %d", info.Size))
	}
	return uint64(info.Size), nil
}

// GetRange implements ObjectStore.
func (s *MinioStore) GetRange(ctx context.Context, bucket, key string, start, end uint64) (io.ReadCloser, error) {
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(int64(start), int64(end)); err != nil {
		return nil, wrap("GetObject", bucket, key, err)
	}
	body, _, _, err := s.core.GetObject(ctx, bucket, key, opts)
	if err != nil {
		return nil, wrap("GetObject", bucket, key, err)
	}
	return body, nil
}

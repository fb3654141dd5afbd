package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awstypes "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/pithecene-io/persevere/plan"
	"github.com/pithecene-io/persevere/types"
)

// S3API is the subset of *s3.Client used by S3Store.
type S3API interface {
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

var _ S3API = (*s3.Client)(nil)

// NewS3Client creates an S3 client. Uses the AWS SDK default credential
// chain (env vars, shared config, IAM role) unless static keys are set.
func NewS3Client(ctx context.Context, cfg Config) (*s3.Client, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(awsConfig, s3Opts...), nil
}

// S3Store implements ObjectStore on the AWS SDK.
type S3Store struct {
	client S3API
}

// NewS3Store wraps an S3 client.
func NewS3Store(client S3API) *S3Store {
	return &S3Store{client: client}
}

// CreateMultipartUpload implements ObjectStore.
func (s *S3Store) CreateMultipartUpload(ctx context.Context, bucket, key string, opts CreateOptions) (string, error) {
	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}

	out, err := s.client.CreateMultipartUpload(ctx, input)
	if err != nil {
		return "", wrap("CreateMultipartUpload", bucket, key, err)
	}
	if out.UploadId == nil || *out.UploadId == "" {
		return "", wrap("CreateMultipartUpload", bucket, key, errors.New("no upload id returned"))
	}
	return *out.UploadId, nil
}

// UploadPart implements ObjectStore.
func (s *S3Store) UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, body io.ReadSeeker, length int64) (types.Receipt, error) {
	out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(partNumber),
		ContentLength: aws.Int64(length),
		Body:          body,
	})
	if err != nil {
		return types.Receipt{}, wrap(fmt.Sprintf("UploadPart(%d)", partNumber), bucket, key, err)
	}
	return types.Receipt{
		PartNumber:        partNumber,
		ETag:              aws.ToString(out.ETag),
		ChecksumCRC32:     aws.ToString(out.ChecksumCRC32),
		ChecksumCRC32C:    aws.ToString(out.ChecksumCRC32C),
		ChecksumSHA1:      aws.ToString(out.ChecksumSHA1),
		ChecksumSHA256:    aws.ToString(out.ChecksumSHA256),
		ChecksumCRC64NVME: aws.ToString(out.ChecksumCRC64NVME),
	}, nil
}

// CompleteMultipartUpload implements ObjectStore.
func (s *S3Store) CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []types.Receipt) (string, error) {
	completed := make([]awstypes.CompletedPart, 0, len(parts))
	for _, p := range parts {
		completed = append(completed, awstypes.CompletedPart{
			PartNumber:        aws.Int32(p.PartNumber),
			ETag:              optional(p.ETag),
			ChecksumCRC32:     optional(p.ChecksumCRC32),
			ChecksumCRC32C:    optional(p.ChecksumCRC32C),
			ChecksumSHA1:      optional(p.ChecksumSHA1),
			ChecksumSHA256:    optional(p.ChecksumSHA256),
			ChecksumCRC64NVME: optional(p.ChecksumCRC64NVME),
		})
	}

	out, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &awstypes.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		return "", wrap("CompleteMultipartUpload", bucket, key, err)
	}
	return aws.ToString(out.ETag), nil
}

// AbortMultipartUpload implements ObjectStore.
func (s *S3Store) AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error {
	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	return wrap("AbortMultipartUpload", bucket, key, err)
}

// ObjectSize implements ObjectStore.
func (s *S3Store) ObjectSize(ctx context.Context, bucket, key string) (uint64, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, wrap("HeadObject", bucket, key, err)
	}
	if out.ContentLength == nil || *out.ContentLength < 0 {
		return 0, wrap("HeadObject", bucket, key, errors.New("object size not returned"))
	}
	return uint64(*out.ContentLength), nil
}

// GetRange implements ObjectStore.
func (s *S3Store) GetRange(ctx context.Context, bucket, key string, start, end uint64) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Range:  aws.String(plan.FormatRange(start, end)),
	})
	if err != nil {
		return nil, wrap("GetObject", bucket, key, err)
	}
	return out.Body, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}

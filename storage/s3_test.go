package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pithecene-io/persevere/types"
)

func TestS3Store_CreateMultipartUpload(t *testing.T) {
	var got *s3.CreateMultipartUploadInput
	store := NewS3Store(&mockS3Client{
		CreateMultipartUploadFunc: func(_ context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
			got = in
			return &s3.CreateMultipartUploadOutput{UploadId: aws.String("upload-123")}, nil
		},
	})

	id, err := store.CreateMultipartUpload(context.Background(), "bucket", "key", CreateOptions{ContentType: "application/gzip"})
	require.NoError(t, err)
	assert.Equal(t, "upload-123", id)
	assert.Equal(t, "bucket", aws.ToString(got.Bucket))
	assert.Equal(t, "key", aws.ToString(got.Key))
	assert.Equal(t, "application/gzip", aws.ToString(got.ContentType))
}

func TestS3Store_CreateMultipartUpload_NoUploadID(t *testing.T) {
	store := NewS3Store(&mockS3Client{})

	_, err := store.CreateMultipartUpload(context.Background(), "bucket", "key", CreateOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no upload id")
}

func TestS3Store_UploadPart(t *testing.T) {
	var body string
	store := NewS3Store(&mockS3Client{
		UploadPartFunc: func(_ context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
			assert.Equal(t, int32(2), aws.ToInt32(in.PartNumber))
			assert.Equal(t, "upload-1", aws.ToString(in.UploadId))
			assert.Equal(t, int64(5), aws.ToInt64(in.ContentLength))
			data, err := io.ReadAll(in.Body)
			require.NoError(t, err)
			body = string(data)
			return &s3.UploadPartOutput{
				ETag:           aws.String("\"abc\""),
				ChecksumCRC32:  aws.String("crc"),
				ChecksumSHA256: aws.String("sha"),
			}, nil
		},
	})

	r, err := store.UploadPart(context.Background(), "bucket", "key", "upload-1", 2, strings.NewReader("hello"), 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", body)
	assert.Equal(t, types.Receipt{PartNumber: 2, ETag: "\"abc\"", ChecksumCRC32: "crc", ChecksumSHA256: "sha"}, r)
}

func TestS3Store_UploadPart_Error(t *testing.T) {
	store := NewS3Store(&mockS3Client{
		UploadPartFunc: func(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
			return nil, &smithy.GenericAPIError{Code: "SlowDown", Message: "reduce your request rate"}
		},
	})

	_, err := store.UploadPart(context.Background(), "bucket", "key", "upload-1", 1, strings.NewReader("x"), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrThrottled)
	assert.Contains(t, err.Error(), "s3://bucket/key")
}

func TestS3Store_CompleteMultipartUpload(t *testing.T) {
	var got *s3.CompleteMultipartUploadInput
	store := NewS3Store(&mockS3Client{
		CompleteMultipartUploadFunc: func(_ context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
			got = in
			return &s3.CompleteMultipartUploadOutput{ETag: aws.String("\"final-2\"")}, nil
		},
	})

	etag, err := store.CompleteMultipartUpload(context.Background(), "bucket", "key", "upload-1", []types.Receipt{
		{PartNumber: 1, ETag: "\"a\"", ChecksumCRC32C: "c1"},
		{PartNumber: 2, ETag: "\"b\""},
	})
	require.NoError(t, err)
	assert.Equal(t, "\"final-2\"", etag)

	require.Len(t, got.MultipartUpload.Parts, 2)
	first := got.MultipartUpload.Parts[0]
	assert.Equal(t, int32(1), aws.ToInt32(first.PartNumber))
	assert.Equal(t, "\"a\"", aws.ToString(first.ETag))
	assert.Equal(t, "c1", aws.ToString(first.ChecksumCRC32C))
	assert.Nil(t, first.ChecksumSHA1, "empty checksums are omitted")
	assert.Equal(t, int32(2), aws.ToInt32(got.MultipartUpload.Parts[1].PartNumber))
}

func TestS3Store_AbortMultipartUpload(t *testing.T) {
	called := false
	store := NewS3Store(&mockS3Client{
		AbortMultipartUploadFunc: func(_ context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
			called = true
			assert.Equal(t, "upload-1", aws.ToString(in.UploadId))
			return &s3.AbortMultipartUploadOutput{}, nil
		},
	})

	require.NoError(t, store.AbortMultipartUpload(context.Background(), "bucket", "key", "upload-1"))
	assert.True(t, called)
}

func TestS3Store_ObjectSize(t *testing.T) {
	tests := []struct {
		name    string
		out     *s3.HeadObjectOutput
		err     error
		want    uint64
		wantErr error
	}{
		{name: "size", out: &s3.HeadObjectOutput{ContentLength: aws.Int64(42)}, want: 42},
		{name: "missing length", out: &s3.HeadObjectOutput{}, wantErr: ErrRemote},
		{name: "not found", err: &smithy.GenericAPIError{Code: "NotFound"}, wantErr: ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewS3Store(&mockS3Client{
				HeadObjectFunc: func(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
					return tt.out, tt.err
				},
			})
			got, err := store.ObjectSize(context.Background(), "bucket", "key")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestS3Store_GetRange(t *testing.T) {
	var gotRange string
	store := NewS3Store(&mockS3Client{
		GetObjectFunc: func(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			gotRange = aws.ToString(in.Range)
			return &s3.GetObjectOutput{
				Body:          io.NopCloser(strings.NewReader("part")),
				ContentLength: aws.Int64(4),
			}, nil
		},
	})

	body, err := store.GetRange(context.Background(), "bucket", "key", 10, 13)
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "part", string(data))
	assert.Equal(t, "bytes=10-13", gotRange)
}

func TestS3Store_GetRange_Error(t *testing.T) {
	store := NewS3Store(&mockS3Client{
		GetObjectFunc: func(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			return nil, errors.New("dial tcp 10.0.0.1:443: connection refused")
		},
	})

	_, err := store.GetRange(context.Background(), "bucket", "key", 0, 1)
	assert.ErrorIs(t, err, ErrNetwork)
}

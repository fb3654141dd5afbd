package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
)

type timeoutError struct{}

func (timeoutError) Error() string { return "i/o operation" }
func (timeoutError) Timeout() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"smithy no such key", &smithy.GenericAPIError{Code: "NoSuchKey"}, ErrNotFound},
		{"smithy access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, ErrAccessDenied},
		{"smithy expired token", &smithy.GenericAPIError{Code: "ExpiredToken"}, ErrAuth},
		{"wrapped smithy slowdown", fmt.Errorf("op: %w", &smithy.GenericAPIError{Code: "SlowDown"}), ErrThrottled},
		{"minio no such upload", minio.ErrorResponse{Code: "NoSuchUpload"}, ErrNotFound},
		{"minio invalid range", minio.ErrorResponse{Code: "InvalidRange"}, ErrInvalidRange},
		{"timeout interface", timeoutError{}, ErrTimeout},
		{"deadline", context.DeadlineExceeded, ErrTimeout},
		{"connection refused", errors.New("dial tcp: connection refused"), ErrNetwork},
		{"unexpected eof", errors.New("unexpected EOF"), ErrNetwork},
		{"forbidden text", errors.New("403 Forbidden"), ErrAccessDenied},
		{"unknown", errors.New("something odd"), ErrRemote},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
	assert.NoError(t, Classify(nil))
}

func TestKind(t *testing.T) {
	err := wrap("GetObject", "b", "k", errors.New("NoSuchKey"))
	assert.Equal(t, ErrNotFound, Kind(err))
	assert.Equal(t, ErrNotFound, Kind(fmt.Errorf("outer: %w", err)))
	assert.Equal(t, ErrRemote, Kind(errors.New("plain")))
	assert.NoError(t, Kind(nil))
	assert.NoError(t, wrap("op", "b", "k", nil))
}

func TestError_Message(t *testing.T) {
	err := &Error{Kind: ErrRemote, Op: "UploadPart(3)", Bucket: "b", Key: "k", Err: errors.New("boom")}
	assert.Equal(t, "UploadPart(3) s3://b/k: boom", err.Error())

	bare := &Error{Kind: ErrRemote, Op: "HeadObject", Err: errors.New("boom")}
	assert.Equal(t, "HeadObject: boom", bare.Error())
}

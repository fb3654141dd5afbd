package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aws/smithy-go"
	"github.com/minio/minio-go/v7"
)

// Sentinel kinds for remote failures. They are used to label log lines;
// the transfer engine treats every remote failure alike.
var (
	ErrNotFound     = errors.New("not found")
	ErrAccessDenied = errors.New("access denied")
	ErrAuth         = errors.New("authentication failed")
	ErrThrottled    = errors.New("rate limited")
	ErrTimeout      = errors.New("operation timed out")
	ErrNetwork      = errors.New("network error")
	ErrInvalidRange = errors.New("invalid range")
	ErrRemote       = errors.New("remote error")
)

// Error is a failed remote call with the object it concerned.
type Error struct {
	// Kind is one of the sentinel kinds above.
	Kind   error
	Op     string
	Bucket string
	Key    string
	Err    error
}

func (e *Error) Error() string {
	if e.Bucket != "" && e.Key != "" {
		return fmt.Sprintf("%s s3://%s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether the error's kind matches target.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// wrap classifies err and attaches the call's context. Returns nil if err
// is nil.
func wrap(op, bucket, key string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: Classify(err), Op: op, Bucket: bucket, Key: key, Err: err}
}

// Kind returns the classification of err, or nil when err is nil.
func Kind(err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return Classify(err)
}

// Classify maps an error from any backend to a sentinel kind. Service
// error codes are consulted first, then message patterns.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if kind := classifyCode(apiErr.ErrorCode()); kind != nil {
			return kind
		}
	}
	if resp := minio.ToErrorResponse(err); resp.Code != "" {
		if kind := classifyCode(resp.Code); kind != nil {
			return kind
		}
	}

	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return ErrTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "invalidrange", "range not satisfiable", "416"):
		return ErrInvalidRange
	case containsAny(msg, "nosuchkey", "nosuchupload", "nosuchbucket", "not found", "404"):
		return ErrNotFound
	case containsAny(msg, "accessdenied", "forbidden", "403"):
		return ErrAccessDenied
	case containsAny(msg, "invalidaccesskeyid", "signaturedoesnotmatch", "expiredtoken",
		"no valid credential", "401", "unauthorized"):
		return ErrAuth
	case containsAny(msg, "slowdown", "throttl", "toomanyrequests", "429", "rate exceeded"):
		return ErrThrottled
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return ErrTimeout
	case containsAny(msg, "connection refused", "connection reset", "no route to host",
		"network is unreachable", "dial tcp", "no such host", "eof"):
		return ErrNetwork
	default:
		return ErrRemote
	}
}

func classifyCode(code string) error {
	switch code {
	case "NoSuchKey", "NoSuchUpload", "NoSuchBucket", "NotFound":
		return ErrNotFound
	case "AccessDenied", "Forbidden":
		return ErrAccessDenied
	case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "InvalidToken":
		return ErrAuth
	case "SlowDown", "Throttling", "ThrottlingException", "TooManyRequests", "RequestLimitExceeded":
		return ErrThrottled
	case "RequestTimeout", "RequestTimeTooSkewed":
		return ErrTimeout
	case "InvalidRange":
		return ErrInvalidRange
	}
	return nil
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

package transfer

import (
	"errors"
	"fmt"
)

// Failure kinds. Every failed operation carries exactly one of them.
var (
	// ErrRetryable marks a transient failure. The retry policy absorbs it
	// up to the attempt cap.
	ErrRetryable = errors.New("retryable")
	// ErrUnrecoverable marks a failure retrying cannot fix. It is never
	// retried and rules out a resume.
	ErrUnrecoverable = errors.New("unrecoverable")
)

// Consistency and precondition failures. All are unrecoverable.
var (
	ErrStateExists       = errors.New("state file already exists")
	ErrOutputExists      = errors.New("output file already exists")
	ErrSizeChanged       = errors.New("object size changed since the transfer began")
	ErrByteCountMismatch = errors.New("transferred byte count does not match object size")
	ErrNotResumable      = errors.New("transfer failed unrecoverably and cannot be resumed")
	ErrDirection         = errors.New("state file belongs to the other direction")
	ErrPartNumber        = errors.New("part number out of range")
)

// ErrRetriesExhausted wraps the last cause once the attempt cap is reached.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Error is a classified failure of one engine operation.
type Error struct {
	// Kind is ErrRetryable or ErrUnrecoverable.
	Kind error
	// Op is the operation that failed (e.g. "upload part", "open source").
	Op string
	// Part is the part number involved, zero if none.
	Part uint64
	// Err is the underlying error.
	Err error
}

func (e *Error) Error() string {
	if e.Part != 0 {
		return fmt.Sprintf("%s (part %d): %v", e.Op, e.Part, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether the error's kind matches target.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// Retryable classifies err as transient. Returns nil if err is nil.
func Retryable(op string, part uint64, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: ErrRetryable, Op: op, Part: part, Err: err}
}

// Unrecoverable classifies err as permanent. Returns nil if err is nil.
func Unrecoverable(op string, part uint64, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: ErrUnrecoverable, Op: op, Part: part, Err: err}
}

// IsRetryable reports whether err is classified retryable. An error with an
// unrecoverable kind anywhere in its chain is never retryable.
func IsRetryable(err error) bool {
	return err != nil && errors.Is(err, ErrRetryable) && !errors.Is(err, ErrUnrecoverable)
}

// IsUnrecoverable reports whether err must not be retried. Unclassified
// errors count as unrecoverable.
func IsUnrecoverable(err error) bool {
	return err != nil && !IsRetryable(err)
}

func sizeChanged(want, got uint64) error {
	return fmt.Errorf("%w: recorded %d bytes, found %d", ErrSizeChanged, want, got)
}

// partOf returns the part number recorded on a classified error.
func partOf(err error) uint64 {
	var te *Error
	if errors.As(err, &te) {
		return te.Part
	}
	return 0
}

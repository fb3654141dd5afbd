package state

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Store.
var (
	// ErrNotFound indicates no state file exists at the path.
	ErrNotFound = errors.New("state file not found")
	// ErrExists indicates a state file already exists where a new transfer
	// was about to start.
	ErrExists = errors.New("state file already exists")
	// ErrCorrupt indicates the state file cannot be used.
	ErrCorrupt = errors.New("state file corrupt")
	// ErrReleased indicates a handle was used after its state file was
	// deleted.
	ErrReleased = errors.New("state handle released")
)

// CorruptError describes a state file that failed to decode or validate.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("state file %s is corrupt: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// Is reports ErrCorrupt as matching.
func (e *CorruptError) Is(target error) bool {
	return target == ErrCorrupt
}

// Package transfer drives resumable multipart transfers between a local
// file and a remote object store.
//
// One Engine runs both directions. Everything direction-specific lives
// behind Driver, implemented by Uploader and Downloader. The engine moves
// parts strictly in order, one at a time, and persists the state file
// after every part so that a crash at any point leaves a record that
// matches the work actually done.
package transfer

import (
	"context"
	"fmt"

	"github.com/pithecene-io/persevere/plan"
	"github.com/pithecene-io/persevere/state"
	"github.com/pithecene-io/persevere/types"
)

// Request describes a new transfer.
type Request struct {
	Bucket    string
	Key       string
	LocalPath string
	StateFile string
	// PartSize overrides the computed part size. Zero means automatic.
	PartSize uint64
}

// Validate checks that the request names both ends and a state file.
func (r *Request) Validate() error {
	switch {
	case r.Bucket == "":
		return fmt.Errorf("bucket is required")
	case r.Key == "":
		return fmt.Errorf("key is required")
	case r.LocalPath == "":
		return fmt.Errorf("local path is required")
	case r.StateFile == "":
		return fmt.Errorf("state file is required")
	}
	return nil
}

// Driver is the direction-specific half of a transfer.
//
// Every returned error is classified with Retryable or Unrecoverable.
// Begin and Verify end with their remote call so the engine can rerun them
// under the retry policy.
type Driver interface {
	// Direction returns the direction the driver moves bytes in.
	Direction() types.Direction

	// Begin prepares a new transfer and returns its initial descriptor.
	// Uploads register the multipart upload; downloads read the object
	// size and preallocate the output file.
	Begin(ctx context.Context, req Request) (state.Descriptor, error)

	// Verify checks before a resume that both ends still match d.
	Verify(ctx context.Context, d *state.Descriptor) error

	// TransferPart moves one part. Uploads return the part's receipt;
	// downloads return nil.
	TransferPart(ctx context.Context, d *state.Descriptor, part plan.Part) (*types.Receipt, error)

	// Finalize completes the transfer once every part is done and returns
	// the object's ETag when the direction has one.
	Finalize(ctx context.Context, d *state.Descriptor) (string, error)

	// Cancel releases remote resources held by the transfer. It reports
	// whether a remote call was made and succeeded.
	Cancel(ctx context.Context, d *state.Descriptor) (bool, error)

	// Discard removes local files Begin created. It is called when the
	// state file for a new transfer could not be written.
	Discard(d *state.Descriptor) error
}

// Package state persists the progress record of a single multipart
// transfer so that it can be resumed after a crash or a failed run.
package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/persevere/plan"
	"github.com/pithecene-io/persevere/types"
)

// Descriptor is the persisted record of one transfer's configuration and
// progress. It is written as a single JSON object.
//
// PartSize and PartCount are fixed at creation. LastCompletedPart only
// grows. For uploads, CompletedParts holds exactly the receipts of parts
// 1..LastCompletedPart in order.
type Descriptor struct {
	Version    int             `json:"version"`
	TransferID string          `json:"transfer_id"`
	Direction  types.Direction `json:"direction"`

	Bucket    string `json:"s3_bucket"`
	Key       string `json:"s3_key"`
	LocalPath string `json:"local_path"`

	ObjectSize uint64 `json:"object_size"`
	PartSize   uint64 `json:"part_size"`
	PartCount  uint64 `json:"number_of_parts"`

	// UploadID is the remote multipart upload handle. Uploads only.
	UploadID    string `json:"upload_id,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	// SourceModTime is the source file's modification time at start.
	// Informational; resume compares sizes only.
	SourceModTime *time.Time `json:"source_mod_time,omitempty"`

	LastCompletedPart uint64          `json:"last_successful_part"`
	CompletedParts    []types.Receipt `json:"completed_parts,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Failure describes the most recent failed run, kept for diagnosis.
	Failure *Failure `json:"failure,omitempty"`
}

// FailureKind classifies a recorded failure.
type FailureKind string

// Failure kinds.
const (
	FailureRetryable     FailureKind = "retryable"
	FailureUnrecoverable FailureKind = "unrecoverable"
)

// Failure records why a run stopped.
type Failure struct {
	Part    uint64      `json:"part,omitempty"`
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
	At      time.Time   `json:"at"`
	// RemoteCancelled is set once the remote upload was aborted after the
	// failure.
	RemoteCancelled bool `json:"remote_cancelled,omitempty"`
}

// Plan returns the partitioning fixed at creation.
func (d *Descriptor) Plan() plan.Plan {
	return plan.Plan{ObjectSize: d.ObjectSize, PartSize: d.PartSize, PartCount: d.PartCount}
}

// Done reports whether every part has been transferred.
func (d *Descriptor) Done() bool {
	return d.LastCompletedPart == d.PartCount
}

// NextPart returns the first part not yet transferred.
func (d *Descriptor) NextPart() uint64 {
	return d.LastCompletedPart + 1
}

// BytesCompleted returns the number of bytes covered by completed parts.
func (d *Descriptor) BytesCompleted() uint64 {
	if d.LastCompletedPart == 0 {
		return 0
	}
	p := d.Plan()
	last := p.Part(d.LastCompletedPart)
	return last.Offset + last.Length
}

// Unrecoverable reports whether the recorded failure rules out a resume.
func (d *Descriptor) Unrecoverable() bool {
	return d.Failure != nil && d.Failure.Kind == FailureUnrecoverable
}

// clone returns a deep copy.
func (d *Descriptor) clone() Descriptor {
	c := *d
	if d.CompletedParts != nil {
		c.CompletedParts = append([]types.Receipt(nil), d.CompletedParts...)
	}
	if d.Failure != nil {
		f := *d.Failure
		c.Failure = &f
	}
	if d.SourceModTime != nil {
		t := *d.SourceModTime
		c.SourceModTime = &t
	}
	return c
}

// Validate performs the structural checks applied when a state file is
// loaded. It does not consult the remote service or the local file.
func (d *Descriptor) Validate() error {
	var errs []error

	if d.Version < 1 || d.Version > types.StateVersion {
		errs = append(errs, fmt.Errorf("unsupported version %d", d.Version))
	}
	if !d.Direction.Valid() {
		errs = append(errs, fmt.Errorf("unknown direction %q", d.Direction))
	}
	if d.Bucket == "" {
		errs = append(errs, errors.New("s3_bucket is empty"))
	}
	if d.Key == "" {
		errs = append(errs, errors.New("s3_key is empty"))
	}
	if d.LocalPath == "" {
		errs = append(errs, errors.New("local_path is empty"))
	}
	if err := d.Plan().Validate(); err != nil {
		errs = append(errs, err)
	}
	if d.LastCompletedPart > d.PartCount {
		errs = append(errs, fmt.Errorf("last_successful_part %d exceeds number_of_parts %d",
			d.LastCompletedPart, d.PartCount))
	}

	switch d.Direction {
	case types.DirectionUpload:
		if d.UploadID == "" {
			errs = append(errs, errors.New("upload_id is empty"))
		}
		if uint64(len(d.CompletedParts)) != d.LastCompletedPart {
			errs = append(errs, fmt.Errorf("%d completed_parts for last_successful_part %d",
				len(d.CompletedParts), d.LastCompletedPart))
		}
		for i, r := range d.CompletedParts {
			if r.PartNumber != int32(i+1) {
				errs = append(errs, fmt.Errorf("completed_parts[%d] has part_number %d", i, r.PartNumber))
				break
			}
		}
	case types.DirectionDownload:
		if d.UploadID != "" || len(d.CompletedParts) > 0 {
			errs = append(errs, errors.New("download state carries upload fields"))
		}
	}

	return errors.Join(errs...)
}

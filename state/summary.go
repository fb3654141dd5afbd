package state

import (
	"time"

	"github.com/pithecene-io/persevere/types"
)

// Phase names where a transfer stands according to its state file.
type Phase string

// Phases reported by Summarize.
const (
	PhaseInProgress    Phase = "in_progress"
	PhaseFinalizing    Phase = "finalizing"
	PhaseRetryable     Phase = "failed_retryable"
	PhaseUnrecoverable Phase = "failed_unrecoverable"
)

// Summary is a read-only view of a state file for display.
type Summary struct {
	TransferID     string          `json:"transfer_id" yaml:"transfer_id"`
	Direction      types.Direction `json:"direction" yaml:"direction"`
	Phase          Phase           `json:"phase" yaml:"phase"`
	Bucket         string          `json:"bucket" yaml:"bucket"`
	Key            string          `json:"key" yaml:"key"`
	LocalPath      string          `json:"local_path" yaml:"local_path"`
	StateFile      string          `json:"state_file" yaml:"state_file"`
	ObjectSize     uint64          `json:"object_size" yaml:"object_size"`
	PartSize       uint64          `json:"part_size" yaml:"part_size"`
	PartCount      uint64          `json:"part_count" yaml:"part_count"`
	PartsCompleted uint64          `json:"parts_completed" yaml:"parts_completed"`
	BytesCompleted uint64          `json:"bytes_completed" yaml:"bytes_completed"`
	Percent        float64         `json:"percent" yaml:"percent"`
	UploadID       string          `json:"upload_id,omitempty" yaml:"upload_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at" yaml:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" yaml:"updated_at"`
	Failure        *Failure        `json:"failure,omitempty" yaml:"failure,omitempty"`
}

// Summarize builds the display view of d, loaded from path.
func (d *Descriptor) Summarize(path string) Summary {
	s := Summary{
		TransferID:     d.TransferID,
		Direction:      d.Direction,
		Phase:          PhaseInProgress,
		Bucket:         d.Bucket,
		Key:            d.Key,
		LocalPath:      d.LocalPath,
		StateFile:      path,
		ObjectSize:     d.ObjectSize,
		PartSize:       d.PartSize,
		PartCount:      d.PartCount,
		PartsCompleted: d.LastCompletedPart,
		BytesCompleted: d.BytesCompleted(),
		UploadID:       d.UploadID,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
	if d.ObjectSize > 0 {
		s.Percent = float64(s.BytesCompleted) / float64(d.ObjectSize) * 100
	}
	if d.Failure != nil {
		f := *d.Failure
		s.Failure = &f
	}

	switch {
	case d.Unrecoverable():
		s.Phase = PhaseUnrecoverable
	case d.Failure != nil:
		s.Phase = PhaseRetryable
	case d.Done():
		s.Phase = PhaseFinalizing
	}
	return s
}

// Resumable reports whether a resume may continue the transfer.
func (s Summary) Resumable() bool {
	return s.Phase != PhaseUnrecoverable
}

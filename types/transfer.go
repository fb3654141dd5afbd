// Package types defines core domain types shared by the transfer engine,
// the CLI, and the notification adapters.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"fmt"
	"time"
)

// Direction identifies which way bytes flow in a transfer.
type Direction string

const (
	// DirectionUpload moves a local file into a remote object.
	DirectionUpload Direction = "upload"
	// DirectionDownload moves a remote object into a local file.
	DirectionDownload Direction = "download"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionUpload || d == DirectionDownload
}

// ParseDirection parses a direction name.
func ParseDirection(s string) (Direction, error) {
	d := Direction(s)
	if !d.Valid() {
		return "", fmt.Errorf("unknown direction %q (want upload or download)", s)
	}
	return d, nil
}

// Receipt is the per-part confirmation returned by the remote service on a
// successful part upload. Receipts are required, in part order, to complete
// a multipart upload.
type Receipt struct {
	PartNumber     int32  `json:"part_number" yaml:"part_number"`
	ETag           string `json:"e_tag,omitempty" yaml:"e_tag,omitempty"`
	ChecksumCRC32  string `json:"checksum_crc32,omitempty" yaml:"checksum_crc32,omitempty"`
	ChecksumCRC32C string `json:"checksum_crc32_c,omitempty" yaml:"checksum_crc32_c,omitempty"`
	ChecksumSHA1   string `json:"checksum_sha1,omitempty" yaml:"checksum_sha1,omitempty"`
	ChecksumSHA256 string `json:"checksum_sha256,omitempty" yaml:"checksum_sha256,omitempty"`
	// ChecksumCRC64NVME is only returned by services that support it.
	ChecksumCRC64NVME string `json:"checksum_crc64nvme,omitempty" yaml:"checksum_crc64nvme,omitempty"`
}

// OutcomeStatus is the terminal status of a transfer command.
type OutcomeStatus string

const (
	// OutcomeSuccess indicates every part transferred and the transfer was finalized.
	OutcomeSuccess OutcomeStatus = "success"
	// OutcomeRetryableFailure indicates retries were exhausted; the transfer can be resumed.
	OutcomeRetryableFailure OutcomeStatus = "retryable_failure"
	// OutcomeUnrecoverableFailure indicates the transfer cannot be resumed.
	OutcomeUnrecoverableFailure OutcomeStatus = "unrecoverable_failure"
	// OutcomeAborted indicates an operator-requested abort.
	OutcomeAborted OutcomeStatus = "aborted"
)

// Terminal reports whether the status ends the transfer's lifecycle.
// A retryable failure leaves the state file in place for resume.
func (s OutcomeStatus) Terminal() bool {
	return s != OutcomeRetryableFailure
}

// TransferOutcome describes how a transfer command ended.
type TransferOutcome struct {
	Status  OutcomeStatus `json:"status"`
	Message string        `json:"message,omitempty"`
	// FailedPart is the part number being transferred when the failure
	// occurred. Zero when the failure was not tied to a part.
	FailedPart int32 `json:"failed_part,omitempty"`
	// RemoteCancelled is set when an unrecoverable upload failure led to
	// the remote multipart upload being aborted.
	RemoteCancelled bool `json:"remote_cancelled,omitempty"`
}

// TransferCompletedEvent is published to notification adapters once a
// transfer command reaches an outcome.
type TransferCompletedEvent struct {
	EventType        string        `json:"event_type"`
	TransferID       string        `json:"transfer_id"`
	Direction        Direction     `json:"direction"`
	Bucket           string        `json:"bucket"`
	Key              string        `json:"key"`
	LocalPath        string        `json:"local_path"`
	Outcome          OutcomeStatus `json:"outcome"`
	Message          string        `json:"message,omitempty"`
	PartsTransferred int64         `json:"parts_transferred"`
	PartCount        int32         `json:"part_count"`
	BytesTransferred int64         `json:"bytes_transferred"`
	ETag             string        `json:"etag,omitempty"`
	StateFile        string        `json:"state_file"`
	DurationMs       int64         `json:"duration_ms"`
	Timestamp        time.Time     `json:"timestamp"`
}

// EventTypeTransferCompleted is the event type of TransferCompletedEvent.
const EventTypeTransferCompleted = "transfer.completed"

// TransferMeta identifies a transfer in logs and notifications.
type TransferMeta struct {
	TransferID string
	Direction  Direction
	Bucket     string
	Key        string
	StateFile  string
}

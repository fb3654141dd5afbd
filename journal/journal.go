// Package journal appends transfer lifecycle records to a lode dataset and
// reads them back for the history command.
//
// Records are partitioned with a Hive layout on direction/day/transfer_id.
// A journal is best effort: callers log write failures and carry on.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/persevere/metrics"
	"github.com/pithecene-io/persevere/types"
)

// DefaultDataset is the dataset id used when none is configured.
const DefaultDataset = "persevere"

// RecordKindTransfer is the record_kind discriminator of lifecycle records.
const RecordKindTransfer = "transfer_event"

// Event names a lifecycle transition.
type Event string

// Lifecycle events.
const (
	EventStarted    Event = "started"
	EventResumed    Event = "resumed"
	EventPartFailed Event = "part_failed"
	EventCompleted  Event = "completed"
	EventFailed     Event = "failed"
	EventAborted    Event = "aborted"
)

// Record is one lifecycle entry.
type Record struct {
	RecordKind string `json:"record_kind"`
	Event      Event  `json:"event"`

	TransferID string          `json:"transfer_id"`
	Direction  types.Direction `json:"direction"`
	Bucket     string          `json:"bucket"`
	Key        string          `json:"key"`
	LocalPath  string          `json:"local_path"`
	StateFile  string          `json:"state_file"`

	ObjectSize     uint64 `json:"object_size"`
	PartSize       uint64 `json:"part_size"`
	PartCount      uint64 `json:"part_count"`
	PartsCompleted uint64 `json:"parts_completed"`
	BytesCompleted uint64 `json:"bytes_completed"`

	// Part is set on part_failed and on failures tied to a part.
	Part    uint64              `json:"part,omitempty"`
	Outcome types.OutcomeStatus `json:"outcome,omitempty"`
	Message string              `json:"message,omitempty"`
	ETag    string              `json:"etag,omitempty"`
	Metrics *metrics.Snapshot   `json:"metrics,omitempty"`

	Ts  time.Time `json:"ts"`
	Day string    `json:"day"`
}

// Journal accepts lifecycle records.
type Journal interface {
	Append(ctx context.Context, r *Record) error
	Close() error
}

// Nop discards every record.
type Nop struct{}

// Append implements Journal.
func (Nop) Append(context.Context, *Record) error { return nil }

// Close implements Journal.
func (Nop) Close() error { return nil }

// LodeJournal writes records to a lode dataset.
type LodeJournal struct {
	dataset lode.Dataset
}

// NewDataset opens the dataset with the journal's layout and codec. Reads
// and writes must use the same layout.
func NewDataset(id string, factory lode.StoreFactory) (lode.Dataset, error) {
	if id == "" {
		id = DefaultDataset
	}
	return lode.NewDataset(
		lode.DatasetID(id),
		factory,
		lode.WithHiveLayout("direction", "day", "transfer_id"),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// New creates a journal over factory. Use lode.NewMemoryFactory() for tests.
func New(id string, factory lode.StoreFactory) (*LodeJournal, error) {
	ds, err := NewDataset(id, factory)
	if err != nil {
		return nil, fmt.Errorf("open journal dataset: %w", err)
	}
	return &LodeJournal{dataset: ds}, nil
}

// NewFS creates a journal rooted at a local directory.
func NewFS(id, root string) (*LodeJournal, error) {
	return New(id, lode.NewFSFactory(root))
}

// Append writes r as a single-record snapshot.
func (j *LodeJournal) Append(ctx context.Context, r *Record) error {
	if r.Ts.IsZero() {
		r.Ts = time.Now()
	}
	r.Ts = r.Ts.UTC()
	r.Day = r.Ts.Format(time.DateOnly)
	r.RecordKind = RecordKindTransfer

	if _, err := j.dataset.Write(ctx, []any{toMap(r)}, lode.Metadata{}); err != nil {
		return fmt.Errorf("journal %s %s: %w", r.Event, r.TransferID, err)
	}
	return nil
}

// Close releases journal resources.
func (j *LodeJournal) Close() error {
	// Dataset doesn't require explicit close in current Lode API
	return nil
}

// toMap flattens r for storage; the Hive layout reads partition keys from
// top-level fields.
func toMap(r *Record) map[string]any {
	m := map[string]any{
		"record_kind":     r.RecordKind,
		"event":           string(r.Event),
		"transfer_id":     r.TransferID,
		"direction":       string(r.Direction),
		"bucket":          r.Bucket,
		"key":             r.Key,
		"local_path":      r.LocalPath,
		"state_file":      r.StateFile,
		"object_size":     r.ObjectSize,
		"part_size":       r.PartSize,
		"part_count":      r.PartCount,
		"parts_completed": r.PartsCompleted,
		"bytes_completed": r.BytesCompleted,
		"ts":              r.Ts.Format(time.RFC3339Nano),
		"day":             r.Day,
	}
	if r.Part != 0 {
		m["part"] = r.Part
	}
	if r.Outcome != "" {
		m["outcome"] = string(r.Outcome)
	}
	if r.Message != "" {
		m["message"] = r.Message
	}
	if r.ETag != "" {
		m["etag"] = r.ETag
	}
	if r.Metrics != nil {
		m["metrics"] = r.Metrics.Fields()
	}
	return m
}

var (
	_ Journal = (*LodeJournal)(nil)
	_ Journal = Nop{}
)

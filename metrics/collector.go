// Package metrics provides per-command transfer metrics.
//
// The Collector accumulates counters while one transfer command runs. It is
// a leaf package with no internal dependencies. All increment methods are
// nil-receiver safe so callers can pass a nil *Collector to disable metrics.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all metrics.
type Snapshot struct {
	// Transfer lifecycle
	TransfersStarted       int64 `json:"transfers_started"`
	TransfersResumed       int64 `json:"transfers_resumed"`
	TransfersCompleted     int64 `json:"transfers_completed"`
	TransfersRetryable     int64 `json:"transfers_failed_retryable"`
	TransfersUnrecoverable int64 `json:"transfers_failed_unrecoverable"`
	TransfersAborted       int64 `json:"transfers_aborted"`

	// Parts
	PartsAttempted   int64 `json:"parts_attempted"`
	PartsSucceeded   int64 `json:"parts_succeeded"`
	PartsRetried     int64 `json:"parts_retried"`
	PartsFailed      int64 `json:"parts_failed"`
	BytesTransferred int64 `json:"bytes_transferred"`

	// Remote failures by storage error kind
	FailuresByKind map[string]int64 `json:"failures_by_kind,omitempty"`

	// State file
	StateSaves        int64 `json:"state_saves"`
	StateSaveFailures int64 `json:"state_save_failures"`

	// Journal
	JournalWriteSuccess int64 `json:"journal_write_success"`
	JournalWriteFailure int64 `json:"journal_write_failure"`

	// Dimensions (informational, set at construction)
	Direction      string `json:"direction"`
	StorageBackend string `json:"storage_backend"`
	TransferID     string `json:"transfer_id,omitempty"`
}

// Collector accumulates metrics during a single transfer command.
// Thread-safe via sync.Mutex.
type Collector struct {
	mu sync.Mutex

	transfersStarted       int64
	transfersResumed       int64
	transfersCompleted     int64
	transfersRetryable     int64
	transfersUnrecoverable int64
	transfersAborted       int64

	partsAttempted   int64
	partsSucceeded   int64
	partsRetried     int64
	partsFailed      int64
	bytesTransferred int64

	failuresByKind map[string]int64

	stateSaves        int64
	stateSaveFailures int64

	journalWriteSuccess int64
	journalWriteFailure int64

	direction      string
	storageBackend string
	transferID     string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(direction, storageBackend string) *Collector {
	return &Collector{
		failuresByKind: make(map[string]int64),
		direction:      direction,
		storageBackend: storageBackend,
	}
}

// SetTransferID sets the transfer id dimension once it is known.
func (c *Collector) SetTransferID(id string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.transferID = id
	c.mu.Unlock()
}

func (c *Collector) add(field *int64, n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	*field += n
	c.mu.Unlock()
}

// --- Transfer lifecycle ---

// IncTransferStarted records a fresh transfer start.
func (c *Collector) IncTransferStarted() {
	if c != nil {
		c.add(&c.transfersStarted, 1)
	}
}

// IncTransferResumed records a resume.
func (c *Collector) IncTransferResumed() {
	if c != nil {
		c.add(&c.transfersResumed, 1)
	}
}

// IncTransferCompleted records a completed transfer.
func (c *Collector) IncTransferCompleted() {
	if c != nil {
		c.add(&c.transfersCompleted, 1)
	}
}

// IncTransferRetryable records a run that stopped with a resumable failure.
func (c *Collector) IncTransferRetryable() {
	if c != nil {
		c.add(&c.transfersRetryable, 1)
	}
}

// IncTransferUnrecoverable records a run that stopped with an unrecoverable failure.
func (c *Collector) IncTransferUnrecoverable() {
	if c != nil {
		c.add(&c.transfersUnrecoverable, 1)
	}
}

// IncTransferAborted records an operator abort.
func (c *Collector) IncTransferAborted() {
	if c != nil {
		c.add(&c.transfersAborted, 1)
	}
}

// --- Parts ---

// IncPartAttempt records one attempt at transferring a part.
func (c *Collector) IncPartAttempt() {
	if c != nil {
		c.add(&c.partsAttempted, 1)
	}
}

// IncPartRetry records an attempt that failed and will be retried.
func (c *Collector) IncPartRetry() {
	if c != nil {
		c.add(&c.partsRetried, 1)
	}
}

// IncPartFailed records a part that failed for good in this run.
func (c *Collector) IncPartFailed() {
	if c != nil {
		c.add(&c.partsFailed, 1)
	}
}

// AddPartSucceeded records a transferred part of n bytes.
func (c *Collector) AddPartSucceeded(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.partsSucceeded++
	c.bytesTransferred += n
	c.mu.Unlock()
}

// IncFailureKind records a failed remote call by error kind.
func (c *Collector) IncFailureKind(kind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.failuresByKind[kind]++
	c.mu.Unlock()
}

// --- State file ---

// IncStateSave records a successful state file save.
func (c *Collector) IncStateSave() {
	if c != nil {
		c.add(&c.stateSaves, 1)
	}
}

// IncStateSaveFailure records a failed state file save.
func (c *Collector) IncStateSaveFailure() {
	if c != nil {
		c.add(&c.stateSaveFailures, 1)
	}
}

// --- Journal ---

// IncJournalWriteSuccess records a journal write.
func (c *Collector) IncJournalWriteSuccess() {
	if c != nil {
		c.add(&c.journalWriteSuccess, 1)
	}
}

// IncJournalWriteFailure records a failed journal write.
func (c *Collector) IncJournalWriteFailure() {
	if c != nil {
		c.add(&c.journalWriteFailure, 1)
	}
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	byKind := make(map[string]int64, len(c.failuresByKind))
	for k, v := range c.failuresByKind {
		byKind[k] = v
	}

	return Snapshot{
		TransfersStarted:       c.transfersStarted,
		TransfersResumed:       c.transfersResumed,
		TransfersCompleted:     c.transfersCompleted,
		TransfersRetryable:     c.transfersRetryable,
		TransfersUnrecoverable: c.transfersUnrecoverable,
		TransfersAborted:       c.transfersAborted,

		PartsAttempted:   c.partsAttempted,
		PartsSucceeded:   c.partsSucceeded,
		PartsRetried:     c.partsRetried,
		PartsFailed:      c.partsFailed,
		BytesTransferred: c.bytesTransferred,

		FailuresByKind: byKind,

		StateSaves:        c.stateSaves,
		StateSaveFailures: c.stateSaveFailures,

		JournalWriteSuccess: c.journalWriteSuccess,
		JournalWriteFailure: c.journalWriteFailure,

		Direction:      c.direction,
		StorageBackend: c.storageBackend,
		TransferID:     c.transferID,
	}
}

// Fields returns the snapshot as log fields.
func (s Snapshot) Fields() map[string]any {
	return map[string]any{
		"parts_attempted":     s.PartsAttempted,
		"parts_succeeded":     s.PartsSucceeded,
		"parts_retried":       s.PartsRetried,
		"parts_failed":        s.PartsFailed,
		"bytes_transferred":   s.BytesTransferred,
		"state_saves":         s.StateSaves,
		"state_save_failures": s.StateSaveFailures,
		"failures_by_kind":    s.FailuresByKind,
	}
}

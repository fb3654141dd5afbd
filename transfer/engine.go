package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/persevere/journal"
	"github.com/pithecene-io/persevere/log"
	"github.com/pithecene-io/persevere/metrics"
	"github.com/pithecene-io/persevere/state"
	"github.com/pithecene-io/persevere/storage"
	"github.com/pithecene-io/persevere/types"
)

// cancelTimeout bounds the remote cleanup issued after a failure. Cleanup
// runs even when the command's context was cancelled.
const cancelTimeout = 2 * time.Minute

// Config configures an Engine.
type Config struct {
	// Store persists state files (required).
	Store *state.Store
	// Retry is applied to every part and to the begin, verify, finalize
	// and cancel steps. A zero MaxAttempts means DefaultMaxAttempts.
	Retry RetryPolicy
	// Logger receives engine logs. If nil, logs are discarded.
	Logger *log.Logger
	// Collector is the metrics collector for this command.
	// If nil, no metrics are recorded (all Collector methods are nil-safe).
	Collector *metrics.Collector
	// Journal receives lifecycle records. If nil, nothing is recorded.
	Journal journal.Journal
	// Now overrides the clock (for testing).
	Now func() time.Time
	// NewID overrides transfer id generation (for testing).
	NewID func() string
}

// Result describes how one start, resume or abort command ended.
type Result struct {
	TransferID string
	Direction  types.Direction
	Bucket     string
	Key        string
	LocalPath  string
	StateFile  string

	ObjectSize     uint64
	PartCount      uint64
	PartsCompleted uint64

	// PartsTransferred and BytesTransferred count this command's work only.
	PartsTransferred int64
	BytesTransferred int64

	ETag     string
	Outcome  types.TransferOutcome
	Duration time.Duration

	// Aborting is set on results of Abort. A retryable abort is repeated
	// with another abort, not resumed.
	Aborting bool
}

// Event builds the notification published for this result.
func (r *Result) Event(ts time.Time) *types.TransferCompletedEvent {
	return &types.TransferCompletedEvent{
		EventType:        types.EventTypeTransferCompleted,
		TransferID:       r.TransferID,
		Direction:        r.Direction,
		Bucket:           r.Bucket,
		Key:              r.Key,
		LocalPath:        r.LocalPath,
		Outcome:          r.Outcome.Status,
		Message:          r.Outcome.Message,
		PartsTransferred: r.PartsTransferred,
		PartCount:        int32(r.PartCount),
		BytesTransferred: r.BytesTransferred,
		ETag:             r.ETag,
		StateFile:        r.StateFile,
		DurationMs:       r.Duration.Milliseconds(),
		Timestamp:        ts.UTC(),
	}
}

func (r *Result) describe(d *state.Descriptor) {
	r.TransferID = d.TransferID
	r.Bucket = d.Bucket
	r.Key = d.Key
	r.LocalPath = d.LocalPath
	r.ObjectSize = d.ObjectSize
	r.PartCount = d.PartCount
	r.PartsCompleted = d.LastCompletedPart
}

// Engine runs transfers. It holds no per-transfer state and may be reused
// for several commands, one at a time.
type Engine struct {
	cfg Config
}

// NewEngine creates an engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("state store is required")
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = DefaultMaxAttempts
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Nop()
	}
	if cfg.Journal == nil {
		cfg.Journal = journal.Nop{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}

	if cfg.Retry.Backoff > 0 {
		cfg.Logger.Warn("retry backoff enabled: failed attempts wait before retrying instead of retrying immediately", map[string]any{
			"retry_backoff": cfg.Retry.Backoff.String(),
			"max_attempts":  cfg.Retry.MaxAttempts,
		})
	}
	return &Engine{cfg: cfg}, nil
}

// Start begins a new transfer and runs it until it completes or fails.
//
// The returned error is non-nil only for an invalid request. Every other
// failure is reported in Result.Outcome.
func (e *Engine) Start(ctx context.Context, drv Driver, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	res := &Result{
		Direction: drv.Direction(),
		Bucket:    req.Bucket,
		Key:       req.Key,
		LocalPath: req.LocalPath,
		StateFile: req.StateFile,
	}
	r := e.newRun(drv, res)

	exists, err := e.cfg.Store.Exists(req.StateFile)
	if err != nil {
		return r.reject(Unrecoverable("check state file", 0, err)), nil
	}
	if exists {
		return r.reject(Unrecoverable("check state file", 0, fmt.Errorf("%w: %s", ErrStateExists, req.StateFile))), nil
	}

	d, err := Attempt(ctx, r.policy("begin", 0), func(ctx context.Context, _ int) (state.Descriptor, error) {
		return drv.Begin(ctx, req)
	})
	if err != nil {
		return r.reject(err), nil
	}

	d.Version = types.StateVersion
	d.TransferID = e.cfg.NewID()
	res.describe(&d)
	r.bind(&d)

	h, err := e.cfg.Store.Create(req.StateFile, d)
	if err != nil {
		e.cfg.Collector.IncStateSaveFailure()
		cancelled := e.cancelRemote(ctx, drv, &d, r.logger)
		if derr := drv.Discard(&d); derr != nil {
			r.logger.Error("failed to remove local output", map[string]any{"error": derr.Error()})
		}
		out := r.reject(Unrecoverable("create state file", 0, err))
		out.Outcome.RemoteCancelled = cancelled
		return out, nil
	}
	e.cfg.Collector.IncStateSave()
	e.cfg.Collector.IncTransferStarted()
	r.h = h

	r.logger.Info("transfer started", map[string]any{
		"local_path":  d.LocalPath,
		"object_size": d.ObjectSize,
		"part_size":   d.PartSize,
		"parts":       d.PartCount,
		"upload_id":   d.UploadID,
	})
	r.journal(ctx, journal.EventStarted, nil, 0)

	return r.execute(ctx), nil
}

// Resume continues the transfer recorded in stateFile from its first
// unfinished part.
func (e *Engine) Resume(ctx context.Context, drv Driver, stateFile string) (*Result, error) {
	if stateFile == "" {
		return nil, errors.New("state file is required")
	}
	res := &Result{Direction: drv.Direction(), StateFile: stateFile}
	r := e.newRun(drv, res)

	h, err := e.cfg.Store.Open(stateFile)
	if err != nil {
		return r.reject(Unrecoverable("load state file", 0, err)), nil
	}
	d := h.Descriptor()
	res.describe(&d)
	r.bind(&d)

	if d.Direction != drv.Direction() {
		return r.reject(Unrecoverable("load state file", 0,
			fmt.Errorf("%w: %s is a %s", ErrDirection, stateFile, d.Direction))), nil
	}
	if d.Unrecoverable() {
		return r.reject(Unrecoverable("load state file", d.Failure.Part,
			fmt.Errorf("%w: %s", ErrNotResumable, d.Failure.Message))), nil
	}
	r.h = h

	e.cfg.Collector.IncTransferResumed()
	r.logger.Info("resuming transfer", map[string]any{
		"next_part":       d.NextPart(),
		"parts":           d.PartCount,
		"bytes_completed": d.BytesCompleted(),
	})
	r.journal(ctx, journal.EventResumed, nil, 0)

	_, err = Attempt(ctx, r.policy("verify", 0), func(ctx context.Context, _ int) (struct{}, error) {
		return struct{}{}, drv.Verify(ctx, &d)
	})
	if err != nil {
		return r.fail(ctx, 0, err), nil
	}

	return r.execute(ctx), nil
}

// Abort cancels the transfer recorded in stateFile and deletes the file.
// Uploads abort the remote multipart upload first; if that fails the
// state file is kept so the abort can be repeated.
func (e *Engine) Abort(ctx context.Context, drv Driver, stateFile string) (*Result, error) {
	if stateFile == "" {
		return nil, errors.New("state file is required")
	}
	res := &Result{Direction: drv.Direction(), StateFile: stateFile, Aborting: true}
	r := e.newRun(drv, res)

	h, err := e.cfg.Store.Open(stateFile)
	if err != nil {
		return r.reject(Unrecoverable("load state file", 0, err)), nil
	}
	d := h.Descriptor()
	res.describe(&d)
	r.bind(&d)

	if d.Direction != drv.Direction() {
		return r.reject(Unrecoverable("load state file", 0,
			fmt.Errorf("%w: %s is a %s", ErrDirection, stateFile, d.Direction))), nil
	}

	cancelled := d.Failure != nil && d.Failure.RemoteCancelled
	if !cancelled {
		ok, err := Attempt(ctx, r.policy("abort", 0), func(ctx context.Context, _ int) (bool, error) {
			return drv.Cancel(ctx, &d)
		})
		if err != nil {
			r.logger.Error("abort failed; state file kept", map[string]any{"error": err.Error()})
			e.cfg.Collector.IncTransferRetryable()
			return r.finish(types.TransferOutcome{
				Status:  types.OutcomeRetryableFailure,
				Message: err.Error(),
			}), nil
		}
		cancelled = ok
	}

	if err := h.Release(); err != nil {
		e.cfg.Collector.IncTransferUnrecoverable()
		return r.finish(types.TransferOutcome{
			Status:          types.OutcomeUnrecoverableFailure,
			Message:         Unrecoverable("delete state file", 0, err).Error(),
			RemoteCancelled: cancelled,
		}), nil
	}

	msg := "transfer aborted"
	if d.Direction == types.DirectionDownload {
		msg = fmt.Sprintf("transfer aborted; partial output left at %s", d.LocalPath)
	}
	e.cfg.Collector.IncTransferAborted()
	r.logger.Info(msg, map[string]any{
		"parts_completed":  d.LastCompletedPart,
		"remote_cancelled": cancelled,
	})
	out := types.TransferOutcome{Status: types.OutcomeAborted, Message: msg, RemoteCancelled: cancelled}
	r.journal(ctx, journal.EventAborted, &out, 0)
	return r.finish(out), nil
}

// cancelRemote releases the remote side of a transfer on a context that
// survives cancellation of ctx. It reports whether the remote transfer
// was cancelled.
func (e *Engine) cancelRemote(ctx context.Context, drv Driver, d *state.Descriptor, logger *log.Logger) bool {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer cancel()

	ok, err := Attempt(cctx, e.cfg.Retry, func(ctx context.Context, _ int) (bool, error) {
		return drv.Cancel(ctx, d)
	})
	if err != nil {
		logger.Error("failed to cancel remote transfer", map[string]any{"error": err.Error()})
		return false
	}
	if ok {
		logger.Info("remote transfer cancelled", nil)
	}
	return ok
}

// run is the state of one command against one transfer.
type run struct {
	e       *Engine
	drv     Driver
	res     *Result
	logger  *log.Logger
	started time.Time

	// h is nil until the state file is created or opened for writing.
	h *state.Handle
	// d holds the descriptor fields that do not change while running.
	d state.Descriptor
}

func (e *Engine) newRun(drv Driver, res *Result) *run {
	return &run{
		e:       e,
		drv:     drv,
		res:     res,
		started: e.cfg.Now(),
		logger: e.cfg.Logger.WithTransfer(types.TransferMeta{
			Direction: res.Direction,
			Bucket:    res.Bucket,
			Key:       res.Key,
			StateFile: res.StateFile,
		}),
	}
}

// bind attaches the descriptor and rebinds the logger with its identity.
func (r *run) bind(d *state.Descriptor) {
	r.d = *d
	r.e.cfg.Collector.SetTransferID(d.TransferID)
	r.logger = r.e.cfg.Logger.WithTransfer(types.TransferMeta{
		TransferID: d.TransferID,
		Direction:  d.Direction,
		Bucket:     d.Bucket,
		Key:        d.Key,
		StateFile:  r.res.StateFile,
	})
}

func (r *run) policy(op string, part uint64) RetryPolicy {
	p := r.e.cfg.Retry
	base := p.OnRetry
	p.OnRetry = func(attempt int, err error) {
		if base != nil {
			base(attempt, err)
		}
		if part != 0 {
			r.e.cfg.Collector.IncPartRetry()
		}
		r.e.cfg.Collector.IncFailureKind(failureKind(err))
		if part != 0 {
			r.logger.Sugar().Warnf("part %d attempt %d/%d failed: %v", part, attempt, p.MaxAttempts, err)
			return
		}
		r.logger.Sugar().Warnf("%s attempt %d/%d failed: %v", op, attempt, p.MaxAttempts, err)
	}
	return p
}

// execute transfers the remaining parts in order and finalizes.
func (r *run) execute(ctx context.Context) *Result {
	p := r.d.Plan()
	cur := r.h.Descriptor()

	for n := cur.NextPart(); n <= p.PartCount; n++ {
		part := p.Part(n)

		receipt, err := Attempt(ctx, r.policy("part", n), func(ctx context.Context, attempt int) (*types.Receipt, error) {
			r.e.cfg.Collector.IncPartAttempt()
			r.logger.Debug("transferring part", map[string]any{
				"part":    n,
				"attempt": attempt,
				"offset":  part.Offset,
				"bytes":   part.Length,
			})
			return r.drv.TransferPart(ctx, &r.d, part)
		})
		if err != nil {
			return r.fail(ctx, n, err)
		}

		if err := r.h.Advance(n, receipt); err != nil {
			return r.fail(ctx, n, Unrecoverable("record part", n, err))
		}
		if err := r.persist(); err != nil {
			return r.fail(ctx, n, Unrecoverable("save state file", n, err))
		}

		r.e.cfg.Collector.AddPartSucceeded(int64(part.Length))
		r.res.PartsTransferred++
		r.res.BytesTransferred += int64(part.Length)
		r.res.PartsCompleted = n
		r.logger.Info("part transferred", map[string]any{
			"part":  n,
			"parts": p.PartCount,
			"bytes": part.Length,
		})
	}

	// Each part's byte count is checked by the driver as it moves. The
	// end of the local file is checked by probeEnd for uploads and by
	// Finalize for downloads.
	d := r.h.Descriptor()
	if !d.Done() {
		return r.fail(ctx, 0, Unrecoverable("verify transfer", 0,
			fmt.Errorf("%w: %d of %d parts recorded", ErrByteCountMismatch, d.LastCompletedPart, d.PartCount)))
	}

	etag, err := Attempt(ctx, r.policy("finalize", 0), func(ctx context.Context, _ int) (string, error) {
		return r.drv.Finalize(ctx, &d)
	})
	if err != nil {
		return r.fail(ctx, 0, err)
	}
	r.res.ETag = etag

	msg := "transfer completed"
	if err := r.h.Release(); err != nil {
		r.logger.Warn("failed to delete state file", map[string]any{"error": err.Error()})
		msg = fmt.Sprintf("transfer completed; state file %s could not be deleted: %v", r.res.StateFile, err)
	}

	r.e.cfg.Collector.IncTransferCompleted()
	r.logger.Info("transfer completed", map[string]any{
		"etag":              etag,
		"bytes_transferred": r.res.BytesTransferred,
	})
	out := types.TransferOutcome{Status: types.OutcomeSuccess, Message: msg}
	r.journal(ctx, journal.EventCompleted, &out, 0)
	return r.finish(out)
}

// fail records a failure of the running transfer. Retryable failures keep
// the progress made so far for a resume. Unrecoverable failures also
// cancel the remote transfer; the state file stays for diagnosis.
func (r *run) fail(ctx context.Context, part uint64, err error) *Result {
	if part == 0 {
		part = partOf(err)
	}
	if part != 0 {
		r.e.cfg.Collector.IncPartFailed()
	}
	r.e.cfg.Collector.IncFailureKind(failureKind(err))

	kind := state.FailureUnrecoverable
	if IsRetryable(err) {
		kind = state.FailureRetryable
	}
	r.h.RecordFailure(state.Failure{Part: part, Kind: kind, Message: err.Error()})
	if perr := r.persist(); perr != nil {
		r.logger.Error("failed to save state file after failure", map[string]any{"error": perr.Error()})
	}

	out := types.TransferOutcome{Message: err.Error(), FailedPart: int32(part)}
	fields := map[string]any{"part": part, "error": err.Error()}

	if part != 0 {
		r.journal(ctx, journal.EventPartFailed, nil, part)
	}

	if kind == state.FailureRetryable {
		out.Status = types.OutcomeRetryableFailure
		r.e.cfg.Collector.IncTransferRetryable()
		fields["interrupted"] = ctx.Err() != nil
		r.logger.Warn("transfer stopped; resume to continue", fields)
		r.journal(ctx, journal.EventFailed, &out, part)
		return r.finish(out)
	}

	out.Status = types.OutcomeUnrecoverableFailure
	r.logger.Error("transfer failed unrecoverably", fields)
	if r.e.cancelRemote(ctx, r.drv, &r.d, r.logger) {
		out.RemoteCancelled = true
		r.h.MarkRemoteCancelled()
		if perr := r.persist(); perr != nil {
			r.logger.Error("failed to save state file after cancel", map[string]any{"error": perr.Error()})
		}
	}
	r.e.cfg.Collector.IncTransferUnrecoverable()
	r.journal(ctx, journal.EventFailed, &out, part)
	return r.finish(out)
}

// reject ends a command that never got to run the transfer. No state file
// is written. Retryable causes are reported as retryable only when a state
// file exists to resume from.
func (r *run) reject(err error) *Result {
	out := types.TransferOutcome{
		Status:     types.OutcomeUnrecoverableFailure,
		Message:    err.Error(),
		FailedPart: int32(partOf(err)),
	}
	if IsRetryable(err) && r.res.TransferID != "" {
		out.Status = types.OutcomeRetryableFailure
		r.e.cfg.Collector.IncTransferRetryable()
	} else {
		r.e.cfg.Collector.IncTransferUnrecoverable()
	}
	r.logger.Error("transfer not started", map[string]any{"error": err.Error()})
	return r.finish(out)
}

func (r *run) persist() error {
	if err := r.h.Persist(); err != nil {
		r.e.cfg.Collector.IncStateSaveFailure()
		return err
	}
	r.e.cfg.Collector.IncStateSave()
	return nil
}

func (r *run) finish(out types.TransferOutcome) *Result {
	r.res.Outcome = out
	r.res.Duration = r.e.cfg.Now().Sub(r.started)
	snap := r.e.cfg.Collector.Snapshot()
	r.logger.Info("command finished", map[string]any{
		"outcome":     string(out.Status),
		"duration_ms": r.res.Duration.Milliseconds(),
		"metrics":     snap.Fields(),
	})
	return r.res
}

// journal appends a lifecycle record. Failures are logged only.
func (r *run) journal(ctx context.Context, ev journal.Event, out *types.TransferOutcome, part uint64) {
	d := r.d
	if r.h != nil {
		d = r.h.Descriptor()
	}
	rec := &journal.Record{
		Event:          ev,
		TransferID:     d.TransferID,
		Direction:      r.res.Direction,
		Bucket:         r.res.Bucket,
		Key:            r.res.Key,
		LocalPath:      r.res.LocalPath,
		StateFile:      r.res.StateFile,
		ObjectSize:     d.ObjectSize,
		PartSize:       d.PartSize,
		PartCount:      d.PartCount,
		PartsCompleted: d.LastCompletedPart,
		BytesCompleted: d.BytesCompleted(),
		Part:           part,
		ETag:           r.res.ETag,
		Ts:             r.e.cfg.Now(),
	}
	if out != nil {
		rec.Outcome = out.Status
		rec.Message = out.Message
		snap := r.e.cfg.Collector.Snapshot()
		rec.Metrics = &snap
	}

	// Journal writes must not be cut short by an interrupted transfer.
	if err := r.e.cfg.Journal.Append(context.WithoutCancel(ctx), rec); err != nil {
		r.e.cfg.Collector.IncJournalWriteFailure()
		r.logger.Warn("journal write failed", map[string]any{
			"event": string(ev),
			"error": err.Error(),
		})
		return
	}
	r.e.cfg.Collector.IncJournalWriteSuccess()
}

// failureKind labels err for the failures_by_kind metric.
func failureKind(err error) string {
	var se *storage.Error
	if errors.As(err, &se) && se.Kind != nil {
		return se.Kind.Error()
	}
	if IsRetryable(err) {
		return "retryable"
	}
	return "unrecoverable"
}

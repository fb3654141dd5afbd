package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/pithecene-io/persevere/iox"
	"github.com/pithecene-io/persevere/types"
)

const fileMode os.FileMode = 0o644

// Store reads and writes state files on a billy filesystem.
//
// Save truncates and rewrites the whole file. A crash during a save can
// lose that save; the previous save is then the one a resume sees, which is
// why progress is saved after every part rather than before.
type Store struct {
	fs  billy.Filesystem
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore returns a store backed by fs.
func NewStore(fs billy.Filesystem, opts ...Option) *Store {
	s := &Store{fs: fs, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Exists reports whether a state file exists at path.
func (s *Store) Exists(path string) (bool, error) {
	_, err := s.fs.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat state file %s: %w", path, err)
}

// Load reads and validates the state file at path.
// It returns ErrNotFound or a *CorruptError on failure.
func (s *Store) Load(path string) (*Descriptor, error) {
	data, err := util.ReadFile(s.fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("read state file %s: %w", path, err)
	}

	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, &CorruptError{Path: path, Err: err}
	}
	if err := d.Validate(); err != nil {
		return nil, &CorruptError{Path: path, Err: err}
	}
	return &d, nil
}

// Save overwrites the state file at path with d.
func (s *Store) Save(path string, d *Descriptor) error {
	return s.write(path, d, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
}

// Delete removes the state file. A missing file is not an error.
func (s *Store) Delete(path string) error {
	err := s.fs.Remove(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("remove state file %s: %w", path, err)
}

// Create writes a new state file for d and returns the handle that owns
// it. It fails with ErrExists if a file is already present at path.
func (s *Store) Create(path string, d Descriptor) (*Handle, error) {
	now := s.now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	if err := s.write(path, &d, os.O_WRONLY|os.O_CREATE|os.O_EXCL); err != nil {
		return nil, err
	}
	return &Handle{store: s, path: path, d: d}, nil
}

// Open loads the state file at path and returns the handle that owns it.
func (s *Store) Open(path string) (*Handle, error) {
	d, err := s.Load(path)
	if err != nil {
		return nil, err
	}
	return &Handle{store: s, path: path, d: *d}, nil
}

func (s *Store) write(path string, d *Descriptor, flag int) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	f, err := s.fs.OpenFile(path, flag, fileMode)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
		return fmt.Errorf("open state file %s: %w", path, err)
	}
	defer iox.DiscardClose(f)

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write state file %s: %w", path, err)
	}
	if syncer, ok := f.(interface{ Sync() error }); ok {
		if err := syncer.Sync(); err != nil {
			return fmt.Errorf("sync state file %s: %w", path, err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close state file %s: %w", path, err)
	}
	return nil
}

// Handle is the single writer of one state file. Only the orchestrator
// running the transfer holds it; everything else reads descriptors through
// Store.Load.
type Handle struct {
	store    *Store
	path     string
	d        Descriptor
	released bool
}

// Path returns the state file path.
func (h *Handle) Path() string { return h.path }

// Descriptor returns a copy of the current descriptor.
func (h *Handle) Descriptor() Descriptor { return h.d.clone() }

// Advance records part as completed and stamps the update time. For
// uploads r is the part's receipt and is required; for downloads it must
// be nil. Parts must be advanced strictly in order. Advance does not write
// the file; call Persist.
func (h *Handle) Advance(part uint64, r *types.Receipt) error {
	if h.released {
		return ErrReleased
	}
	if want := h.d.LastCompletedPart + 1; part != want {
		return fmt.Errorf("advance to part %d: next part is %d", part, want)
	}
	if part > h.d.PartCount {
		return fmt.Errorf("advance to part %d: only %d parts", part, h.d.PartCount)
	}

	switch h.d.Direction {
	case types.DirectionUpload:
		if r == nil {
			return fmt.Errorf("advance to part %d: missing receipt", part)
		}
		if uint64(r.PartNumber) != part {
			return fmt.Errorf("advance to part %d: receipt is for part %d", part, r.PartNumber)
		}
		h.d.CompletedParts = append(h.d.CompletedParts, *r)
	default:
		if r != nil {
			return fmt.Errorf("advance to part %d: unexpected receipt for %s", part, h.d.Direction)
		}
	}

	h.d.LastCompletedPart = part
	h.d.Failure = nil
	h.d.UpdatedAt = h.store.now().UTC()
	return nil
}

// RecordFailure attaches a failure record to the descriptor.
func (h *Handle) RecordFailure(f Failure) {
	if f.At.IsZero() {
		f.At = h.store.now().UTC()
	}
	h.d.Failure = &f
	h.d.UpdatedAt = f.At
}

// MarkRemoteCancelled notes on the recorded failure that the remote upload
// was aborted.
func (h *Handle) MarkRemoteCancelled() {
	if h.d.Failure != nil {
		h.d.Failure.RemoteCancelled = true
	}
}

// Persist writes the current descriptor to the state file.
func (h *Handle) Persist() error {
	if h.released {
		return ErrReleased
	}
	return h.store.Save(h.path, &h.d)
}

// Release deletes the state file. The handle cannot be used afterwards.
func (h *Handle) Release() error {
	if err := h.store.Delete(h.path); err != nil {
		return err
	}
	h.released = true
	return nil
}

package iox

import (
	"errors"
	"fmt"
	"io"
)

// ErrPartOverflow is returned by PartWriter when more bytes arrive than the
// part holds.
var ErrPartOverflow = errors.New("part overflow: received more bytes than expected")

// PartReader exposes exactly n bytes of an underlying stream, starting at
// the position the stream had when the PartReader was created. Seek offsets
// are relative to the start of the part, so a client can rewind the body
// to retry or checksum it.
type PartReader struct {
	rs   io.ReadSeeker
	base int64
	n    int64
	pos  int64
	err  error
}

// NewPartReader seeks rs to offset and returns a reader over the next n bytes.
func NewPartReader(rs io.ReadSeeker, offset, n int64) (*PartReader, error) {
	if offset < 0 || n < 0 {
		return nil, fmt.Errorf("invalid part region offset=%d length=%d", offset, n)
	}
	if _, err := rs.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek to %d: %w", offset, err)
	}
	return &PartReader{rs: rs, base: offset, n: n}, nil
}

// Read implements io.Reader. It returns io.EOF once n bytes were read.
func (r *PartReader) Read(p []byte) (int, error) {
	if r.pos >= r.n {
		return 0, io.EOF
	}
	if rem := r.n - r.pos; int64(len(p)) > rem {
		p = p[:rem]
	}
	read, err := r.rs.Read(p)
	r.pos += int64(read)
	if errors.Is(err, io.EOF) {
		if r.pos < r.n {
			r.err = io.ErrUnexpectedEOF
			return read, r.err
		}
		return read, err
	}
	if err != nil {
		r.err = err
	}
	return read, err
}

// Err returns the last error of the underlying stream, if any. A source
// that ends before n bytes reports io.ErrUnexpectedEOF. Consumers of the
// reader may swallow or rewrap read errors; Err keeps the original.
func (r *PartReader) Err() error { return r.err }

// Seek implements io.Seeker relative to the part.
func (r *PartReader) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = r.pos + offset
	case io.SeekEnd:
		abs = r.n + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, errors.New("negative position")
	}
	if abs > r.n {
		abs = r.n
	}
	if _, err := r.rs.Seek(r.base+abs, io.SeekStart); err != nil {
		return 0, err
	}
	r.pos = abs
	return abs, nil
}

// Len returns the size of the part.
func (r *PartReader) Len() int64 { return r.n }

// PartWriter forwards writes to w, counts them, and refuses to write more
// than n bytes. Write errors of the underlying writer are kept in WriteErr
// so callers can tell local failures apart from failures of the source
// stream after an io.Copy.
type PartWriter struct {
	w        io.Writer
	n        int64
	Written  int64
	WriteErr error
}

// NewPartWriter returns a writer that accepts at most n bytes.
func NewPartWriter(w io.Writer, n int64) *PartWriter {
	return &PartWriter{w: w, n: n}
}

// Write implements io.Writer.
func (w *PartWriter) Write(p []byte) (int, error) {
	if w.Written+int64(len(p)) > w.n {
		return 0, ErrPartOverflow
	}
	n, err := w.w.Write(p)
	w.Written += int64(n)
	if err != nil {
		w.WriteErr = err
	}
	return n, err
}

// Complete reports whether exactly n bytes were written.
func (w *PartWriter) Complete() bool { return w.Written == w.n }

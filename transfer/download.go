package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-git/go-billy/v5"

	"github.com/pithecene-io/persevere/iox"
	"github.com/pithecene-io/persevere/plan"
	"github.com/pithecene-io/persevere/state"
	"github.com/pithecene-io/persevere/storage"
	"github.com/pithecene-io/persevere/types"
)

const outputMode os.FileMode = 0o644

// ErrShortRead is returned when a range response ends before the part does.
var ErrShortRead = errors.New("range response shorter than part")

// Downloader moves a remote object into a local file by ranged reads.
type Downloader struct {
	fs     billy.Filesystem
	remote storage.ObjectStore
	// defaultPartSize is tried when the request has no override.
	defaultPartSize uint64
}

// NewDownloader returns a download driver writing to fs.
func NewDownloader(fs billy.Filesystem, remote storage.ObjectStore) *Downloader {
	return &Downloader{fs: fs, remote: remote, defaultPartSize: plan.DefaultDownloadPartSize}
}

// Direction implements Driver.
func (dl *Downloader) Direction() types.Direction { return types.DirectionDownload }

// Begin implements Driver. The output must not exist; it is created and
// sized to the object before any part is fetched.
func (dl *Downloader) Begin(ctx context.Context, req Request) (state.Descriptor, error) {
	if _, err := dl.fs.Stat(req.LocalPath); err == nil {
		return state.Descriptor{}, Unrecoverable("check output", 0, fmt.Errorf("%w: %s", ErrOutputExists, req.LocalPath))
	} else if !errors.Is(err, os.ErrNotExist) {
		return state.Descriptor{}, Unrecoverable("check output", 0, err)
	}

	size, err := dl.remote.ObjectSize(ctx, req.Bucket, req.Key)
	if err != nil {
		return state.Descriptor{}, Retryable("head object", 0, err)
	}

	p, err := dl.plan(size, req.PartSize)
	if err != nil {
		return state.Descriptor{}, Unrecoverable("plan download", 0, err)
	}

	if err := dl.preallocate(req.LocalPath, size); err != nil {
		return state.Descriptor{}, err
	}

	return state.Descriptor{
		Direction:  types.DirectionDownload,
		Bucket:     req.Bucket,
		Key:        req.Key,
		LocalPath:  req.LocalPath,
		ObjectSize: p.ObjectSize,
		PartSize:   p.PartSize,
		PartCount:  p.PartCount,
	}, nil
}

// plan uses the override if set, else the default part size when it fits
// the object, else the computed minimum.
func (dl *Downloader) plan(size, override uint64) (plan.Plan, error) {
	limits := plan.DownloadLimits()
	if override != 0 {
		return plan.Compute(size, override, limits)
	}
	if dl.defaultPartSize != 0 {
		if p, err := plan.Compute(size, dl.defaultPartSize, limits); err == nil {
			return p, nil
		}
	}
	return plan.Compute(size, 0, limits)
}

func (dl *Downloader) preallocate(path string, size uint64) error {
	f, err := dl.fs.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, outputMode)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			err = fmt.Errorf("%w: %s", ErrOutputExists, path)
		}
		return Unrecoverable("create output", 0, err)
	}
	defer iox.DiscardClose(f)

	if err := f.Truncate(int64(size)); err != nil {
		return Unrecoverable("preallocate output", 0, err)
	}
	if err := f.Close(); err != nil {
		return Unrecoverable("close output", 0, err)
	}
	return nil
}

// Verify implements Driver. The output must still be preallocated and the
// remote object must still have the recorded size.
func (dl *Downloader) Verify(ctx context.Context, d *state.Descriptor) error {
	info, err := dl.fs.Stat(d.LocalPath)
	if err != nil {
		return Unrecoverable("stat output", 0, err)
	}
	if uint64(info.Size()) != d.ObjectSize {
		return Unrecoverable("verify output", 0, sizeChanged(d.ObjectSize, uint64(info.Size())))
	}

	size, err := dl.remote.ObjectSize(ctx, d.Bucket, d.Key)
	if err != nil {
		return Retryable("head object", 0, err)
	}
	if size != d.ObjectSize {
		return Unrecoverable("verify object", 0, sizeChanged(d.ObjectSize, size))
	}
	return nil
}

// TransferPart implements Driver.
func (dl *Downloader) TransferPart(ctx context.Context, d *state.Descriptor, part plan.Part) (*types.Receipt, error) {
	f, err := dl.fs.OpenFile(d.LocalPath, os.O_WRONLY, outputMode)
	if err != nil {
		return nil, Unrecoverable("open output", part.Number, err)
	}
	defer iox.DiscardClose(f)

	if _, err := f.Seek(int64(part.Offset), io.SeekStart); err != nil {
		return nil, Unrecoverable("seek output", part.Number, err)
	}

	start, end := d.Plan().Bounds(part)
	body, err := dl.remote.GetRange(ctx, d.Bucket, d.Key, start, end)
	if err != nil {
		return nil, Retryable("get range", part.Number, err)
	}
	defer iox.DiscardClose(body)

	w := iox.NewPartWriter(f, int64(part.Length))
	_, err = io.Copy(w, body)
	switch {
	case w.WriteErr != nil:
		return nil, Unrecoverable("write output", part.Number, w.WriteErr)
	case err != nil:
		return nil, Retryable("read range", part.Number, err)
	case !w.Complete():
		return nil, Retryable("read range", part.Number,
			fmt.Errorf("%w: got %d of %d bytes", ErrShortRead, w.Written, part.Length))
	}

	if syncer, ok := f.(interface{ Sync() error }); ok {
		if err := syncer.Sync(); err != nil {
			return nil, Unrecoverable("sync output", part.Number, err)
		}
	}
	if err := f.Close(); err != nil {
		return nil, Unrecoverable("close output", part.Number, err)
	}
	return nil, nil
}

// Finalize implements Driver. It checks the output size; there is nothing
// to complete remotely.
func (dl *Downloader) Finalize(_ context.Context, d *state.Descriptor) (string, error) {
	info, err := dl.fs.Stat(d.LocalPath)
	if err != nil {
		return "", Unrecoverable("stat output", 0, err)
	}
	if uint64(info.Size()) != d.ObjectSize {
		return "", Unrecoverable("verify output", 0,
			fmt.Errorf("%w: output has %d bytes, object has %d", ErrByteCountMismatch, info.Size(), d.ObjectSize))
	}
	return "", nil
}

// Cancel implements Driver. Downloads hold no remote resources; the
// partial output is left in place.
func (dl *Downloader) Cancel(context.Context, *state.Descriptor) (bool, error) {
	return false, nil
}

// Discard implements Driver by removing the preallocated output.
func (dl *Downloader) Discard(d *state.Descriptor) error {
	if err := dl.fs.Remove(d.LocalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

var _ Driver = (*Downloader)(nil)

package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-git/go-billy/v5"

	"github.com/pithecene-io/persevere/iox"
	"github.com/pithecene-io/persevere/plan"
	"github.com/pithecene-io/persevere/state"
	"github.com/pithecene-io/persevere/storage"
	"github.com/pithecene-io/persevere/types"
)

// sniffLen is the number of leading bytes used for content detection.
const sniffLen = 512

// Uploader moves a local file into a remote object by multipart upload.
type Uploader struct {
	fs     billy.Filesystem
	remote storage.ObjectStore
}

// NewUploader returns an upload driver reading from fs.
func NewUploader(fs billy.Filesystem, remote storage.ObjectStore) *Uploader {
	return &Uploader{fs: fs, remote: remote}
}

// Direction implements Driver.
func (u *Uploader) Direction() types.Direction { return types.DirectionUpload }

// Begin implements Driver.
func (u *Uploader) Begin(ctx context.Context, req Request) (state.Descriptor, error) {
	info, err := u.fs.Stat(req.LocalPath)
	if err != nil {
		return state.Descriptor{}, Unrecoverable("stat source", 0, err)
	}
	if info.IsDir() {
		return state.Descriptor{}, Unrecoverable("stat source", 0, fmt.Errorf("%s is a directory", req.LocalPath))
	}

	p, err := plan.Compute(uint64(info.Size()), req.PartSize, plan.UploadLimits())
	if err != nil {
		return state.Descriptor{}, Unrecoverable("plan upload", 0, err)
	}

	contentType, err := u.detect(req.LocalPath)
	if err != nil {
		return state.Descriptor{}, err
	}

	uploadID, err := u.remote.CreateMultipartUpload(ctx, req.Bucket, req.Key, storage.CreateOptions{
		ContentType: contentType,
	})
	if err != nil {
		return state.Descriptor{}, Retryable("create upload", 0, err)
	}

	modTime := info.ModTime().UTC()
	return state.Descriptor{
		Direction:     types.DirectionUpload,
		Bucket:        req.Bucket,
		Key:           req.Key,
		LocalPath:     req.LocalPath,
		ObjectSize:    p.ObjectSize,
		PartSize:      p.PartSize,
		PartCount:     p.PartCount,
		UploadID:      uploadID,
		ContentType:   contentType,
		SourceModTime: &modTime,
	}, nil
}

func (u *Uploader) detect(path string) (string, error) {
	f, err := u.fs.Open(path)
	if err != nil {
		return "", Unrecoverable("open source", 0, err)
	}
	defer iox.DiscardClose(f)

	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", Unrecoverable("read source", 0, err)
	}
	return mimetype.Detect(buf[:n]).String(), nil
}

// Verify implements Driver. The source must still have the planned size.
func (u *Uploader) Verify(_ context.Context, d *state.Descriptor) error {
	info, err := u.fs.Stat(d.LocalPath)
	if err != nil {
		return Unrecoverable("stat source", 0, err)
	}
	if uint64(info.Size()) != d.ObjectSize {
		return Unrecoverable("verify source", 0, sizeChanged(d.ObjectSize, uint64(info.Size())))
	}
	return nil
}

// TransferPart implements Driver.
func (u *Uploader) TransferPart(ctx context.Context, d *state.Descriptor, part plan.Part) (*types.Receipt, error) {
	if part.Number < plan.MinPartNumber || part.Number > plan.MaxPartNumber {
		return nil, Unrecoverable("upload part", part.Number, fmt.Errorf("%w: %d", ErrPartNumber, part.Number))
	}

	f, err := u.fs.Open(d.LocalPath)
	if err != nil {
		return nil, Unrecoverable("open source", part.Number, err)
	}
	defer iox.DiscardClose(f)

	if part.Number == d.PartCount {
		if err := probeEnd(f, d.ObjectSize); err != nil {
			return nil, Unrecoverable("read source", part.Number, err)
		}
	}

	body, err := iox.NewPartReader(f, int64(part.Offset), int64(part.Length))
	if err != nil {
		return nil, Unrecoverable("seek source", part.Number, err)
	}

	receipt, err := u.remote.UploadPart(ctx, d.Bucket, d.Key, d.UploadID, int32(part.Number), body, int64(part.Length))
	if rerr := body.Err(); rerr != nil {
		return nil, Unrecoverable("read source", part.Number, rerr)
	}
	if err != nil {
		return nil, Retryable("upload part", part.Number, err)
	}
	if receipt.PartNumber == 0 {
		receipt.PartNumber = int32(part.Number)
	}
	return &receipt, nil
}

// probeEnd fails if the file holds data past size.
func probeEnd(f io.ReaderAt, size uint64) error {
	var b [1]byte
	n, err := f.ReadAt(b[:], int64(size))
	if n > 0 {
		return fmt.Errorf("%w: data past byte %d", ErrSizeChanged, size)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Finalize implements Driver.
func (u *Uploader) Finalize(ctx context.Context, d *state.Descriptor) (string, error) {
	etag, err := u.remote.CompleteMultipartUpload(ctx, d.Bucket, d.Key, d.UploadID, d.CompletedParts)
	if err != nil {
		return "", Retryable("complete upload", 0, err)
	}
	return etag, nil
}

// Cancel implements Driver by aborting the multipart upload.
func (u *Uploader) Cancel(ctx context.Context, d *state.Descriptor) (bool, error) {
	if err := u.remote.AbortMultipartUpload(ctx, d.Bucket, d.Key, d.UploadID); err != nil {
		return false, Retryable("abort upload", 0, err)
	}
	return true, nil
}

// Discard implements Driver. Uploads create nothing locally.
func (u *Uploader) Discard(*state.Descriptor) error { return nil }

var _ Driver = (*Uploader)(nil)

package state

import (
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pithecene-io/persevere/plan"
	"github.com/pithecene-io/persevere/types"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore() *Store {
	return NewStore(memfs.New(), WithClock(func() time.Time { return fixedNow }))
}

func uploadDescriptor() Descriptor {
	return Descriptor{
		Version:    types.StateVersion,
		TransferID: "7d1c7a4e-5f0e-4b84-a1a4-0c7a2b1d9e11",
		Direction:  types.DirectionUpload,
		Bucket:     "bucket",
		Key:        "backups/db.tar",
		LocalPath:  "/data/db.tar",
		ObjectSize: 12 * plan.MiB,
		PartSize:   5 * plan.MiB,
		PartCount:  3,
		UploadID:   "upload-1",
	}
}

func downloadDescriptor() Descriptor {
	d := uploadDescriptor()
	d.Direction = types.DirectionDownload
	d.UploadID = ""
	return d
}

func receipt(n int32) *types.Receipt {
	return &types.Receipt{PartNumber: n, ETag: "\"etag\""}
}

func TestStore_CreateAndLoad(t *testing.T) {
	s := newTestStore()

	h, err := s.Create("/state.json", uploadDescriptor())
	require.NoError(t, err)
	assert.Equal(t, "/state.json", h.Path())

	d, err := s.Load("/state.json")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), d.LastCompletedPart)
	assert.Equal(t, "upload-1", d.UploadID)
	assert.Equal(t, fixedNow, d.CreatedAt)
	assert.Equal(t, fixedNow, d.UpdatedAt)
}

func TestStore_CreateRefusesExistingFile(t *testing.T) {
	s := newTestStore()

	_, err := s.Create("/state.json", uploadDescriptor())
	require.NoError(t, err)

	_, err = s.Create("/state.json", downloadDescriptor())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExists)

	// The first transfer's state is untouched.
	d, err := s.Load("/state.json")
	require.NoError(t, err)
	assert.Equal(t, types.DirectionUpload, d.Direction)
}

func TestStore_LoadNotFound(t *testing.T) {
	_, err := newTestStore().Load("/missing.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_LoadCorrupt(t *testing.T) {
	tests := []struct {
		name    string
		content string
		mutate  func(d *Descriptor)
	}{
		{name: "not json", content: "{not json"},
		{name: "part count mismatch", mutate: func(d *Descriptor) { d.PartCount = 4 }},
		{name: "zero part size", mutate: func(d *Descriptor) { d.PartSize = 0 }},
		{name: "progress beyond parts", mutate: func(d *Descriptor) {
			d.LastCompletedPart = 4
			d.CompletedParts = []types.Receipt{*receipt(1), *receipt(2), *receipt(3), *receipt(4)}
		}},
		{name: "missing upload id", mutate: func(d *Descriptor) { d.UploadID = "" }},
		{name: "receipts out of order", mutate: func(d *Descriptor) {
			d.LastCompletedPart = 2
			d.CompletedParts = []types.Receipt{*receipt(2), *receipt(1)}
		}},
		{name: "receipt count mismatch", mutate: func(d *Descriptor) {
			d.LastCompletedPart = 2
			d.CompletedParts = []types.Receipt{*receipt(1)}
		}},
		{name: "unknown direction", mutate: func(d *Descriptor) { d.Direction = "sideways" }},
		{name: "future version", mutate: func(d *Descriptor) { d.Version = types.StateVersion + 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := memfs.New()
			s := NewStore(fs)
			if tt.mutate != nil {
				d := uploadDescriptor()
				tt.mutate(&d)
				require.NoError(t, s.Save("/state.json", &d))
			} else {
				require.NoError(t, util.WriteFile(fs, "/state.json", []byte(tt.content), 0o644))
			}

			_, err := s.Load("/state.json")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrCorrupt)
			var ce *CorruptError
			assert.ErrorAs(t, err, &ce)
			assert.Equal(t, "/state.json", ce.Path)
		})
	}
}

func TestStore_SaveOverwritesShorterContent(t *testing.T) {
	s := newTestStore()

	d := uploadDescriptor()
	d.LastCompletedPart = 2
	d.CompletedParts = []types.Receipt{*receipt(1), *receipt(2)}
	d.Failure = &Failure{Part: 3, Kind: FailureRetryable, Message: "a long message that makes the file bigger"}
	require.NoError(t, s.Save("/state.json", &d))

	short := uploadDescriptor()
	require.NoError(t, s.Save("/state.json", &short))

	got, err := s.Load("/state.json")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), got.LastCompletedPart)
	assert.Empty(t, got.CompletedParts)
	assert.Nil(t, got.Failure)
}

func TestStore_DeleteToleratesMissingFile(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.Delete("/missing.json"))

	_, err := s.Create("/state.json", downloadDescriptor())
	require.NoError(t, err)
	require.NoError(t, s.Delete("/state.json"))

	exists, err := s.Exists("/state.json")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestHandle_AdvanceAndPersist(t *testing.T) {
	s := newTestStore()
	h, err := s.Create("/state.json", uploadDescriptor())
	require.NoError(t, err)

	require.NoError(t, h.Advance(1, receipt(1)))
	require.NoError(t, h.Persist())

	d, err := s.Load("/state.json")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), d.LastCompletedPart)
	assert.Equal(t, []types.Receipt{*receipt(1)}, d.CompletedParts)
	assert.Equal(t, 5*plan.MiB, d.BytesCompleted())
	assert.Equal(t, uint64(2), d.NextPart())
}

func TestHandle_AdvanceRejectsOutOfOrder(t *testing.T) {
	s := newTestStore()
	h, err := s.Create("/state.json", uploadDescriptor())
	require.NoError(t, err)

	assert.Error(t, h.Advance(2, receipt(2)), "skipping a part")
	assert.Error(t, h.Advance(1, nil), "upload without receipt")
	assert.Error(t, h.Advance(1, receipt(3)), "receipt for another part")

	require.NoError(t, h.Advance(1, receipt(1)))
	assert.Error(t, h.Advance(1, receipt(1)), "repeating a part")

	d := h.Descriptor()
	assert.Equal(t, uint64(1), d.LastCompletedPart)
	assert.Len(t, d.CompletedParts, 1)
}

func TestHandle_DownloadAdvance(t *testing.T) {
	s := newTestStore()
	h, err := s.Create("/state.json", downloadDescriptor())
	require.NoError(t, err)

	assert.Error(t, h.Advance(1, receipt(1)), "downloads carry no receipts")
	for n := uint64(1); n <= 3; n++ {
		require.NoError(t, h.Advance(n, nil))
	}
	assert.Error(t, h.Advance(4, nil))

	d := h.Descriptor()
	assert.True(t, d.Done())
	assert.Equal(t, 12*plan.MiB, d.BytesCompleted())
}

func TestHandle_DescriptorIsACopy(t *testing.T) {
	s := newTestStore()
	h, err := s.Create("/state.json", uploadDescriptor())
	require.NoError(t, err)
	require.NoError(t, h.Advance(1, receipt(1)))

	d := h.Descriptor()
	d.CompletedParts[0].ETag = "mutated"
	d.LastCompletedPart = 3

	again := h.Descriptor()
	assert.Equal(t, "\"etag\"", again.CompletedParts[0].ETag)
	assert.Equal(t, uint64(1), again.LastCompletedPart)
}

func TestHandle_FailureRecord(t *testing.T) {
	s := newTestStore()
	h, err := s.Create("/state.json", uploadDescriptor())
	require.NoError(t, err)

	h.RecordFailure(Failure{Part: 1, Kind: FailureUnrecoverable, Message: "open source: permission denied"})
	h.MarkRemoteCancelled()
	require.NoError(t, h.Persist())

	d, err := s.Load("/state.json")
	require.NoError(t, err)
	require.NotNil(t, d.Failure)
	assert.True(t, d.Unrecoverable())
	assert.True(t, d.Failure.RemoteCancelled)
	assert.Equal(t, fixedNow, d.Failure.At)

	// Progress clears a stale failure.
	require.NoError(t, h.Advance(1, receipt(1)))
	assert.Nil(t, h.Descriptor().Failure)
}

func TestHandle_Release(t *testing.T) {
	s := newTestStore()
	h, err := s.Create("/state.json", downloadDescriptor())
	require.NoError(t, err)

	require.NoError(t, h.Release())
	assert.ErrorIs(t, h.Persist(), ErrReleased)
	assert.ErrorIs(t, h.Advance(1, nil), ErrReleased)

	_, err = s.Load("/state.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Open(t *testing.T) {
	s := newTestStore()
	h, err := s.Create("/state.json", uploadDescriptor())
	require.NoError(t, err)
	require.NoError(t, h.Advance(1, receipt(1)))
	require.NoError(t, h.Persist())

	reopened, err := s.Open("/state.json")
	require.NoError(t, err)
	require.NoError(t, reopened.Advance(2, receipt(2)))

	_, err = s.Open("/missing.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

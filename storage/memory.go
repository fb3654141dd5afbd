package storage

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // ETags are MD5 by definition
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/pithecene-io/persevere/types"
)

// Operation names recorded by MemoryStore and matched by Fault.
const (
	OpCreate   = "CreateMultipartUpload"
	OpUpload   = "UploadPart"
	OpComplete = "CompleteMultipartUpload"
	OpAbort    = "AbortMultipartUpload"
	OpSize     = "ObjectSize"
	OpGetRange = "GetRange"
)

// Call records one request made to a MemoryStore.
type Call struct {
	Op         string
	Bucket     string
	Key        string
	UploadID   string
	PartNumber int32
	Start, End uint64
}

// Fault makes matching MemoryStore calls fail.
type Fault struct {
	// Op is the operation to fail.
	Op string
	// PartNumber restricts UploadPart faults to one part. Zero matches all.
	PartNumber int32
	// Start restricts GetRange faults to the range starting at this
	// offset. Nil matches all.
	Start *uint64
	// Times is how many calls fail before the fault clears. Zero fails
	// every call.
	Times int
	// Err is returned by failing calls.
	Err error
	// Truncate makes GetRange return a body that ends early with Err
	// instead of failing the call.
	Truncate bool
}

type memUpload struct {
	bucket, key string
	contentType string
	parts       map[int32][]byte
}

// MemoryStore is an in-memory ObjectStore with S3 multipart semantics and
// fault injection. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	uploads map[string]*memUpload
	faults  []*Fault
	calls   []Call
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
		uploads: make(map[string]*memUpload),
	}
}

func objectKey(bucket, key string) string { return bucket + "/" + key }

// PutObject stores an object directly.
func (m *MemoryStore) PutObject(bucket, key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectKey(bucket, key)] = append([]byte(nil), data...)
}

// Object returns a copy of a stored object.
func (m *MemoryStore) Object(bucket, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[objectKey(bucket, key)]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// ContentType returns the content type an object was uploaded with.
func (m *MemoryStore) ContentType(bucket, key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.types[objectKey(bucket, key)]
}

// OpenUploads returns the number of multipart uploads neither completed
// nor aborted.
func (m *MemoryStore) OpenUploads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.uploads)
}

// Calls returns every request made so far.
func (m *MemoryStore) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallsFor returns the requests made for one operation.
func (m *MemoryStore) CallsFor(op string) []Call {
	var out []Call
	for _, c := range m.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Inject adds a fault.
func (m *MemoryStore) Inject(f Fault) {
	if f.Err == nil {
		f.Err = fmt.Errorf("injected %s failure", f.Op)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = append(m.faults, &f)
}

// ClearFaults removes every fault.
func (m *MemoryStore) ClearFaults() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = nil
}

// record logs c and returns the first fault matching it. Caller holds mu.
func (m *MemoryStore) record(c Call) *Fault {
	m.calls = append(m.calls, c)
	for i, f := range m.faults {
		if f.Op != c.Op {
			continue
		}
		if f.PartNumber != 0 && f.PartNumber != c.PartNumber {
			continue
		}
		if c.Op == OpGetRange && f.Start != nil && *f.Start != c.Start {
			continue
		}
		if f.Times > 0 {
			f.Times--
			if f.Times == 0 {
				m.faults = append(m.faults[:i:i], m.faults[i+1:]...)
			}
		}
		return f
	}
	return nil
}

// CreateMultipartUpload implements ObjectStore.
func (m *MemoryStore) CreateMultipartUpload(_ context.Context, bucket, key string, opts CreateOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f := m.record(Call{Op: OpCreate, Bucket: bucket, Key: key}); f != nil {
		return "", wrap(OpCreate, bucket, key, f.Err)
	}
	id := uuid.NewString()
	m.uploads[id] = &memUpload{bucket: bucket, key: key, contentType: opts.ContentType, parts: make(map[int32][]byte)}
	return id, nil
}

// UploadPart implements ObjectStore.
func (m *MemoryStore) UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, body io.ReadSeeker, length int64) (types.Receipt, error) {
	m.mu.Lock()
	f := m.record(Call{Op: OpUpload, Bucket: bucket, Key: key, UploadID: uploadID, PartNumber: partNumber})
	m.mu.Unlock()
	if f != nil {
		return types.Receipt{}, wrap(OpUpload, bucket, key, f.Err)
	}
	if err := ctx.Err(); err != nil {
		return types.Receipt{}, wrap(OpUpload, bucket, key, err)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return types.Receipt{}, wrap(OpUpload, bucket, key, err)
	}
	if int64(len(data)) != length {
		return types.Receipt{}, wrap(OpUpload, bucket, key,
			fmt.Errorf("IncompleteBody: read %d bytes, content length %d", len(data), length))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	up, ok := m.uploads[uploadID]
	if !ok || up.bucket != bucket || up.key != key {
		return types.Receipt{}, wrap(OpUpload, bucket, key, errors.New("NoSuchUpload"))
	}
	up.parts[partNumber] = data

	sum := crc32.ChecksumIEEE(data)
	crc := make([]byte, 4)
	binary.BigEndian.PutUint32(crc, sum)
	return types.Receipt{
		PartNumber:    partNumber,
		ETag:          etag(data),
		ChecksumCRC32: base64.StdEncoding.EncodeToString(crc),
	}, nil
}

// CompleteMultipartUpload implements ObjectStore.
func (m *MemoryStore) CompleteMultipartUpload(_ context.Context, bucket, key, uploadID string, parts []types.Receipt) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f := m.record(Call{Op: OpComplete, Bucket: bucket, Key: key, UploadID: uploadID}); f != nil {
		return "", wrap(OpComplete, bucket, key, f.Err)
	}
	up, ok := m.uploads[uploadID]
	if !ok {
		return "", wrap(OpComplete, bucket, key, errors.New("NoSuchUpload"))
	}
	if len(parts) == 0 {
		return "", wrap(OpComplete, bucket, key, errors.New("MalformedXML: no parts"))
	}

	var buf bytes.Buffer
	digests := md5.New() //nolint:gosec // multipart ETag scheme
	prev := int32(0)
	for _, p := range parts {
		if p.PartNumber <= prev {
			return "", wrap(OpComplete, bucket, key, errors.New("InvalidPartOrder"))
		}
		prev = p.PartNumber
		data, ok := up.parts[p.PartNumber]
		if !ok || etag(data) != p.ETag {
			return "", wrap(OpComplete, bucket, key, fmt.Errorf("InvalidPart: part %d", p.PartNumber))
		}
		buf.Write(data)
		d := md5.Sum(data) //nolint:gosec // multipart ETag scheme
		digests.Write(d[:])
	}

	k := objectKey(bucket, key)
	m.objects[k] = buf.Bytes()
	m.types[k] = up.contentType
	delete(m.uploads, uploadID)
	return fmt.Sprintf("\"%s-%d\"", hex.EncodeToString(digests.Sum(nil)), len(parts)), nil
}

// AbortMultipartUpload implements ObjectStore.
func (m *MemoryStore) AbortMultipartUpload(_ context.Context, bucket, key, uploadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f := m.record(Call{Op: OpAbort, Bucket: bucket, Key: key, UploadID: uploadID}); f != nil {
		return wrap(OpAbort, bucket, key, f.Err)
	}
	if _, ok := m.uploads[uploadID]; !ok {
		return wrap(OpAbort, bucket, key, errors.New("NoSuchUpload"))
	}
	delete(m.uploads, uploadID)
	return nil
}

// ObjectSize implements ObjectStore.
func (m *MemoryStore) ObjectSize(_ context.Context, bucket, key string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f := m.record(Call{Op: OpSize, Bucket: bucket, Key: key}); f != nil {
		return 0, wrap(OpSize, bucket, key, f.Err)
	}
	data, ok := m.objects[objectKey(bucket, key)]
	if !ok {
		return 0, wrap(OpSize, bucket, key, errors.New("NoSuchKey"))
	}
	return uint64(len(data)), nil
}

// GetRange implements ObjectStore. Like S3, an end past the object is
// truncated to the last byte and a start past the object fails.
func (m *MemoryStore) GetRange(_ context.Context, bucket, key string, start, end uint64) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := m.record(Call{Op: OpGetRange, Bucket: bucket, Key: key, Start: start, End: end})
	if f != nil && !f.Truncate {
		return nil, wrap(OpGetRange, bucket, key, f.Err)
	}
	data, ok := m.objects[objectKey(bucket, key)]
	if !ok {
		return nil, wrap(OpGetRange, bucket, key, errors.New("NoSuchKey"))
	}
	size := uint64(len(data))
	if start >= size || end < start {
		return nil, wrap(OpGetRange, bucket, key, errors.New("InvalidRange"))
	}
	if end >= size {
		end = size - 1
	}
	chunk := append([]byte(nil), data[start:end+1]...)
	if f != nil {
		return io.NopCloser(&truncatedReader{r: bytes.NewReader(chunk[:len(chunk)/2]), err: f.Err}), nil
	}
	return io.NopCloser(bytes.NewReader(chunk)), nil
}

func etag(data []byte) string {
	sum := md5.Sum(data) //nolint:gosec // ETags are MD5 by definition
	return "\"" + hex.EncodeToString(sum[:]) + "\""
}

// truncatedReader yields r and then fails with err.
type truncatedReader struct {
	r   io.Reader
	err error
}

func (t *truncatedReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if errors.Is(err, io.EOF) {
		if t.err == nil {
			return n, io.ErrUnexpectedEOF
		}
		return n, t.err
	}
	return n, err
}

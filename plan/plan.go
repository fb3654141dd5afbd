package plan

import (
	"errors"
	"fmt"
)

// Errors returned by Compute.
var (
	ErrObjectTooSmall   = errors.New("object too small for multipart transfer")
	ErrObjectTooLarge   = errors.New("object exceeds maximum object size")
	ErrPartSizeTooSmall = errors.New("part size below minimum")
	ErrPartSizeTooLarge = errors.New("part size above maximum")
	ErrTooManyParts     = errors.New("number of parts exceeds maximum")
)

// Plan is the partitioning of an object into parts.
// PartCount is always ceil(ObjectSize / PartSize).
type Plan struct {
	ObjectSize uint64 `json:"object_size"`
	PartSize   uint64 `json:"part_size"`
	PartCount  uint64 `json:"number_of_parts"`
}

// Compute returns the plan for an object of the given size. A non-zero
// override fixes the part size; otherwise the smallest part size that keeps
// the part count within l.MaxParts is chosen.
//
// Compute is deterministic and has no side effects.
func Compute(size, override uint64, l Limits) (Plan, error) {
	if size < l.MinObjectSize || size == 0 {
		return Plan{}, fmt.Errorf("%w: %d bytes (minimum %d)", ErrObjectTooSmall, size, l.MinObjectSize)
	}
	if size > l.MaxObjectSize {
		return Plan{}, fmt.Errorf("%w: %d bytes (maximum %d)", ErrObjectTooLarge, size, l.MaxObjectSize)
	}

	var partSize uint64
	if override > 0 {
		if override < l.MinPartSize {
			return Plan{}, fmt.Errorf("%w: %d bytes (minimum %d)", ErrPartSizeTooSmall, override, l.MinPartSize)
		}
		if override > l.MaxPartSize {
			return Plan{}, fmt.Errorf("%w: %d bytes (maximum %d)", ErrPartSizeTooLarge, override, l.MaxPartSize)
		}
		if n := ceilDiv(size, override); n > l.MaxParts {
			return Plan{}, fmt.Errorf("%w: %d parts of %d bytes (maximum %d)", ErrTooManyParts, n, override, l.MaxParts)
		}
		partSize = override
	} else {
		partSize = max(l.MinPartSize, ceilDiv(size, l.MaxParts))
		if partSize > l.MaxPartSize {
			return Plan{}, fmt.Errorf("%w: %d bytes required (maximum %d)", ErrPartSizeTooLarge, partSize, l.MaxPartSize)
		}
	}

	count := ceilDiv(size, partSize)
	if count > l.MaxParts {
		return Plan{}, fmt.Errorf("%w: %d parts (maximum %d)", ErrTooManyParts, count, l.MaxParts)
	}

	return Plan{ObjectSize: size, PartSize: partSize, PartCount: count}, nil
}

// Part is the byte region covered by one part. Number is 1-based.
type Part struct {
	Number uint64
	Offset uint64
	Length uint64
}

// Part returns the n-th part (1-based). It panics if n is out of range.
func (p Plan) Part(n uint64) Part {
	if n < 1 || n > p.PartCount {
		panic(fmt.Sprintf("plan: part %d out of range [1, %d]", n, p.PartCount))
	}
	length := p.PartSize
	if n == p.PartCount {
		if rem := p.ObjectSize % p.PartSize; rem != 0 {
			length = rem
		}
	}
	return Part{
		Number: n,
		Offset: (n - 1) * p.PartSize,
		Length: length,
	}
}

// Parts returns every part in ascending order.
func (p Plan) Parts() []Part {
	parts := make([]Part, 0, p.PartCount)
	for n := uint64(1); n <= p.PartCount; n++ {
		parts = append(parts, p.Part(n))
	}
	return parts
}

// Bounds returns the inclusive byte range requested for the part.
//
// The upper bound is offset+PartSize-1, clamped to ObjectSize-1 only when it
// exceeds ObjectSize. When the bound lands exactly on ObjectSize it is left
// as is; servers truncate ranges past the end of the object.
func (p Plan) Bounds(part Part) (start, end uint64) {
	start = part.Offset
	end = part.Offset + p.PartSize - 1
	if end > p.ObjectSize {
		end = p.ObjectSize - 1
	}
	return start, end
}

// Range returns the HTTP Range header value for the part.
func (p Plan) Range(part Part) string {
	start, end := p.Bounds(part)
	return FormatRange(start, end)
}

// FormatRange formats an inclusive byte range as an HTTP Range header value.
func FormatRange(start, end uint64) string {
	return fmt.Sprintf("bytes=%d-%d", start, end)
}

// Validate checks the internal consistency of a plan loaded from elsewhere.
func (p Plan) Validate() error {
	if p.ObjectSize == 0 {
		return errors.New("object size must be positive")
	}
	if p.PartSize == 0 {
		return errors.New("part size must be positive")
	}
	if want := ceilDiv(p.ObjectSize, p.PartSize); p.PartCount != want {
		return fmt.Errorf("number of parts %d does not match ceil(%d/%d) = %d",
			p.PartCount, p.ObjectSize, p.PartSize, want)
	}
	return nil
}

func ceilDiv(a, b uint64) uint64 {
	q := a / b
	if a%b != 0 {
		q++
	}
	return q
}

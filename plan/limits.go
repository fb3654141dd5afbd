// Package plan computes how an object is partitioned into parts for a
// multipart transfer.
package plan

// Byte size units.
const (
	KiB uint64 = 1024
	MiB        = 1024 * KiB
	GiB        = 1024 * MiB
	TiB        = 1024 * GiB
)

// Service limits for S3 multipart transfers.
// See https://docs.aws.amazon.com/AmazonS3/latest/userguide/qfacts.html
const (
	MaxObjectSize = 5 * TiB
	MaxParts      = 10_000
	MinPartNumber = 1
	MaxPartNumber = 10_000
	// MinPartSize applies to every part but the last.
	MinPartSize = 5 * MiB
	MaxPartSize = 5 * GiB

	// DefaultDownloadPartSize is used for downloads when no part size is
	// configured.
	DefaultDownloadPartSize = 100 * MiB
)

// Limits are the constraints a plan must satisfy.
type Limits struct {
	MinPartSize   uint64
	MaxPartSize   uint64
	MaxParts      uint64
	MinObjectSize uint64
	MaxObjectSize uint64
}

// UploadLimits returns the limits for multipart uploads. Objects smaller
// than a single part cannot use multipart upload.
func UploadLimits() Limits {
	return Limits{
		MinPartSize:   MinPartSize,
		MaxPartSize:   MaxPartSize,
		MaxParts:      MaxParts,
		MinObjectSize: MinPartSize,
		MaxObjectSize: MaxObjectSize,
	}
}

// DownloadLimits returns the limits for ranged downloads. Part sizes obey
// the same bounds as uploads, but any non-empty object can be fetched.
func DownloadLimits() Limits {
	return Limits{
		MinPartSize:   MinPartSize,
		MaxPartSize:   MaxPartSize,
		MaxParts:      MaxParts,
		MinObjectSize: 1,
		MaxObjectSize: MaxObjectSize,
	}
}

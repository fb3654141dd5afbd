package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/persevere/types"
)

// Filter narrows a history query. Empty fields match everything.
type Filter struct {
	Direction  types.Direction
	TransferID string
	// Limit caps the number of transfers returned. Zero means no limit.
	Limit int
}

// History returns the latest record of each transfer, newest first.
func History(ctx context.Context, ds lode.Dataset, f Filter) ([]Record, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, fmt.Errorf("list journal snapshots: %w", err)
	}

	latest := make(map[string]Record)
	for _, snap := range snapshots {
		if !snapshotMatchesFilter(snap, "direction", string(f.Direction)) {
			continue
		}
		if !snapshotMatchesFilter(snap, "transfer_id", f.TransferID) {
			continue
		}

		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, fmt.Errorf("read journal snapshot %s: %w", snap.ID, err)
		}

		// Manifest paths are a coarse pre-filter; record fields decide.
		for _, item := range data {
			m, ok := item.(map[string]any)
			if !ok || toString(m["record_kind"]) != RecordKindTransfer {
				continue
			}
			r := fromMap(m)
			if f.Direction != "" && r.Direction != f.Direction {
				continue
			}
			if f.TransferID != "" && r.TransferID != f.TransferID {
				continue
			}
			if prev, seen := latest[r.TransferID]; seen && prev.Ts.After(r.Ts) {
				continue
			}
			latest[r.TransferID] = r
		}
	}

	out := make([]Record, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ts.Equal(out[j].Ts) {
			return out[i].TransferID < out[j].TransferID
		}
		return out[i].Ts.After(out[j].Ts)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Events returns every record of one transfer in write order.
func Events(ctx context.Context, ds lode.Dataset, transferID string) ([]Record, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, fmt.Errorf("list journal snapshots: %w", err)
	}

	var out []Record
	seen := make(map[string]struct{})
	for _, snap := range snapshots {
		if !snapshotMatchesFilter(snap, "transfer_id", transferID) {
			continue
		}
		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, fmt.Errorf("read journal snapshot %s: %w", snap.ID, err)
		}
		for _, item := range data {
			m, ok := item.(map[string]any)
			if !ok || toString(m["record_kind"]) != RecordKindTransfer {
				continue
			}
			r := fromMap(m)
			if r.TransferID != transferID {
				continue
			}
			// A snapshot may carry records of earlier writes.
			k := string(r.Event) + "@" + r.Ts.Format(time.RFC3339Nano)
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Ts.Before(out[j].Ts) })
	return out, nil
}

func fromMap(m map[string]any) Record {
	r := Record{
		RecordKind:     toString(m["record_kind"]),
		Event:          Event(toString(m["event"])),
		TransferID:     toString(m["transfer_id"]),
		Direction:      types.Direction(toString(m["direction"])),
		Bucket:         toString(m["bucket"]),
		Key:            toString(m["key"]),
		LocalPath:      toString(m["local_path"]),
		StateFile:      toString(m["state_file"]),
		ObjectSize:     toUint64(m["object_size"]),
		PartSize:       toUint64(m["part_size"]),
		PartCount:      toUint64(m["part_count"]),
		PartsCompleted: toUint64(m["parts_completed"]),
		BytesCompleted: toUint64(m["bytes_completed"]),
		Part:           toUint64(m["part"]),
		Outcome:        types.OutcomeStatus(toString(m["outcome"])),
		Message:        toString(m["message"]),
		ETag:           toString(m["etag"]),
		Day:            toString(m["day"]),
	}
	if ts, err := time.Parse(time.RFC3339Nano, toString(m["ts"])); err == nil {
		r.Ts = ts
	}
	return r
}

// snapshotMatchesFilter checks if a snapshot's file paths match
// the given partition key=value filter.
func snapshotMatchesFilter(snap *lode.DatasetSnapshot, key, value string) bool {
	if value == "" {
		return true
	}
	for _, f := range snap.Manifest.Files {
		if matchesPartitionValue(f.Path, key, value) {
			return true
		}
	}
	return false
}

// matchesPartitionValue checks for an exact key=value path segment, so
// transfer_id=a does not match transfer_id=ab.
func matchesPartitionValue(path, key, value string) bool {
	segment := key + "=" + value
	for _, part := range strings.Split(path, "/") {
		if part == segment {
			return true
		}
	}
	return false
}

// toString converts a value to string, returning empty string for nil/non-string.
func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func toUint64(v any) uint64 {
	switch n := v.(type) {
	case uint64:
		return n
	case int64:
		return uint64(n)
	case int:
		return uint64(n)
	case float64:
		return uint64(n)
	case json.Number:
		u, _ := n.Int64()
		return uint64(u)
	default:
		return 0
	}
}

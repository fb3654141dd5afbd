package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pithecene-io/persevere/types"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		out = append(out, entry)
	}
	return out
}

func TestLogger_JSONWithTransferContext(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{Level: "debug", Output: &buf})
	require.NoError(t, err)

	l = l.WithTransfer(types.TransferMeta{
		TransferID: "t-1",
		Direction:  types.DirectionUpload,
		Bucket:     "bucket",
		Key:        "key",
		StateFile:  "/tmp/state.json",
	})
	l.Info("part uploaded", map[string]any{"part": 2})

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "info", e["level"])
	assert.Equal(t, "part uploaded", e["message"])
	assert.Equal(t, "t-1", e["transfer_id"])
	assert.Equal(t, "upload", e["direction"])
	assert.Equal(t, "/tmp/state.json", e["state_file"])
	assert.Contains(t, e, "timestamp")
	fields, ok := e["fields"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 2, fields["part"], 0)
}

func TestLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{Level: "warn", Output: &buf})
	require.NoError(t, err)

	l.Debug("hidden", nil)
	l.Info("hidden", nil)
	l.Warn("shown", nil)
	l.Sugar().Errorf("part %d failed", 3)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "warn", entries[0]["level"])
	assert.Equal(t, "part 3 failed", entries[1]["message"])
}

func TestLogger_Console(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{Format: FormatConsole, Output: &buf})
	require.NoError(t, err)

	l.Sugar().With("part", 1).Infof("starting")
	assert.Contains(t, buf.String(), "INFO")
	assert.Contains(t, buf.String(), "starting")
}

func TestNew_Invalid(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	assert.Error(t, err)

	_, err = New(Options{Format: "xml"})
	assert.Error(t, err)
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Info("discarded", nil)
	l.Sugar().Warnf("discarded %d", 1)
	assert.NoError(t, l.Sync())
}

package state

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pithecene-io/persevere/plan"
	"github.com/pithecene-io/persevere/types"
)

func TestSummarize(t *testing.T) {
	tests := []struct {
		name      string
		edit      func(d *Descriptor)
		phase     Phase
		parts     uint64
		bytes     uint64
		resumable bool
	}{
		{
			name:      "fresh",
			edit:      func(*Descriptor) {},
			phase:     PhaseInProgress,
			resumable: true,
		},
		{
			name: "one part done",
			edit: func(d *Descriptor) {
				d.LastCompletedPart = 1
				d.CompletedParts = []types.Receipt{*receipt(1)}
			},
			phase:     PhaseInProgress,
			parts:     1,
			bytes:     5 * plan.MiB,
			resumable: true,
		},
		{
			name: "all parts done",
			edit: func(d *Descriptor) {
				d.LastCompletedPart = 3
			},
			phase:     PhaseFinalizing,
			parts:     3,
			bytes:     12 * plan.MiB,
			resumable: true,
		},
		{
			name: "retryable failure",
			edit: func(d *Descriptor) {
				d.LastCompletedPart = 1
				d.Failure = &Failure{Part: 2, Kind: FailureRetryable, Message: "network error"}
			},
			phase:     PhaseRetryable,
			parts:     1,
			bytes:     5 * plan.MiB,
			resumable: true,
		},
		{
			name: "unrecoverable failure",
			edit: func(d *Descriptor) {
				d.Failure = &Failure{Part: 1, Kind: FailureUnrecoverable, Message: "source changed"}
			},
			phase: PhaseUnrecoverable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := uploadDescriptor()
			tt.edit(&d)

			s := d.Summarize("/state.json")
			assert.Equal(t, tt.phase, s.Phase)
			assert.Equal(t, tt.parts, s.PartsCompleted)
			assert.Equal(t, tt.bytes, s.BytesCompleted)
			assert.Equal(t, tt.resumable, s.Resumable())
			assert.Equal(t, "/state.json", s.StateFile)
			assert.InDelta(t, float64(tt.bytes)/float64(12*plan.MiB)*100, s.Percent, 0.001)
		})
	}
}

func TestSummarize_FailureIsACopy(t *testing.T) {
	d := downloadDescriptor()
	d.Failure = &Failure{Kind: FailureRetryable, Message: "interrupted"}

	s := d.Summarize("/state.json")
	s.Failure.Message = "changed"
	assert.Equal(t, "interrupted", d.Failure.Message)
	assert.Empty(t, s.UploadID)
}

package testutil

import (
	"testing"
	"time"

	"github.com/asticode/go-astits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/hlsforge/internal/models"
)

func TestNewSampleDataGeneratorWithSeed(t *testing.T) {
	gen1 := NewSampleDataGeneratorWithSeed(42)
	gen2 := NewSampleDataGeneratorWithSeed(42)

	assert.Equal(t, gen1.GenerateStreamName(), gen2.GenerateStreamName())
}

func TestGenerateStreams(t *testing.T) {
	gen := NewSampleDataGeneratorWithSeed(7)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	streams := gen.GenerateStreams(3, start)
	require.Len(t, streams, 3)
	for i, s := range streams {
		assert.NoError(t, s.Validate())
		assert.NoError(t, models.ValidateStreamID(s.ID))
		assert.Equal(t, start.Add(time.Duration(i)*time.Minute), s.CreatedAt)
	}
	assert.NotEqual(t, streams[0].ID, streams[1].ID)
}

func TestPayload(t *testing.T) {
	gen := NewSampleDataGeneratorWithSeed(1)
	assert.Len(t, gen.Payload(1024), 1024)
}

func TestTSSegment(t *testing.T) {
	seg := TSSegment(t, astits.StreamTypeH264Video)
	require.NotEmpty(t, seg)
	assert.Zero(t, len(seg)%188)
	assert.Equal(t, byte(0x47), seg[0])
}

// Package testutil provides test helpers: sample stream data, stub
// transcoder scripts and minimal HLS artifacts.
package testutil

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/jmylchreest/hlsforge/internal/models"
)

// Standard fictional broadcasters for test data.
// NEVER use real brand names.
var (
	Broadcasters = []string{
		"StreamCast",
		"ViewMedia",
		"AeroVision",
		"GlobalStream",
		"NationalNet",
		"SportsCentral",
		"CinemaMax",
		"MusicMax",
		"NewsFirst",
		"PrimeTV",
	}

	Shows = []string{
		"Morning Briefing",
		"Match Highlights",
		"Late Movie",
		"Studio Session",
		"Weather Update",
		"Nature Hour",
	}

	// Resolutions are common width/height pairs.
	Resolutions = [][2]int{
		{640, 360},
		{854, 480},
		{1280, 720},
		{1920, 1080},
		{3840, 2160},
	}
)

// SampleDataGenerator generates realistic but fictional stream data for testing.
type SampleDataGenerator struct {
	rng *rand.Rand
}

// NewSampleDataGenerator creates a new sample data generator with a random seed.
func NewSampleDataGenerator() *SampleDataGenerator {
	return &SampleDataGenerator{
		rng: rand.New(rand.NewSource(rand.Int63())), //nolint:gosec // test data
	}
}

// NewSampleDataGeneratorWithSeed creates a new generator with a fixed seed for reproducibility.
func NewSampleDataGeneratorWithSeed(seed int64) *SampleDataGenerator {
	return &SampleDataGenerator{
		rng: rand.New(rand.NewSource(seed)), //nolint:gosec // test data
	}
}

// RandomBroadcaster returns a random broadcaster name.
func (g *SampleDataGenerator) RandomBroadcaster() string {
	return Broadcasters[g.rng.Intn(len(Broadcasters))]
}

// RandomResolution returns a random width and height.
func (g *SampleDataGenerator) RandomResolution() (int, int) {
	r := Resolutions[g.rng.Intn(len(Resolutions))]
	return r[0], r[1]
}

// GenerateStreamName generates a stream title with broadcaster and show.
func (g *SampleDataGenerator) GenerateStreamName() string {
	return fmt.Sprintf("%s %s", g.RandomBroadcaster(), Shows[g.rng.Intn(len(Shows))])
}

// GenerateStream returns an unsaved stream with a fresh id.
func (g *SampleDataGenerator) GenerateStream(createdAt time.Time) *models.Stream {
	width, height := g.RandomResolution()
	name := g.GenerateStreamName()
	return &models.Stream{
		ID:          models.NewStreamID(),
		Name:        name,
		Description: "Recorded " + name,
		Width:       width,
		Height:      height,
		CreatedAt:   createdAt,
	}
}

// GenerateStreams returns count streams created one minute apart, oldest first.
func (g *SampleDataGenerator) GenerateStreams(count int, start time.Time) []*models.Stream {
	streams := make([]*models.Stream, count)
	for i := range streams {
		streams[i] = g.GenerateStream(start.Add(time.Duration(i) * time.Minute))
	}
	return streams
}

// Payload returns size pseudo-random bytes, e.g. an upload body.
func (g *SampleDataGenerator) Payload(size int) []byte {
	buf := make([]byte, size)
	_, _ = g.rng.Read(buf)
	return buf
}

package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Stream is the durable record of an upload whose HLS output became servable.
// The ID doubles as the name of the stream's working directory.
type Stream struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	Name        string    `gorm:"size:255;not null" json:"name"`
	Description string    `gorm:"size:2048" json:"description"`
	Width       int       `gorm:"not null" json:"width"`
	Height      int       `gorm:"not null" json:"height"`
	CreatedAt   time.Time `gorm:"index:idx_streams_created_at" json:"created_at"`

	// Filled in once the transcoder exits successfully.
	SegmentCount int        `gorm:"default:0" json:"segment_count"`
	DurationMs   int64      `gorm:"default:0" json:"duration_ms"`
	Codecs       string     `gorm:"size:255" json:"codecs,omitempty"`
	BytesIn      int64      `gorm:"default:0" json:"bytes_in"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// TableName returns the table name for streams.
func (Stream) TableName() string {
	return "streams"
}

// Validate checks the record before it is inserted.
func (s *Stream) Validate() error {
	if err := ValidateStreamID(s.ID); err != nil {
		return err
	}
	if strings.TrimSpace(s.Name) == "" {
		return ErrNameRequired
	}
	if s.Width <= 0 {
		return ErrValidation{Field: "width", Message: "must be positive"}
	}
	if s.Height <= 0 {
		return ErrValidation{Field: "height", Message: "must be positive"}
	}
	return nil
}

// IsFinished reports whether the transcoder completed for this stream.
func (s *Stream) IsFinished() bool {
	return s.FinishedAt != nil
}

// MediaInfo describes the produced HLS output, recorded at finish.
type MediaInfo struct {
	SegmentCount int
	Duration     time.Duration
	Codecs       []string
	BytesIn      int64
	FinishedAt   time.Time
}

// NewStreamID returns a fresh stream identifier.
func NewStreamID() string {
	return uuid.NewString()
}

// ValidateStreamID reports whether id is a canonical UUID string. Stream ids
// are used as directory names, so anything else is rejected.
func ValidateStreamID(id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil || parsed.String() != id {
		return ErrInvalidID
	}
	return nil
}

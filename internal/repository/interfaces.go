// Package repository defines data access interfaces for hlsforge entities.
// All database access goes through these interfaces, enabling easy testing
// and database backend switching.
package repository

import (
	"context"

	"github.com/jmylchreest/hlsforge/internal/models"
)

// StreamRepository defines operations for stream record persistence.
type StreamRepository interface {
	// Create inserts a new stream record.
	Create(ctx context.Context, stream *models.Stream) error
	// GetByID retrieves a stream by ID. Returns nil, nil when absent.
	GetByID(ctx context.Context, id string) (*models.Stream, error)
	// GetAll retrieves all streams, newest first.
	GetAll(ctx context.Context) ([]*models.Stream, error)
	// ListIDs returns the ids of every stream record.
	ListIDs(ctx context.Context) ([]string, error)
	// UpdateMediaInfo records what the transcoder produced for a stream.
	UpdateMediaInfo(ctx context.Context, id string, info models.MediaInfo) error
	// Delete removes a stream record. Reports whether a row was removed.
	Delete(ctx context.Context, id string) (bool, error)
	// Count returns the number of stream records.
	Count(ctx context.Context) (int64, error)
}

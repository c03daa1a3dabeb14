package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/jmylchreest/hlsforge/internal/models"
)

// streamRepo implements StreamRepository using GORM.
type streamRepo struct {
	db *gorm.DB
}

// NewStreamRepository creates a new StreamRepository.
func NewStreamRepository(db *gorm.DB) *streamRepo {
	return &streamRepo{db: db}
}

// Create inserts a new stream record.
func (r *streamRepo) Create(ctx context.Context, stream *models.Stream) error {
	if err := stream.Validate(); err != nil {
		return fmt.Errorf("validating stream: %w", err)
	}
	if err := r.db.WithContext(ctx).Create(stream).Error; err != nil {
		return fmt.Errorf("creating stream: %w", err)
	}
	return nil
}

// GetByID retrieves a stream by ID.
func (r *streamRepo) GetByID(ctx context.Context, id string) (*models.Stream, error) {
	var stream models.Stream
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&stream).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting stream by ID: %w", err)
	}
	return &stream, nil
}

// GetAll retrieves all streams ordered by creation time, newest first.
func (r *streamRepo) GetAll(ctx context.Context) ([]*models.Stream, error) {
	var streams []*models.Stream
	if err := r.db.WithContext(ctx).Order("created_at DESC").Order("id ASC").Find(&streams).Error; err != nil {
		return nil, fmt.Errorf("getting all streams: %w", err)
	}
	return streams, nil
}

// ListIDs returns the ids of every stream record.
func (r *streamRepo) ListIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Model(&models.Stream{}).Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("listing stream ids: %w", err)
	}
	return ids, nil
}

// UpdateMediaInfo records what the transcoder produced for a stream.
func (r *streamRepo) UpdateMediaInfo(ctx context.Context, id string, info models.MediaInfo) error {
	finishedAt := info.FinishedAt
	result := r.db.WithContext(ctx).Model(&models.Stream{}).Where("id = ?", id).Updates(map[string]any{
		"segment_count": info.SegmentCount,
		"duration_ms":   info.Duration.Milliseconds(),
		"codecs":        strings.Join(info.Codecs, ","),
		"bytes_in":      info.BytesIn,
		"finished_at":   &finishedAt,
	})
	if result.Error != nil {
		return fmt.Errorf("updating stream media info: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("updating stream media info %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// Delete removes a stream record.
func (r *streamRepo) Delete(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Stream{})
	if result.Error != nil {
		return false, fmt.Errorf("deleting stream: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Count returns the number of stream records.
func (r *streamRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Stream{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting streams: %w", err)
	}
	return n, nil
}

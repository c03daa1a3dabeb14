// Package service provides the business logic layer for hlsforge streams.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jmylchreest/hlsforge/internal/models"
	"github.com/jmylchreest/hlsforge/internal/repository"
	"github.com/jmylchreest/hlsforge/internal/storage"
)

// ErrStreamBusy is returned when an operation targets a stream whose upload
// session is still running.
var ErrStreamBusy = errors.New("stream upload in progress")

// StreamService provides the stream catalogue and resolves stream artifacts.
type StreamService struct {
	repo         repository.StreamRepository
	sandbox      *storage.Sandbox
	playlistName string
	isActive     func(id string) bool
	logger       *slog.Logger
}

// NewStreamService creates a new stream service.
func NewStreamService(repo repository.StreamRepository, sandbox *storage.Sandbox, playlistName string) *StreamService {
	return &StreamService{
		repo:         repo,
		sandbox:      sandbox,
		playlistName: playlistName,
		isActive:     func(string) bool { return false },
		logger:       slog.Default(),
	}
}

// WithLogger sets the logger for the service.
func (s *StreamService) WithLogger(logger *slog.Logger) *StreamService {
	s.logger = logger
	return s
}

// WithActiveCheck sets the function reporting whether an upload session
// currently owns a stream id.
func (s *StreamService) WithActiveCheck(isActive func(id string) bool) *StreamService {
	if isActive != nil {
		s.isActive = isActive
	}
	return s
}

// List returns every stream, newest first.
func (s *StreamService) List(ctx context.Context) ([]*models.Stream, error) {
	streams, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing streams: %w", err)
	}
	return streams, nil
}

// Get returns a stream by id, or models.ErrNotFound.
func (s *StreamService) Get(ctx context.Context, id string) (*models.Stream, error) {
	if err := models.ValidateStreamID(id); err != nil {
		return nil, models.ErrNotFound
	}
	stream, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting stream: %w", err)
	}
	if stream == nil {
		return nil, models.ErrNotFound
	}
	return stream, nil
}

// Delete removes a stream record and its working directory. Streams still
// being uploaded are refused with ErrStreamBusy.
func (s *StreamService) Delete(ctx context.Context, id string) error {
	if err := models.ValidateStreamID(id); err != nil {
		return models.ErrNotFound
	}
	if s.isActive(id) {
		return ErrStreamBusy
	}

	removed, err := s.repo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("deleting stream: %w", err)
	}
	if !removed {
		return models.ErrNotFound
	}

	if err := s.sandbox.RemoveWorkDir(id); err != nil {
		// The record is gone; the sweep picks up the directory later.
		s.logger.Warn("failed to remove stream directory",
			"stream_id", id,
			"error", err,
		)
	}

	s.logger.Info("deleted stream", "stream_id", id)
	return nil
}

// PlaylistPath returns the on-disk playlist of a known stream.
func (s *StreamService) PlaylistPath(ctx context.Context, id string) (string, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return "", err
	}
	return s.existingFile(id, s.playlistName)
}

// SegmentPath returns the on-disk path of a segment of stream id. Segment
// names must be single path elements.
func (s *StreamService) SegmentPath(_ context.Context, id, name string) (string, error) {
	if err := models.ValidateStreamID(id); err != nil {
		return "", models.ErrNotFound
	}
	if name == s.playlistName {
		return "", models.ErrNotFound
	}
	return s.existingFile(id, name)
}

func (s *StreamService) existingFile(id, name string) (string, error) {
	p, err := s.sandbox.ResolveFile(id, name)
	if err != nil {
		return "", models.ErrNotFound
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", models.ErrNotFound
		}
		return "", fmt.Errorf("checking %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		return "", models.ErrNotFound
	}
	return p, nil
}

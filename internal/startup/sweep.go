// Package startup reconciles stream working directories with stream records,
// both when the server starts and periodically while it runs.
package startup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/hlsforge/internal/models"
	"github.com/jmylchreest/hlsforge/internal/observability"
	"github.com/jmylchreest/hlsforge/internal/repository"
	"github.com/jmylchreest/hlsforge/internal/storage"
)

// SweepResult summarises one reconciliation pass.
type SweepResult struct {
	RemovedDirs    int
	DeletedRecords int
	Skipped        int
}

// Sweeper removes working directories nobody references and records whose
// directory has gone.
type Sweeper struct {
	sandbox  *storage.Sandbox
	repo     repository.StreamRepository
	isActive func(id string) bool
	maxAge   time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a sweeper. isActive reports whether an upload session
// currently owns the given stream id; such ids are never touched.
func NewSweeper(
	sandbox *storage.Sandbox,
	repo repository.StreamRepository,
	isActive func(id string) bool,
	maxAge time.Duration,
	logger *slog.Logger,
) *Sweeper {
	if isActive == nil {
		isActive = func(string) bool { return false }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		sandbox:  sandbox,
		repo:     repo,
		isActive: isActive,
		maxAge:   maxAge,
		logger:   logger,
	}
}

// Sweep runs one pass. Record ids are listed before directories so that a
// session persisting its record mid-pass is seen either as an active session
// or as a young unreferenced directory, never as a stale one.
func (s *Sweeper) Sweep(ctx context.Context) (result SweepResult, err error) {
	defer observability.TimedOperationWithError(ctx, s.logger, "orphan sweep", &err)()

	ids, err := s.repo.ListIDs(ctx)
	if err != nil {
		return result, fmt.Errorf("listing stream records: %w", err)
	}
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}

	entries, err := s.sandbox.WorkDirs()
	if err != nil {
		return result, fmt.Errorf("listing working directories: %w", err)
	}

	cutoff := time.Now().Add(-s.maxAge)
	present := make(map[string]bool, len(entries))

	for _, entry := range entries {
		name := entry.Name()
		present[name] = true

		if models.ValidateStreamID(name) != nil {
			s.logger.Debug("ignoring foreign directory", "name", name)
			result.Skipped++
			continue
		}
		if known[name] {
			continue
		}
		if s.isActive(name) {
			result.Skipped++
			continue
		}

		info, err := entry.Info()
		if err != nil {
			s.logger.Warn("failed to get directory info",
				"stream_id", name,
				"error", err,
			)
			continue
		}
		if info.ModTime().After(cutoff) {
			s.logger.Debug("preserving recent working directory",
				"stream_id", name,
				"age", time.Since(info.ModTime()).Round(time.Second),
			)
			result.Skipped++
			continue
		}

		if err := s.sandbox.RemoveWorkDir(name); err != nil {
			s.logger.Warn("failed to remove orphaned working directory",
				"stream_id", name,
				"error", err,
			)
			continue
		}
		s.logger.Info("removed orphaned working directory",
			"stream_id", name,
			"age", time.Since(info.ModTime()).Round(time.Second),
		)
		result.RemovedDirs++
	}

	for _, id := range ids {
		if present[id] || s.isActive(id) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		removed, err := s.repo.Delete(ctx, id)
		if err != nil {
			s.logger.Error("failed to delete stream record without directory",
				"stream_id", id,
				"error", err,
			)
			continue
		}
		if removed {
			s.logger.Warn("deleted stream record without directory", "stream_id", id)
			result.DeletedRecords++
		}
	}

	return result, nil
}

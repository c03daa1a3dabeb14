package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/hlsforge/internal/observability"
	"github.com/jmylchreest/hlsforge/internal/repository"
	"github.com/jmylchreest/hlsforge/internal/storage"
)

const cleanupTimeout = 10 * time.Second

// Cleaner removes what a failed session left behind.
type Cleaner struct {
	sandbox        *storage.Sandbox
	repo           repository.StreamRepository
	rollbackRecord bool
	logger         *slog.Logger
}

// NewCleaner returns a Cleaner. When rollbackRecord is false a stream record
// persisted before the failure is kept.
func NewCleaner(sandbox *storage.Sandbox, repo repository.StreamRepository, rollbackRecord bool, logger *slog.Logger) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{sandbox: sandbox, repo: repo, rollbackRecord: rollbackRecord, logger: logger}
}

// Cleanup removes the working directory of sessionID and, if recordID is
// non-empty and rollback is enabled, deletes that stream record. Failures
// are logged, never returned; running it again is harmless.
func (c *Cleaner) Cleanup(ctx context.Context, sessionID, recordID string) {
	logger := c.logger.With(slog.String("session_id", sessionID))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic during cleanup", slog.String("panic", fmt.Sprint(r)))
		}
	}()

	// Cleanup usually runs because ctx ended; it must still complete.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err := c.sandbox.RemoveWorkDir(sessionID); err != nil {
		observability.WithError(logger, err).ErrorContext(ctx, "failed to remove working directory")
	} else {
		logger.DebugContext(ctx, "working directory removed")
	}

	if recordID == "" {
		return
	}
	if !c.rollbackRecord {
		logger.WarnContext(ctx, "keeping stream record of failed session", slog.String("stream_id", recordID))
		return
	}

	removed, err := c.repo.Delete(ctx, recordID)
	if err != nil {
		observability.WithError(logger, err).ErrorContext(ctx, "failed to roll back stream record",
			slog.String("stream_id", recordID))
		return
	}
	if removed {
		logger.InfoContext(ctx, "stream record rolled back", slog.String("stream_id", recordID))
	}
}

package startup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/hlsforge/internal/models"
	"github.com/jmylchreest/hlsforge/internal/repository"
	"github.com/jmylchreest/hlsforge/internal/storage"
	"github.com/jmylchreest/hlsforge/internal/testutil"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type sweepFixture struct {
	sandbox *storage.Sandbox
	repo    repository.StreamRepository
	gen     *testutil.SampleDataGenerator
}

func newSweepFixture(t *testing.T) *sweepFixture {
	t.Helper()
	sandbox, err := storage.NewSandbox(filepath.Join(t.TempDir(), "resources"))
	require.NoError(t, err)
	return &sweepFixture{
		sandbox: sandbox,
		repo:    testutil.NewStreamRepo(t),
		gen:     testutil.NewSampleDataGeneratorWithSeed(7),
	}
}

// dir creates a working directory whose mtime is age in the past.
func (f *sweepFixture) dir(t *testing.T, id string, age time.Duration) string {
	t.Helper()
	dir, err := f.sandbox.CreateWorkDir(id)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001.ts"), []byte("seg"), 0o600))
	// Set mtime after writing, since the write bumps it.
	stamp := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(dir, stamp, stamp))
	return dir
}

func (f *sweepFixture) record(t *testing.T) *models.Stream {
	t.Helper()
	s := f.gen.GenerateStream(time.Now().UTC())
	require.NoError(t, f.repo.Create(context.Background(), s))
	return s
}

func TestSweep(t *testing.T) {
	t.Run("removes old directories without a record", func(t *testing.T) {
		f := newSweepFixture(t)
		id := models.NewStreamID()
		dir := f.dir(t, id, 2*time.Hour)

		result, err := NewSweeper(f.sandbox, f.repo, nil, time.Hour, newTestLogger()).Sweep(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 1, result.RemovedDirs)
		_, err = os.Stat(dir)
		assert.True(t, os.IsNotExist(err), "orphaned directory should be removed")
	})

	t.Run("preserves recent directories without a record", func(t *testing.T) {
		f := newSweepFixture(t)
		dir := f.dir(t, models.NewStreamID(), 10*time.Minute)

		result, err := NewSweeper(f.sandbox, f.repo, nil, time.Hour, newTestLogger()).Sweep(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 0, result.RemovedDirs)
		assert.Equal(t, 1, result.Skipped)
		assert.DirExists(t, dir)
	})

	t.Run("preserves old directories with a record", func(t *testing.T) {
		f := newSweepFixture(t)
		s := f.record(t)
		dir := f.dir(t, s.ID, 48*time.Hour)

		result, err := NewSweeper(f.sandbox, f.repo, nil, time.Hour, newTestLogger()).Sweep(context.Background())
		require.NoError(t, err)

		assert.Equal(t, SweepResult{}, result)
		assert.DirExists(t, dir)
	})

	t.Run("skips directories of active sessions", func(t *testing.T) {
		f := newSweepFixture(t)
		id := models.NewStreamID()
		dir := f.dir(t, id, 2*time.Hour)
		active := func(got string) bool { return got == id }

		result, err := NewSweeper(f.sandbox, f.repo, active, time.Hour, newTestLogger()).Sweep(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 0, result.RemovedDirs)
		assert.DirExists(t, dir)
	})

	t.Run("ignores directories that are not stream ids", func(t *testing.T) {
		f := newSweepFixture(t)
		foreign := filepath.Join(f.sandbox.BaseDir(), "lost+found")
		require.NoError(t, os.Mkdir(foreign, 0o750))
		stamp := time.Now().Add(-72 * time.Hour)
		require.NoError(t, os.Chtimes(foreign, stamp, stamp))

		result, err := NewSweeper(f.sandbox, f.repo, nil, time.Hour, newTestLogger()).Sweep(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 1, result.Skipped)
		assert.DirExists(t, foreign)
	})

	t.Run("deletes records whose directory is missing", func(t *testing.T) {
		f := newSweepFixture(t)
		gone := f.record(t)
		kept := f.record(t)
		f.dir(t, kept.ID, time.Minute)

		result, err := NewSweeper(f.sandbox, f.repo, nil, time.Hour, newTestLogger()).Sweep(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 1, result.DeletedRecords)
		got, err := f.repo.GetByID(context.Background(), gone.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
		got, err = f.repo.GetByID(context.Background(), kept.ID)
		require.NoError(t, err)
		assert.NotNil(t, got)
	})

	t.Run("keeps records of active sessions", func(t *testing.T) {
		f := newSweepFixture(t)
		s := f.record(t)
		active := func(got string) bool { return got == s.ID }

		result, err := NewSweeper(f.sandbox, f.repo, active, time.Hour, newTestLogger()).Sweep(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 0, result.DeletedRecords)
		count, err := f.repo.Count(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("ignores plain files in the base directory", func(t *testing.T) {
		f := newSweepFixture(t)
		file := filepath.Join(f.sandbox.BaseDir(), models.NewStreamID())
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		stamp := time.Now().Add(-72 * time.Hour)
		require.NoError(t, os.Chtimes(file, stamp, stamp))

		result, err := NewSweeper(f.sandbox, f.repo, nil, time.Hour, newTestLogger()).Sweep(context.Background())
		require.NoError(t, err)

		assert.Equal(t, SweepResult{}, result)
		assert.FileExists(t, file)
	})
}

func TestValidateSchedule(t *testing.T) {
	for _, expr := range []string{"@every 15m", "@hourly", "*/5 * * * *", "0 3 * * 1"} {
		assert.NoError(t, ValidateSchedule(expr), expr)
	}
	for _, expr := range []string{"", "every minute", "* * *", "0 0 0 * * *"} {
		assert.Error(t, ValidateSchedule(expr), expr)
	}
}

func TestScheduler_RunsSweep(t *testing.T) {
	f := newSweepFixture(t)
	dir := f.dir(t, models.NewStreamID(), 2*time.Hour)

	sched, err := NewScheduler(NewSweeper(f.sandbox, f.repo, nil, time.Hour, newTestLogger()), "@every 1s", newTestLogger())
	require.NoError(t, err)
	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()

	assert.Error(t, sched.Start(context.Background()), "second start should fail")

	assert.Eventually(t, func() bool {
		_, err := os.Stat(dir)
		return os.IsNotExist(err)
	}, 5*time.Second, 50*time.Millisecond)
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	f := newSweepFixture(t)
	sched, err := NewScheduler(NewSweeper(f.sandbox, f.repo, nil, time.Hour, newTestLogger()), "@hourly", newTestLogger())
	require.NoError(t, err)
	sched.Stop()
}

func TestNewScheduler_InvalidSchedule(t *testing.T) {
	f := newSweepFixture(t)
	_, err := NewScheduler(NewSweeper(f.sandbox, f.repo, nil, time.Hour, newTestLogger()), "bogus", newTestLogger())
	assert.Error(t, err)
}

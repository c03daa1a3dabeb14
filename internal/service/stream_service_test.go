package service

import (
	"context"
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

func newTestService(t *testing.T) (*StreamService, repository.StreamRepository, *storage.Sandbox) {
	t.Helper()
	sandbox, err := storage.NewSandbox(filepath.Join(t.TempDir(), "resources"))
	require.NoError(t, err)
	repo := testutil.NewStreamRepo(t)
	return NewStreamService(repo, sandbox, "index.m3u8"), repo, sandbox
}

func seedStream(t *testing.T, repo repository.StreamRepository, sandbox *storage.Sandbox, created time.Time) *models.Stream {
	t.Helper()
	s := testutil.NewSampleDataGenerator().GenerateStream(created)
	require.NoError(t, repo.Create(context.Background(), s))
	dir, err := sandbox.CreateWorkDir(s.ID)
	require.NoError(t, err)
	testutil.WriteHLSArtifacts(t, dir, "index.m3u8", "001.ts", "002.ts")
	return s
}

func TestStreamService_List(t *testing.T) {
	svc, repo, sandbox := newTestService(t)
	base := time.Now().UTC().Truncate(time.Second)
	older := seedStream(t, repo, sandbox, base.Add(-time.Hour))
	newer := seedStream(t, repo, sandbox, base)

	streams, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, streams, 2)
	assert.Equal(t, newer.ID, streams[0].ID)
	assert.Equal(t, older.ID, streams[1].ID)
}

func TestStreamService_Get(t *testing.T) {
	svc, repo, sandbox := newTestService(t)
	s := seedStream(t, repo, sandbox, time.Now().UTC())

	got, err := svc.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Name, got.Name)

	_, err = svc.Get(context.Background(), models.NewStreamID())
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = svc.Get(context.Background(), "../etc")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStreamService_Delete(t *testing.T) {
	svc, repo, sandbox := newTestService(t)
	s := seedStream(t, repo, sandbox, time.Now().UTC())

	require.NoError(t, svc.Delete(context.Background(), s.ID))

	exists, err := sandbox.WorkDirExists(s.ID)
	require.NoError(t, err)
	assert.False(t, exists)
	got, err := repo.GetByID(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.ErrorIs(t, svc.Delete(context.Background(), s.ID), models.ErrNotFound)
}

func TestStreamService_DeleteActive(t *testing.T) {
	svc, repo, sandbox := newTestService(t)
	s := seedStream(t, repo, sandbox, time.Now().UTC())
	svc.WithActiveCheck(func(id string) bool { return id == s.ID })

	assert.ErrorIs(t, svc.Delete(context.Background(), s.ID), ErrStreamBusy)

	exists, err := sandbox.WorkDirExists(s.ID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestStreamService_PlaylistPath(t *testing.T) {
	svc, repo, sandbox := newTestService(t)
	s := seedStream(t, repo, sandbox, time.Now().UTC())

	p, err := svc.PlaylistPath(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, "index.m3u8", filepath.Base(p))

	// A directory without a record is not served.
	orphan := models.NewStreamID()
	dir, err := sandbox.CreateWorkDir(orphan)
	require.NoError(t, err)
	testutil.WriteHLSArtifacts(t, dir, "index.m3u8", "001.ts")
	_, err = svc.PlaylistPath(context.Background(), orphan)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStreamService_SegmentPath(t *testing.T) {
	svc, repo, sandbox := newTestService(t)
	s := seedStream(t, repo, sandbox, time.Now().UTC())

	p, err := svc.SegmentPath(context.Background(), s.ID, "002.ts")
	require.NoError(t, err)
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	for _, name := range []string{"003.ts", "../index.m3u8", "..", "index.m3u8", ""} {
		_, err := svc.SegmentPath(context.Background(), s.ID, name)
		assert.ErrorIs(t, err, models.ErrNotFound, name)
	}

	_, err = svc.SegmentPath(context.Background(), "not-an-id", "001.ts")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestSandbox(t *testing.T) *Sandbox {
	t.Helper()
	sb, err := NewSandbox(filepath.Join(t.TempDir(), "resources"))
	require.NoError(t, err)
	return sb
}

func TestNewSandbox(t *testing.T) {
	tmpDir := t.TempDir()
	sandboxDir := filepath.Join(tmpDir, "sandbox")

	sb, err := NewSandbox(sandboxDir)
	require.NoError(t, err)

	info, err := os.Stat(sandboxDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.True(t, filepath.IsAbs(sb.BaseDir()))
}

func TestSandbox_ResolvePath(t *testing.T) {
	sb := setupTestSandbox(t)

	tests := []struct {
		name        string
		path        string
		shouldError bool
	}{
		{"simple file", "test.txt", false},
		{"nested path", "subdir/test.txt", false},
		{"dot path", "./test.txt", false},
		{"parent escape", "../escape.txt", true},
		{"nested escape", "subdir/../../escape.txt", true},
		{"absolute path", "/etc/passwd", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, err := sb.ResolvePath(tt.path)
			if tt.shouldError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, filepath.IsAbs(path))
		})
	}
}

func TestSandbox_CreateWorkDir(t *testing.T) {
	sb := setupTestSandbox(t)

	dir, err := sb.CreateWorkDir("abc")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(sb.BaseDir(), "abc"), dir)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = sb.CreateWorkDir("abc")
	assert.ErrorIs(t, err, ErrWorkDirExists)
}

func TestSandbox_WorkDir_RejectsTraversal(t *testing.T) {
	sb := setupTestSandbox(t)

	for _, id := range []string{"", ".", "..", "a/b", `a\b`, "../x"} {
		_, err := sb.WorkDir(id)
		assert.Error(t, err, "id %q", id)
	}
}

func TestSandbox_RemoveWorkDir_Idempotent(t *testing.T) {
	sb := setupTestSandbox(t)

	dir, err := sb.CreateWorkDir("abc")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001.ts"), []byte("x"), 0o600))

	require.NoError(t, sb.RemoveWorkDir("abc"))
	exists, err := sb.WorkDirExists("abc")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.NoError(t, sb.RemoveWorkDir("abc"))
}

func TestSandbox_ResolveFile(t *testing.T) {
	sb := setupTestSandbox(t)

	path, err := sb.ResolveFile("abc", "001.ts")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(sb.BaseDir(), "abc", "001.ts"), path)

	for _, name := range []string{"", "..", "../x", "a/b"} {
		_, err := sb.ResolveFile("abc", name)
		assert.Error(t, err, "name %q", name)
	}
}

func TestSandbox_WorkDirs(t *testing.T) {
	sb := setupTestSandbox(t)

	_, err := sb.CreateWorkDir("one")
	require.NoError(t, err)
	_, err = sb.CreateWorkDir("two")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(sb.BaseDir(), "stray.txt"), []byte("x"), 0o600))

	dirs, err := sb.WorkDirs()
	require.NoError(t, err)
	names := make([]string, 0, len(dirs))
	for _, d := range dirs {
		names = append(names, d.Name())
	}
	assert.ElementsMatch(t, []string{"one", "two"}, names)
}

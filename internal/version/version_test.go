package version

import (
	"encoding/json"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withVersion(t *testing.T, v, commit string) {
	t.Helper()
	origVersion, origCommit := Version, Commit
	t.Cleanup(func() { Version, Commit = origVersion, origCommit })
	Version, Commit = v, commit
}

func TestGetInfo(t *testing.T) {
	info := GetInfo()

	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.Platform, runtime.GOOS)
	assert.Contains(t, info.Platform, runtime.GOARCH)
}

func TestString(t *testing.T) {
	withVersion(t, "1.4.0", "unknown")
	assert.Contains(t, String(), ApplicationName+" version 1.4.0")

	withVersion(t, "1.4.0", "0123456789abcdef")
	assert.Contains(t, String(), "commit: 01234567")
}

func TestShort(t *testing.T) {
	withVersion(t, "1.0.0", "unknown")
	assert.Equal(t, "1.0.0", Short())

	withVersion(t, "1.0.0", "deadbeefcafe")
	assert.Equal(t, "1.0.0 (deadbeef)", Short())
}

func TestIsSnapshot(t *testing.T) {
	tests := []struct {
		version string
		want    bool
	}{
		{"dev", true},
		{"1.2.4-SNAPSHOT.abc1234", true},
		{"1.2.3", false},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			withVersion(t, tt.version, "unknown")
			assert.Equal(t, tt.want, IsSnapshot())
		})
	}
}

func TestInfoJSON(t *testing.T) {
	withVersion(t, "2.0.0", "unknown")
	data, err := json.Marshal(GetInfo())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "2.0.0", decoded["version"])
	assert.Equal(t, false, decoded["snapshot"])
	assert.Contains(t, decoded, "go_version")
}

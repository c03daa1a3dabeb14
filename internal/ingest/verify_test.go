package ingest

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/asticode/go-astits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/hlsforge/internal/models"
	"github.com/jmylchreest/hlsforge/internal/storage"
	"github.com/jmylchreest/hlsforge/internal/testutil"
)

func newVerifyFixture(t *testing.T) (*Verifier, *storage.Sandbox, string, string) {
	t.Helper()
	sandbox, err := storage.NewSandbox(t.TempDir())
	require.NoError(t, err)
	id := models.NewStreamID()
	dir, err := sandbox.CreateWorkDir(id)
	require.NoError(t, err)
	return NewVerifier(sandbox, "index.m3u8"), sandbox, id, dir
}

func TestVerify_ValidArtifacts(t *testing.T) {
	v, _, id, dir := newVerifyFixture(t)
	testutil.WriteHLSArtifacts(t, dir, "index.m3u8", "001.ts", "002.ts", "003.ts")

	arts, err := v.Verify(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, arts.Segments, 3)
	assert.Equal(t, 6*time.Second, arts.Duration)
	assert.Equal(t, []string{"h264", "aac"}, arts.Codecs)
	assert.Equal(t, filepath.Join(dir, "001.ts"), arts.Segments[0])
}

func TestVerify_SegmentURIWithBaseURL(t *testing.T) {
	v, _, id, dir := newVerifyFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001.ts"), []byte("seg"), 0o600))
	playlist := "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:2\n#EXTINF:2.000000,\n" +
		"https://cdn.example.com/segment/" + id + "/001.ts\n#EXT-X-ENDLIST\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.m3u8"), []byte(playlist), 0o600))

	arts, err := v.Verify(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, arts.Segments, 1)
	assert.Empty(t, arts.Codecs, "non-TS segment is not probed")
}

func TestVerify_Failures(t *testing.T) {
	tests := []struct {
		name     string
		playlist string
		segments []string
		wantErr  string
	}{
		{
			name:    "missing playlist",
			wantErr: "reading playlist",
		},
		{
			name:     "garbage playlist",
			playlist: "not a playlist",
			wantErr:  "parsing playlist",
		},
		{
			name:     "missing segment",
			playlist: "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:2\n#EXTINF:2.0,\n001.ts\n#EXT-X-ENDLIST\n",
			wantErr:  "001.ts",
		},
		{
			name: "multivariant playlist",
			playlist: "#EXTM3U\n#EXT-X-VERSION:3\n" +
				"#EXT-X-STREAM-INF:BANDWIDTH=1000000,CODECS=\"avc1.640028\"\nlow.m3u8\n",
			wantErr: "playlist",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _, id, dir := newVerifyFixture(t)
			if tt.playlist != "" {
				require.NoError(t, os.WriteFile(filepath.Join(dir, "index.m3u8"), []byte(tt.playlist), 0o600))
			}
			_, err := v.Verify(context.Background(), id)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestProbeCodecs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg.ts")
	seg := testutil.TSSegment(t, astits.StreamTypeH265Video, astits.StreamTypeAC3Audio)
	require.NoError(t, os.WriteFile(path, seg, 0o600))

	codecs, err := ProbeCodecs(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"hevc", "ac3"}, codecs)
}

func TestProbeCodecs_TablesOnlySegment(t *testing.T) {
	seg := testutil.TSSegment(t, astits.StreamTypeH264Video, astits.StreamTypeADTS)
	require.Len(t, seg, 2*astits.MpegTsPacketSize, "PAT and PMT only")
	path := filepath.Join(t.TempDir(), "seg.ts")
	require.NoError(t, os.WriteFile(path, seg, 0o600))

	codecs, err := ProbeCodecs(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"h264", "aac"}, codecs)
}

func TestProbeCodecs_TablesPastProbeWindow(t *testing.T) {
	tables := testutil.TSSegment(t, astits.StreamTypeH264Video)
	// Null packets ahead of the tables push them beyond the probe window.
	null := make([]byte, astits.MpegTsPacketSize)
	null[0], null[1], null[2], null[3] = 0x47, 0x1f, 0xff, 0x10
	seg := append(bytes.Repeat(null, maxProbePackets), tables...)
	path := filepath.Join(t.TempDir(), "seg.ts")
	require.NoError(t, os.WriteFile(path, seg, 0o600))

	_, err := ProbeCodecs(context.Background(), path)
	assert.Error(t, err)
}

func TestProbeCodecs_NotTS(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg.ts")
	require.NoError(t, os.WriteFile(path, []byte("definitely not mpeg-ts"), 0o600))

	_, err := ProbeCodecs(context.Background(), path)
	assert.Error(t, err)
}

func TestStreamTypeName(t *testing.T) {
	assert.Equal(t, "h264", streamTypeName(astits.StreamTypeH264Video))
	assert.Equal(t, "mpeg2video", streamTypeName(astits.StreamTypeMPEG2Video))
	assert.Equal(t, "0x06", streamTypeName(astits.StreamType(0x06)))
}

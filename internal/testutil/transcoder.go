package testutil

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/asticode/go-astits"
	"github.com/stretchr/testify/require"
)

// SkipWithoutShell skips tests that rely on /bin/sh stub transcoders.
func SkipWithoutShell(t testing.TB) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub transcoders need /bin/sh")
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("stub transcoders need /bin/sh")
	}
}

// WriteStubTranscoder writes an executable shell script with body into a
// temp directory and returns its path. The script runs with the working
// directory of the spawned process.
func WriteStubTranscoder(t testing.TB, body string) string {
	t.Helper()
	SkipWithoutShell(t)

	path := filepath.Join(t.TempDir(), "ffmpeg-stub.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755)) //nolint:gosec // must be executable
	return path
}

// Scripts for common stub behaviours. Each reads the whole of stdin so the
// feeder can finish.
const (
	// SuccessScript consumes input, writes two segments and a playlist, and
	// reports the first segment and progress=end like ffmpeg does.
	SuccessScript = `cat > input.bin
echo "[hls @ 0x1] Opening '001.ts' for writing" >&2
echo "segment one" > 001.ts
echo "segment two" > 002.ts
cat > index.m3u8 <<'EOF'
#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:2
#EXT-X-MEDIA-SEQUENCE:1
#EXTINF:2.000000,
001.ts
#EXTINF:1.500000,
002.ts
#EXT-X-ENDLIST
EOF
echo "frame=10"
echo "progress=end"
exit 0`

	// FailAfterSegmentsScript writes two segments then exits non-zero.
	FailAfterSegmentsScript = `cat > /dev/null
echo "[hls @ 0x1] Opening '001.ts' for writing" >&2
echo "seg" > 001.ts
echo "seg" > 002.ts
echo "conversion failed" >&2
exit 1`

	// EarlyReadyScript announces the first segment before reading stdin,
	// as ffmpeg does partway through a long upload.
	EarlyReadyScript = `echo "[hls @ 0x1] Opening '001.ts' for writing" >&2
` + SuccessScript

	// NoisyScript writes more than a pipe buffer to stderr and stdout
	// before reading stdin, then behaves like SuccessScript.
	NoisyScript = `i=0
while [ $i -lt 4096 ]; do
  echo "diagnostic line $i padding padding padding padding padding padding" >&2
  echo "out_time_us=$i"
  i=$((i+1))
done
` + SuccessScript
)

// TSSegment returns a minimal MPEG-TS segment carrying PAT and PMT tables
// that declare the given stream types.
func TSSegment(t testing.TB, types ...astits.StreamType) []byte {
	t.Helper()

	var buf bytes.Buffer
	mx := astits.NewMuxer(context.Background(), &buf)
	for i, st := range types {
		pid := uint16(256 + i) //nolint:gosec // small index
		require.NoError(t, mx.AddElementaryStream(astits.PMTElementaryStream{
			ElementaryPID: pid,
			StreamType:    st,
		}))
		if i == 0 {
			mx.SetPCRPID(pid)
		}
	}
	_, err := mx.WriteTables()
	require.NoError(t, err)
	return buf.Bytes()
}

// WriteHLSArtifacts writes a playlist referencing segments, each containing
// an H.264 + AAC table set, into dir.
func WriteHLSArtifacts(t testing.TB, dir, playlist string, segments ...string) {
	t.Helper()

	seg := TSSegment(t, astits.StreamTypeH264Video, astits.StreamTypeADTS)
	var pl bytes.Buffer
	pl.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:2\n#EXT-X-MEDIA-SEQUENCE:1\n")
	for _, name := range segments {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), seg, 0o600))
		pl.WriteString("#EXTINF:2.000000,\n" + name + "\n")
	}
	pl.WriteString("#EXT-X-ENDLIST\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, playlist), pl.Bytes(), 0o600))
}

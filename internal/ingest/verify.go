package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"slices"
	"time"

	"github.com/asticode/go-astits"
	"github.com/bluenviron/gohlslib/v2/pkg/playlist"

	"github.com/jmylchreest/hlsforge/internal/storage"
)

// maxProbePackets bounds how far into a segment the codec probe reads.
const maxProbePackets = 2048

// Artifacts describes the HLS output found in a working directory.
type Artifacts struct {
	Playlist string
	Segments []string
	Duration time.Duration
	// Codecs lists elementary stream types found in the first segment. It
	// is empty when the segment could not be probed.
	Codecs []string
}

// Verifier checks that a finished transcode produced a usable playlist.
type Verifier struct {
	sandbox  *storage.Sandbox
	playlist string
}

// NewVerifier returns a verifier for playlists named playlistName.
func NewVerifier(sandbox *storage.Sandbox, playlistName string) *Verifier {
	return &Verifier{sandbox: sandbox, playlist: playlistName}
}

// Verify parses the playlist of stream id and checks that it lists at least
// one segment and every listed segment exists.
func (v *Verifier) Verify(ctx context.Context, id string) (*Artifacts, error) {
	plPath, err := v.sandbox.ResolveFile(id, v.playlist)
	if err != nil {
		return nil, fmt.Errorf("resolving playlist: %w", err)
	}
	data, err := os.ReadFile(plPath)
	if err != nil {
		return nil, fmt.Errorf("reading playlist: %w", err)
	}

	media, err := parseMediaPlaylist(data)
	if err != nil {
		return nil, err
	}
	if len(media.Segments) == 0 {
		return nil, errors.New("playlist has no segments")
	}

	arts := &Artifacts{Playlist: plPath}
	for _, seg := range media.Segments {
		if seg == nil {
			continue
		}
		// URIs carry the public base URL; the file is the last element.
		name := path.Base(seg.URI)
		segPath, err := v.sandbox.ResolveFile(id, name)
		if err != nil {
			return nil, fmt.Errorf("resolving segment %q: %w", seg.URI, err)
		}
		if _, err := os.Stat(segPath); err != nil {
			return nil, fmt.Errorf("segment %q: %w", name, err)
		}
		arts.Segments = append(arts.Segments, segPath)
		arts.Duration += seg.Duration
	}
	if len(arts.Segments) == 0 {
		return nil, errors.New("playlist has no segments")
	}

	if codecs, err := ProbeCodecs(ctx, arts.Segments[0]); err == nil {
		arts.Codecs = codecs
	}

	return arts, nil
}

func parseMediaPlaylist(data []byte) (*playlist.Media, error) {
	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("parsing playlist: %w", err)
	}
	media, ok := pl.(*playlist.Media)
	if !ok {
		return nil, errors.New("expected media playlist, got multivariant")
	}
	return media, nil
}

// ProbeCodecs reads the PMT of an MPEG-TS file and returns the names of its
// elementary streams in PID order of declaration.
func ProbeCodecs(ctx context.Context, segmentPath string) ([]string, error) {
	f, err := os.Open(segmentPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Packet size detection on an unseekable reader consumes the PAT, so the
	// size is fixed and the bounded reader stays seekable.
	dmx := astits.NewDemuxer(ctx,
		io.NewSectionReader(f, 0, maxProbePackets*astits.MpegTsPacketSize),
		astits.DemuxerOptPacketSize(astits.MpegTsPacketSize),
	)
	for {
		d, err := dmx.NextData()
		if err != nil {
			if errors.Is(err, astits.ErrNoMorePackets) || errors.Is(err, io.EOF) {
				return nil, errors.New("no program map table found")
			}
			return nil, fmt.Errorf("demuxing segment: %w", err)
		}
		if d.PMT == nil {
			continue
		}

		var codecs []string
		for _, es := range d.PMT.ElementaryStreams {
			name := streamTypeName(es.StreamType)
			if !slices.Contains(codecs, name) {
				codecs = append(codecs, name)
			}
		}
		return codecs, nil
	}
}

func streamTypeName(t astits.StreamType) string {
	switch t {
	case astits.StreamTypeH264Video:
		return "h264"
	case astits.StreamTypeH265Video:
		return "hevc"
	case astits.StreamTypeMPEG2Video:
		return "mpeg2video"
	case astits.StreamTypeMPEG1Video:
		return "mpeg1video"
	case astits.StreamTypeADTS:
		return "aac"
	case astits.StreamTypeAC3Audio:
		return "ac3"
	case astits.StreamTypeEAC3Audio:
		return "eac3"
	case astits.StreamTypeMPEG1Audio:
		return "mp2"
	default:
		return fmt.Sprintf("0x%02x", uint8(t))
	}
}

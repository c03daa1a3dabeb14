package ffmpeg

import (
	"fmt"
	"strconv"
)

// StdinInput is the input URL that makes ffmpeg read from its standard input.
const StdinInput = "pipe:0"

// StartNumber is the index of the first segment written.
const StartNumber = 1

// HLSOptions holds the per-session parameters for an HLS transcode.
type HLSOptions struct {
	VideoCodec string
	// SegmentTime is the target segment duration in seconds.
	SegmentTime int
	// SegmentPattern is a printf pattern for segment file names, e.g. "%03d.ts".
	SegmentPattern string
	// BaseURL is prepended to every segment URI in the playlist.
	BaseURL string
	// Playlist is the playlist file name written into the working directory.
	Playlist string
	// ExtraArgs are appended after the codec, before the playlist output.
	ExtraArgs []string
}

// FirstSegmentName returns the file name of the first segment the pattern produces.
func (o HLSOptions) FirstSegmentName() string {
	return fmt.Sprintf(o.SegmentPattern, StartNumber)
}

// CommandBuilder assembles an ffmpeg argument list. Arguments are grouped into
// global, input and output sections and emitted in that order.
type CommandBuilder struct {
	globalArgs []string
	inputArgs  []string
	input      string
	outputArgs []string
	output     string
}

// NewCommandBuilder returns an empty builder.
func NewCommandBuilder() *CommandBuilder {
	return &CommandBuilder{}
}

// Progress writes machine-readable key=value progress to target ("-" for stdout).
func (b *CommandBuilder) Progress(target string) *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-progress", target)
	return b
}

// Stats enables periodic encoding statistics on stderr.
func (b *CommandBuilder) Stats() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-stats")
	return b
}

// InputArgs adds arguments placed before -i.
func (b *CommandBuilder) InputArgs(args ...string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, args...)
	return b
}

// Input sets the input URL.
func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.input = input
	return b
}

// ForceKeyFrames forces a key frame every interval seconds so segments cut cleanly.
func (b *CommandBuilder) ForceKeyFrames(interval int) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%d)", interval))
	return b
}

// HLS adds the HLS muxer options for an event-style playlist that keeps every segment.
func (b *CommandBuilder) HLS(opts HLSOptions) *CommandBuilder {
	b.outputArgs = append(b.outputArgs,
		"-hls_time", strconv.Itoa(opts.SegmentTime),
		"-live_start_index", "0",
		"-hls_list_size", "0",
		"-tune", "zerolatency",
		"-hls_flags", "independent_segments",
		"-start_number", strconv.Itoa(StartNumber),
		"-hls_segment_filename", opts.SegmentPattern,
		"-hls_base_url", opts.BaseURL,
		"-f", "hls",
	)
	return b
}

// VideoCodec sets the video encoder.
func (b *CommandBuilder) VideoCodec(codec string) *CommandBuilder {
	if codec != "" {
		b.outputArgs = append(b.outputArgs, "-c:v", codec)
	}
	return b
}

// OutputArgs adds arguments placed after the input and before the output.
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

// Output sets the output path.
func (b *CommandBuilder) Output(output string) *CommandBuilder {
	b.output = output
	return b
}

// Args returns the assembled argument list, excluding the binary.
func (b *CommandBuilder) Args() []string {
	args := make([]string, 0, len(b.globalArgs)+len(b.inputArgs)+len(b.outputArgs)+4)
	args = append(args, b.globalArgs...)
	args = append(args, b.inputArgs...)
	if b.input != "" {
		args = append(args, "-i", b.input)
	}
	args = append(args, b.outputArgs...)
	if b.output != "" {
		args = append(args, b.output)
	}
	return args
}

// keyFrameInterval is the forced key frame spacing in seconds.
const keyFrameInterval = 3

// HLSArgs returns the full argument list for transcoding stdin into an HLS
// playlist in the process working directory.
func HLSArgs(opts HLSOptions) []string {
	return NewCommandBuilder().
		Progress("-").
		Stats().
		Input(StdinInput).
		ForceKeyFrames(keyFrameInterval).
		HLS(opts).
		VideoCodec(opts.VideoCodec).
		OutputArgs(opts.ExtraArgs...).
		Output(opts.Playlist).
		Args()
}

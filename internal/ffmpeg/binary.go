// Package ffmpeg resolves, configures and supervises the transcoder subprocess
// that turns an uploaded byte stream into an HLS playlist and segments.
package ffmpeg

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// DefaultBinaryName is the executable looked up when nothing is configured.
const DefaultBinaryName = "ffmpeg"

// BinaryEnvVar overrides the binary location when no path is configured.
const BinaryEnvVar = "HLSFORGE_FFMPEG_BINARY"

// ErrBinaryNotFound is returned when no usable transcoder binary exists.
var ErrBinaryNotFound = errors.New("ffmpeg binary not found")

// ResolveBinary returns the transcoder binary to execute.
// Search order:
//  1. configured (if non-empty; returned as-is so spawn reports the failure)
//  2. $HLSFORGE_FFMPEG_BINARY
//  3. ./ffmpeg (current directory, useful for development)
//  4. ffmpeg on PATH
func ResolveBinary(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	return FindBinary(DefaultBinaryName, BinaryEnvVar)
}

// FindBinary searches for an executable binary by name, checking envVar,
// the current directory and PATH in that order.
func FindBinary(name, envVar string) (string, error) {
	if envVar != "" {
		if envPath := os.Getenv(envVar); envPath != "" && isExecutable(envPath) {
			return envPath, nil
		}
	}

	if local := "./" + name; isExecutable(local) {
		return local, nil
	}

	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, name)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}

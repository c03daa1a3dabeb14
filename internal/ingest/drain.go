package ingest

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"
)

const (
	initialLineBuffer = 64 * 1024
	maxLineSize       = 1024 * 1024
	diagnosticTail    = 20
)

// LineHandler receives each line read by Drain. A non-nil error stops the drain.
type LineHandler func(line string) error

// Drain reads r line by line until EOF, calling handle for each line. Lines
// end at '\n' or '\r' so progress updates that overwrite themselves are seen
// individually. If line scanning fails (for example on an over-long line)
// the rest of r is discarded so the writer never blocks. A reader closed
// underneath Drain ends it without error.
func Drain(r io.Reader, handle LineHandler) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, initialLineBuffer), maxLineSize)
	scanner.Split(scanLinesWithCR)

	for scanner.Scan() {
		if err := handle(scanner.Text()); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		if isClosedPipe(err) {
			return nil
		}
		if _, err := io.Copy(io.Discard, r); err != nil && !isClosedPipe(err) {
			return newError(KindProcess, "drain output", err)
		}
	}
	return nil
}

func isClosedPipe(err error) bool {
	return errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

// scanLinesWithCR is a bufio.SplitFunc that splits on \r or \n. Runs of
// terminators are consumed together so no empty tokens are produced.
func scanLinesWithCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	for i := 0; i < len(data); i++ {
		if data[i] == '\r' || data[i] == '\n' {
			advance = i + 1
			for advance < len(data) && (data[advance] == '\r' || data[advance] == '\n') {
				advance++
			}
			return advance, data[0:i], nil
		}
	}

	if atEOF {
		return len(data), data, nil
	}

	return 0, nil, nil
}

// readinessMarkers returns the substrings that indicate the first segment
// is playable, given the first segment's file name.
func readinessMarkers(firstSegment string) []string {
	return []string{
		"progress=end",
		"Opening '" + firstSegment + "' for writing",
	}
}

// matchesAny reports whether line contains any of markers.
func matchesAny(line string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}

// lineTail keeps the last n lines written to it.
type lineTail struct {
	lines []string
	next  int
	full  bool
}

func newLineTail(n int) *lineTail {
	return &lineTail{lines: make([]string, n)}
}

func (t *lineTail) add(line string) {
	t.lines[t.next] = line
	t.next = (t.next + 1) % len(t.lines)
	if t.next == 0 {
		t.full = true
	}
}

// String returns the retained lines, oldest first, joined by newlines.
func (t *lineTail) String() string {
	if !t.full {
		return strings.Join(t.lines[:t.next], "\n")
	}
	out := make([]string, 0, len(t.lines))
	out = append(out, t.lines[t.next:]...)
	out = append(out, t.lines[:t.next]...)
	return strings.Join(out, "\n")
}

// Package ingest runs upload sessions: it feeds an inbound byte stream into a
// transcoder, drains the transcoder's output, persists the stream record
// once the first segment exists, and removes everything on failure.
package ingest

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies pipeline failures.
type Kind int

const (
	// KindInput covers bad request parameters and oversized payloads.
	KindInput Kind = iota + 1
	// KindTransport covers failures reading from the client.
	KindTransport
	// KindProcess covers spawn, pipe and exit failures of the transcoder.
	KindProcess
	// KindPersistence covers stream record and filesystem failures.
	KindPersistence
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindTransport:
		return "transport"
	case KindProcess:
		return "process"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

var (
	// ErrPayloadTooLarge indicates the upload exceeded the configured maximum.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrMissingParameter indicates a required upload parameter was absent.
	ErrMissingParameter = errors.New("missing parameter")
	// ErrInvalidParameter indicates an upload parameter could not be parsed.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrCapacity indicates the concurrent session limit was reached.
	ErrCapacity = errors.New("too many concurrent uploads")
)

// Error is a classified pipeline failure.
type Error struct {
	Kind      Kind
	Op        string
	SessionID string
	Dir       string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(" error")
	if e.Op != "" {
		b.WriteString(" during ")
		b.WriteString(e.Op)
	}
	if e.SessionID != "" {
		fmt.Fprintf(&b, " (session %s)", e.SessionID)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// withSession annotates err with session details. Errors that are not yet
// classified become process errors.
func withSession(err error, sessionID, dir string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if !errors.As(err, &e) {
		return &Error{Kind: KindProcess, SessionID: sessionID, Dir: dir, Err: err}
	}
	if e.SessionID == "" {
		e.SessionID = sessionID
	}
	if e.Dir == "" {
		e.Dir = dir
	}
	return err
}

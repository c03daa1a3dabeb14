package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
)

// Source is a finite, single-pass sequence of byte chunks. Next returns
// io.EOF after the last chunk. A returned chunk is only valid until the next
// call.
type Source interface {
	Next(ctx context.Context) ([]byte, error)
}

// Aborter is implemented by sources whose blocked reads can be interrupted
// from another goroutine.
type Aborter interface {
	Abort()
}

// BodySource reads an HTTP request body in fixed-size chunks.
type BodySource struct {
	r       io.Reader
	buf     []byte
	err     error
	onAbort func()
}

// NewBodySource returns a source over r using a chunkSize buffer.
func NewBodySource(r io.Reader, chunkSize int) *BodySource {
	return &BodySource{r: r, buf: make([]byte, chunkSize)}
}

// OnAbort registers fn to interrupt a blocked body read, for example by
// setting an immediate read deadline on the connection.
func (s *BodySource) OnAbort(fn func()) *BodySource {
	s.onAbort = fn
	return s
}

// Abort interrupts a blocked read.
func (s *BodySource) Abort() {
	if s.onAbort != nil {
		s.onAbort()
	}
}

// Next returns the next chunk of the body.
func (s *BodySource) Next(ctx context.Context) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for {
		n, err := s.r.Read(s.buf)
		if err != nil {
			s.err = classifyBodyError(err)
		}
		if n > 0 {
			return s.buf[:n], nil
		}
		if err != nil {
			return nil, s.err
		}
	}
}

func classifyBodyError(err error) error {
	if err == io.EOF {
		return io.EOF
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return newError(KindInput, "read body", fmt.Errorf("%w: limit is %d bytes", ErrPayloadTooLarge, maxErr.Limit))
	}
	return transportError("read body", err)
}

// transportError classifies a failed read. A connection that dropped in the
// middle of the input often surfaces as a wrapped io.EOF; it is reported as
// io.ErrUnexpectedEOF so it never reads as end of input.
func transportError(op string, err error) error {
	if errors.Is(err, io.EOF) {
		err = fmt.Errorf("%w: %v", io.ErrUnexpectedEOF, err)
	}
	return newError(KindTransport, op, err)
}

// AbortReason is the close reason sent when a websocket session aborts.
const AbortReason = "upload aborted"

// WebSocketSource yields binary websocket messages as chunks. A normal or
// going-away close from the client ends the sequence.
//
// Reads do not observe context cancellation directly: the websocket library
// answers a cancelled read with its own policy-violation close. Abort closes
// the connection with StatusInternalError instead, which also ends a pending
// read.
type WebSocketSource struct {
	conn      *websocket.Conn
	maxBytes  int64
	total     int64
	logger    *slog.Logger
	abortOnce sync.Once
}

// NewWebSocketSource returns a source over conn. maxBytes bounds the total
// received payload; 0 means unbounded.
func NewWebSocketSource(conn *websocket.Conn, maxBytes int64, logger *slog.Logger) *WebSocketSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketSource{conn: conn, maxBytes: maxBytes, logger: logger}
}

// Next returns the payload of the next binary message.
func (s *WebSocketSource) Next(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := s.conn.Read(context.WithoutCancel(ctx))
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil, io.EOF
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, transportError("read websocket", err)
		}

		if typ != websocket.MessageBinary {
			s.logger.Warn("ignoring non-binary websocket message", slog.Int("bytes", len(data)))
			continue
		}

		s.total += int64(len(data))
		if s.maxBytes > 0 && s.total > s.maxBytes {
			return nil, newError(KindInput, "read websocket", fmt.Errorf("%w: limit is %d bytes", ErrPayloadTooLarge, s.maxBytes))
		}
		if len(data) == 0 {
			continue
		}
		return data, nil
	}
}

// Abort closes the connection with StatusInternalError.
func (s *WebSocketSource) Abort() {
	s.abortOnce.Do(func() {
		go func() {
			if err := s.conn.Close(websocket.StatusInternalError, AbortReason); err != nil {
				s.logger.Debug("websocket close after abort", slog.Any("error", err))
			}
		}()
	})
}

// CountingSource counts the bytes handed out by the wrapped source.
type CountingSource struct {
	src Source
	n   atomic.Int64
}

// NewCountingSource wraps src.
func NewCountingSource(src Source) *CountingSource {
	return &CountingSource{src: src}
}

// Next forwards to the wrapped source.
func (c *CountingSource) Next(ctx context.Context) ([]byte, error) {
	chunk, err := c.src.Next(ctx)
	c.n.Add(int64(len(chunk)))
	return chunk, err
}

// Abort forwards to the wrapped source when it supports interruption.
func (c *CountingSource) Abort() {
	if a, ok := c.src.(Aborter); ok {
		a.Abort()
	}
}

// BytesRead returns the total number of bytes returned so far.
func (c *CountingSource) BytesRead() int64 {
	return c.n.Load()
}

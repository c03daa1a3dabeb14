package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/hlsforge/internal/config"
	"github.com/jmylchreest/hlsforge/internal/ingest"
)

// maxCloseReason is the longest close reason a websocket close frame carries.
const maxCloseReason = 123

// Uploader runs upload sessions. Implemented by *ingest.Orchestrator.
type Uploader interface {
	Acquire() (release func(), err error)
	RunAcquired(ctx context.Context, req ingest.Request) (*ingest.Result, error)
}

// UploadHandler accepts uploads over a raw HTTP body or a websocket.
type UploadHandler struct {
	uploader Uploader
	ingest   config.IngestConfig
	origins  []string
	logger   *slog.Logger
}

// NewUploadHandler creates a new upload handler. origins are the allowed
// websocket origins in the same form as server.cors_origins.
func NewUploadHandler(uploader Uploader, ingestCfg config.IngestConfig, origins []string) *UploadHandler {
	return &UploadHandler{
		uploader: uploader,
		ingest:   ingestCfg,
		origins:  origins,
		logger:   slog.Default(),
	}
}

// WithLogger sets the logger for the handler.
func (h *UploadHandler) WithLogger(logger *slog.Logger) *UploadHandler {
	h.logger = logger
	return h
}

// RegisterChiRoutes registers the upload routes. Uploads stream their body
// into the transcoder, so they bypass Huma's body handling.
func (h *UploadHandler) RegisterChiRoutes(r chi.Router) {
	r.Post("/upload", h.Upload)
	r.Get("/upload/ws", h.UploadWebSocket)
}

// StatusForError maps a pipeline error onto an HTTP status code.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, ingest.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ingest.ErrCapacity):
		return http.StatusServiceUnavailable
	case ingest.KindOf(err) == ingest.KindInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Upload handles POST /upload. The response is written once the transcoder
// has finished; its body is the new stream id.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	opts, err := ingest.ParseOptions(r.URL.Query())
	if err != nil {
		h.writeError(w, err)
		return
	}

	maxSize := int64(h.ingest.MaxUploadSize)
	if r.ContentLength < 0 && h.ingest.RequireContentLength {
		http.Error(w, "Content-Length header is required", http.StatusBadRequest)
		return
	}
	if r.ContentLength > maxSize {
		h.writeError(w, fmt.Errorf("%w: %d bytes declared, limit is %d", ingest.ErrPayloadTooLarge, r.ContentLength, maxSize))
		return
	}

	release, err := h.uploader.Acquire()
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer release()

	rc := http.NewResponseController(w)
	body := http.MaxBytesReader(w, r.Body, maxSize)
	src := ingest.NewBodySource(body, int(h.ingest.ChunkSize)).OnAbort(func() {
		// Unblocks a pending body read when the session aborts.
		_ = rc.SetReadDeadline(time.Now())
	})

	res, err := h.uploader.RunAcquired(r.Context(), ingest.Request{Options: opts, Source: src})
	if err != nil {
		w.Header().Set("Connection", "close")
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, res.ID)
}

// UploadWebSocket handles GET /upload/ws. Binary messages are the payload;
// a normal close from the client ends it. The stream id is sent as a text
// message as soon as the stream is ready to be served.
func (h *UploadHandler) UploadWebSocket(w http.ResponseWriter, r *http.Request) {
	opts, err := ingest.ParseOptions(r.URL.Query())
	if err != nil {
		h.writeError(w, err)
		return
	}

	release, err := h.uploader.Acquire()
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer release()

	conn, err := websocket.Accept(w, r, h.acceptOptions())
	if err != nil {
		// Accept has already written an error response.
		h.logger.WarnContext(r.Context(), "websocket upgrade failed", slog.Any("error", err))
		return
	}
	conn.SetReadLimit(int64(h.ingest.WSReadLimit))

	ctx := r.Context()
	src := ingest.NewWebSocketSource(conn, int64(h.ingest.MaxUploadSize), h.logger)
	req := ingest.Request{
		Options: opts,
		Source:  src,
		OnReady: func(ctx context.Context, id string) {
			if err := conn.Write(ctx, websocket.MessageText, []byte(id)); err != nil {
				h.logger.WarnContext(ctx, "failed to send stream id", slog.String("stream_id", id), slog.Any("error", err))
			}
		},
	}

	if _, err := h.uploader.RunAcquired(ctx, req); err != nil {
		_ = conn.Close(websocket.StatusInternalError, closeReason(err))
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func (h *UploadHandler) acceptOptions() *websocket.AcceptOptions {
	if len(h.origins) == 0 || slices.Contains(h.origins, "*") {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	patterns := make([]string, 0, len(h.origins))
	for _, o := range h.origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
		}
	}
	return &websocket.AcceptOptions{OriginPatterns: patterns}
}

func (h *UploadHandler) writeError(w http.ResponseWriter, err error) {
	status := StatusForError(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		msg = internalErrorMessage(err)
	}
	http.Error(w, msg, status)
}

// internalErrorMessage reports the failing step without internal paths.
func internalErrorMessage(err error) string {
	var ie *ingest.Error
	if errors.As(err, &ie) {
		if ie.SessionID != "" {
			return fmt.Sprintf("upload failed during %s (session %s)", ie.Op, ie.SessionID)
		}
		return fmt.Sprintf("upload failed during %s", ie.Op)
	}
	return "upload failed"
}

func closeReason(err error) string {
	reason := internalErrorMessage(err)
	if StatusForError(err) == http.StatusRequestEntityTooLarge {
		reason = "payload too large"
	}
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}
	return reason
}

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/hlsforge/internal/config"
	"github.com/jmylchreest/hlsforge/internal/models"
	"github.com/jmylchreest/hlsforge/internal/service"
)

// Media content types.
const (
	ContentTypePlaylist = "application/vnd.apple.mpegurl"
	ContentTypeSegment  = "video/mp2t"
)

// MediaHandler serves playlists and segments from stream working directories.
type MediaHandler struct {
	streams *service.StreamService
	logger  *slog.Logger
}

// NewMediaHandler creates a new media handler.
func NewMediaHandler(streams *service.StreamService) *MediaHandler {
	return &MediaHandler{streams: streams, logger: slog.Default()}
}

// WithLogger sets the logger for the handler.
func (h *MediaHandler) WithLogger(logger *slog.Logger) *MediaHandler {
	h.logger = logger
	return h
}

// RegisterFileServer registers the media routes.
// Routes:
//   - GET /stream/{id} - Serve the HLS playlist
//   - GET /segment/{id}/{segment} - Serve an MPEG-TS segment
func (h *MediaHandler) RegisterFileServer(router chi.Router) {
	router.Get("/"+config.StreamURLPathComponent+"/{id}", h.ServePlaylist)
	router.Head("/"+config.StreamURLPathComponent+"/{id}", h.ServePlaylist)
	router.Get("/"+config.SegmentURLPathComponent+"/{id}/{segment}", h.ServeSegment)
	router.Head("/"+config.SegmentURLPathComponent+"/{id}/{segment}", h.ServeSegment)
}

// ServePlaylist serves the playlist of a known stream.
func (h *MediaHandler) ServePlaylist(w http.ResponseWriter, r *http.Request) {
	path, err := h.streams.PlaylistPath(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.notFoundOrError(w, r, err, "playlist not found")
		return
	}

	w.Header().Set("Content-Type", ContentTypePlaylist)
	// The transcoder rewrites the playlist while an upload is running.
	w.Header().Set("Cache-Control", "no-cache")
	h.serveFile(w, r, path)
}

// ServeSegment serves one segment file.
func (h *MediaHandler) ServeSegment(w http.ResponseWriter, r *http.Request) {
	path, err := h.streams.SegmentPath(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "segment"))
	if err != nil {
		h.notFoundOrError(w, r, err, "segment not found")
		return
	}

	w.Header().Set("Content-Type", ContentTypeSegment)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	h.serveFile(w, r, path)
}

func (h *MediaHandler) serveFile(w http.ResponseWriter, r *http.Request, path string) {
	f, err := os.Open(path) //nolint:gosec // path resolved inside the sandbox
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		h.logger.ErrorContext(r.Context(), "failed to open media file", slog.String("path", path), slog.Any("error", err))
		http.Error(w, "failed to read media file", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "failed to read media file", http.StatusInternalServerError)
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (h *MediaHandler) notFoundOrError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	if errors.Is(err, models.ErrNotFound) {
		http.Error(w, msg, http.StatusNotFound)
		return
	}
	h.logger.ErrorContext(r.Context(), "failed to resolve media file", slog.Any("error", err))
	http.Error(w, "failed to resolve media file", http.StatusInternalServerError)
}

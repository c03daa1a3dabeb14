package middleware

import (
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// compressibleTypes are the response content types worth compressing.
// Segments are already compressed video and are left alone.
var compressibleTypes = []string{
	"text/html",
	"text/plain",
	"text/css",
	"application/json",
	"application/problem+json",
	"application/vnd.apple.mpegurl",
	"application/x-mpegurl",
	"application/yaml",
	"application/openapi+yaml",
}

// Compression returns a compression middleware offering brotli alongside
// chi's gzip and deflate encoders.
func Compression(level int) func(http.Handler) http.Handler {
	c := chimiddleware.NewCompressor(level, compressibleTypes...)
	c.SetEncoder("br", func(w io.Writer, level int) io.Writer {
		return brotli.NewWriterLevel(w, brotliLevel(level))
	})
	return c.Handler
}

// brotliLevel maps a gzip style level (1-9) onto brotli's 0-11 range.
func brotliLevel(level int) int {
	switch {
	case level < brotli.BestSpeed:
		return brotli.DefaultCompression
	case level > 9:
		return brotli.BestCompression
	default:
		return level
	}
}

// SkipCompression wraps a compression middleware so streaming endpoints
// bypass it. Uploads, websocket upgrades and SSE all need the raw writer.
func SkipCompression(compressionHandler func(http.Handler) http.Handler, streamingPrefixes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressedHandler := compressionHandler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isStreaming(r, streamingPrefixes) {
				next.ServeHTTP(w, r)
				return
			}
			compressedHandler.ServeHTTP(w, r)
		})
	}
}

func isStreaming(r *http.Request, prefixes []string) bool {
	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		return true
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(r.URL.Path, p) {
			return true
		}
	}
	return false
}

package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/jmylchreest/hlsforge/internal/observability"
)

// Recovery turns a handler panic into a logged error and, when nothing has
// been sent yet, a 500 response. http.ErrAbortHandler is re-raised so the
// server aborts the connection as usual.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	logger = observability.WithComponent(logger, "http")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := wrapResponseWriter(w)
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				err, ok := rec.(error)
				if !ok {
					err = fmt.Errorf("panic: %v", rec)
				}
				log := observability.WithRequestID(observability.WithError(logger, err),
					observability.RequestIDFromContext(r.Context()))
				log.ErrorContext(r.Context(), "panic recovered",
					slog.String("stack", string(debug.Stack())),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Bool("response_started", rw.wroteHeader || rw.hijacked),
				)

				// A partial response or upgraded connection cannot carry a status.
				if rw.wroteHeader || rw.hijacked {
					return
				}
				http.Error(rw, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()

			next.ServeHTTP(rw, r)
		})
	}
}

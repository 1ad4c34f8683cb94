package web

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	tlerrs "github.com/trendlens/trendlens/internal/errors"
	"github.com/trendlens/trendlens/logger"
)

// recoverMiddleware turns a panicking handler into a 500 envelope instead
// of a dropped connection.
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}

			slog.ErrorContext(r.Context(), "panic while serving request",
				"panic", rec,
				"path", r.URL.Path,
				"stack", string(debug.Stack()),
			)
			if err := WriteJSON(w, http.StatusInternalServerError, tlerrs.E("internal server error")); err != nil {
				slog.ErrorContext(r.Context(), "error writing panic response", "err", err)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// accessLogMiddleware logs every request, and tags the request's context
// with an id so later log lines correlate.
func (s *Server) accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logger.Ctx(r.Context(), slog.String("request_id", uuid.NewString()))
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "request received", "method", r.Method, "path", r.URL.Path)
		start := time.Now()

		writer := newRespCodeWriter(w)
		next.ServeHTTP(writer, r)

		slog.InfoContext(ctx, "request completed",
			"method", r.Method,
			"url", r.URL.String(),
			"duration", time.Since(start),
			"status_code", writer.code,
		)
	})
}

// metricsMiddleware observes request counts and latency by route template,
// so /reports/{reportID} is one series rather than one per id.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		writer := newRespCodeWriter(w)
		next.ServeHTTP(writer, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		s.metrics.RecordHTTP(route, writer.code, time.Since(start))
	})
}

// rateLimitMiddleware applies the general per-session limit to the api
// surface. Analyze has its own, stricter limit inside the handler.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ident(r).SessionID
		if key == "" {
			key = r.RemoteAddr
		}

		if !s.limits.Allow(key) {
			w.Header().Set("Retry-After", "60")
			if err := WriteJSON(w, http.StatusTooManyRequests, tlerrs.E(http.StatusTooManyRequests, "too many requests")); err != nil {
				slog.ErrorContext(r.Context(), "error writing rate limit response", "err", err)
			}
			return
		}

		next.ServeHTTP(w, r)
	})
}

// respCodeWriter traps the response status code for logging and metrics.
type respCodeWriter struct {
	http.ResponseWriter
	code int
}

func newRespCodeWriter(w http.ResponseWriter) *respCodeWriter {
	// Handlers that never call WriteHeader implicitly answer 200.
	return &respCodeWriter{ResponseWriter: w, code: http.StatusOK}
}

func (w *respCodeWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps event streams working through the wrapper.
func (w *respCodeWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

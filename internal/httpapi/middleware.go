package httpapi

import (
	"net/http"
	"time"

	"matchcore/internal/apperr"

	"github.com/rs/zerolog/log"
)

var errUnauthorized = apperr.New(apperr.Unauthorized, "missing or invalid API key")

// loggingMiddleware logs each request's method, path, status, and latency,
// echoing the teacher's per-connection logging style from its TCP server.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("latency", time.Since(start)).
			Msg("http request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// apiKeyMiddleware rejects requests missing the configured API key, per
// spec.md §7's authentication requirement. An empty expected key disables
// the check (useful for local development).
func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if expected == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}
			if r.Header.Get("X-API-Key") != expected {
				writeError(w, errUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

package httpapi

import (
	"context"
	"net/http"
	"time"

	"matchcore/internal/engine"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

const shutdownGrace = 5 * time.Second

// Server wraps the gorilla/mux router with the lifecycle shape the
// teacher's TCP Server uses: Run blocks until ctx is cancelled, then drains
// in-flight requests before returning.
type Server struct {
	addr       string
	httpServer *http.Server
}

// NewServer builds a Server exposing eng's operations over HTTP, guarded by
// apiKey (empty disables the check).
func NewServer(addr, apiKey string, eng *engine.MatchingEngine) *Server {
	router := mux.NewRouter()
	NewHandler(eng).Register(router)

	handler := loggingMiddleware(apiKeyMiddleware(apiKey)(router))

	return &Server{
		addr: addr,
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Run starts the HTTP listener and blocks until ctx is cancelled, at which
// point it shuts down gracefully within shutdownGrace.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.addr).Msg("http server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

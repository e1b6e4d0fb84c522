// Package server runs the HTTP listener that serves health checks and, in
// webhook mode, receives Telegram updates.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Option mounts routes or middleware on the router.
type Option = func(*chi.Mux)

// Server is a thin wrapper over chi and the stdlib http.Server.
type Server struct {
	addr string
	mux  *chi.Mux
	srv  *http.Server
	log  *slog.Logger
}

// NewServer creates a server listening on addr with a health endpoint.
// opts receive the *chi.Mux so callers can mount more routes.
func NewServer(addr string, logger *slog.Logger, opts ...Option) *Server {
	m := chi.NewRouter()
	m.Use(middleware.Recoverer)
	m.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	for _, o := range opts {
		o(m)
	}

	return &Server{
		addr: addr,
		mux:  m,
		log:  logger.With("component", "http_server"),
		srv: &http.Server{
			Addr:              addr,
			Handler:           m,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// WithWebhook mounts handler at POST /<path>.
func WithWebhook(path string, handler http.Handler) Option {
	return func(m *chi.Mux) {
		m.Method(http.MethodPost, "/"+path, handler)
	}
}

// Addr returns the listening address.
func (s *Server) Addr() string { return s.addr }

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server listening", "addr", s.addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.log.Error("HTTP server shutdown failed", "error", err)
		return err
	}
	s.log.Info("HTTP server stopped")
	return nil
}

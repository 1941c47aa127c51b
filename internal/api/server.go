package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/leadscore/internal/config"
	"github.com/ignite/leadscore/internal/pkg/logger"
)

// Server represents the API server
type Server struct {
	config config.ServerConfig
	router *chi.Mux
	server *http.Server
}

// NewServer wires the handlers and health checker into a router.
func NewServer(cfg config.ServerConfig, h *Handlers, hc *HealthChecker) *Server {
	router := SetupRoutes(h, hc, cfg.CORSOrigins)
	return &Server{
		config: cfg,
		router: router,
		server: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      2 * time.Minute,
			IdleTimeout:       2 * time.Minute,
		},
	}
}

// Start listens until Shutdown is called. It returns nil on a clean shutdown.
func (s *Server) Start() error {
	logger.Info("api server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.router
}

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/solboot/service/config"
	"github.com/brojonat/solboot/service/db"
	"github.com/brojonat/solboot/service/metrics"
	"github.com/brojonat/solboot/service/temporal"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AttemptStore defines the ledger operations the HTTP surface needs.
// This allows for easy mocking in tests.
type AttemptStore interface {
	GetAttemptBySignature(ctx context.Context, signature string) (*db.Attempt, error)
	ListAttempts(ctx context.Context, params db.ListAttemptsParams) ([]*db.Attempt, error)
	ListAttemptsByProgram(ctx context.Context, programID, network string, limit int32) ([]*db.Attempt, error)
}

// BootstrapStarter defines the workflow operations the HTTP surface needs.
// This allows for easy mocking in tests.
type BootstrapStarter interface {
	StartBootstrap(ctx context.Context, input temporal.BootstrapInput) (string, string, error)
	RunBootstrap(ctx context.Context, input temporal.BootstrapInput) (*temporal.BootstrapResult, error)
}

// Server represents the HTTP server for the bootstrap service.
type Server struct {
	addr    string
	cfg     *config.Config
	store   AttemptStore
	starter BootstrapStarter
	metrics *metrics.Metrics
	logger  *slog.Logger
	server  *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The starter is used to run bootstrap workflows.
// The metrics is optional - if nil, the /metrics endpoint is still served
// but no request metrics are recorded.
func New(addr string, cfg *config.Config, store AttemptStore, starter BootstrapStarter, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:    addr,
		cfg:     cfg,
		store:   store,
		starter: starter,
		metrics: m,
		logger:  logger,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.Handle("POST /api/v1/bootstraps", s.instrument("/api/v1/bootstraps",
		handleStartBootstrap(s.starter, s.cfg, s.logger)))
	mux.Handle("GET /api/v1/bootstraps/{signature}", s.instrument("/api/v1/bootstraps/{signature}",
		handleGetBootstrap(s.store, s.logger)))
	mux.Handle("GET /api/v1/bootstraps", s.instrument("/api/v1/bootstraps",
		handleListBootstraps(s.store, s.logger)))

	mux.Handle("GET /healthz", handleHealth())
	mux.Handle("GET /metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) instrument(pattern string, next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return s.metrics.HTTPMiddleware(pattern, next)
}

func handleHealth() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
	})
}

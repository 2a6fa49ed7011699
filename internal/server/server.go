// Package server exposes the HTTP API: uploads, status queries, server-sent
// status streams, cancellation, history, and result downloads.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"upres/internal/config"
	"upres/internal/history"
	"upres/internal/jobs"
	"upres/internal/logging"
	"upres/internal/services/realesrgan"
)

// Processor runs one job to a terminal state. Implemented by the pipeline
// orchestrator.
type Processor interface {
	Process(ctx context.Context, jobID string)
}

// Option configures the server.
type Option func(*Server)

// WithEnhancer provides the upscaler client used by the model listing.
func WithEnhancer(client realesrgan.Client) Option {
	return func(s *Server) {
		s.enhancer = client
	}
}

// WithHistory attaches the finished-job ledger.
func WithHistory(store *history.Store) Option {
	return func(s *Server) {
		s.history = store
	}
}

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logging.NewComponentLogger(logger, "server")
		}
	}
}

// Server wires the HTTP API around the job registry and pipeline.
type Server struct {
	cfg       *config.Config
	registry  *jobs.Registry
	processor Processor
	enhancer  realesrgan.Client
	history   *history.Store
	logger    *slog.Logger

	httpServer *http.Server
}

// New constructs the server. The processor is invoked in a fresh goroutine
// per accepted upload.
func New(cfg *config.Config, registry *jobs.Registry, processor Processor, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		registry:  registry,
		processor: processor,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Paths.APIBind,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving the API until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("api listening", logging.String("bind", s.cfg.Paths.APIBind))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

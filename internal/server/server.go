// Package server provides the HTTP API for kanren.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kanren/internal/config"
	"github.com/hyperjump/kanren/internal/indexer"
)

// requestTimeout bounds every request except vault sweeps.
const requestTimeout = 60 * time.Second

// Server is the HTTP server for the kanren API.
type Server struct {
	indexer *indexer.Indexer
	config  *config.Config
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(idx *indexer.Indexer, cfg *config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		indexer: idx,
		config:  cfg,
		logger:  logger,
	}
	s.server = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		r.Get("/health", s.handleHealth)
		r.Get("/api/v1/status", s.handleStatus)
		r.Post("/api/v1/related", s.handleRelated)
		r.Post("/api/v1/notes/rename", s.handleRenameNote)
		r.Put("/api/v1/notes/*", s.handleUpsertNote)
		r.Delete("/api/v1/notes/*", s.handleDeleteNote)
	})

	// Sweeps run for as long as the vault needs; a client disconnect stops
	// them after the current note.
	r.Post("/api/v1/sync", s.handleSync)
	r.Post("/api/v1/rebuild", s.handleRebuild)
	return r
}

// Start starts the HTTP server and blocks until it stops. After Stop it
// returns http.ErrServerClosed.
func (s *Server) Start() error {
	s.logger.Info("Starting server", zap.String("addr", s.server.Addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

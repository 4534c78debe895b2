// Package api serves the operation catalogue over REST-style HTTP routes and
// mounts the JSON-RPC endpoint next to them.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"peripheral/internal/auth"
	"peripheral/internal/config"
	"peripheral/internal/tools"
)

// Server represents the HTTP API server
type Server struct {
	router     *http.ServeMux
	server     *http.Server
	addr       string
	logger     *slog.Logger
	dispatcher *tools.Dispatcher
	gate       *auth.Gate
	rpc        http.Handler
	shedder    *LoadShedder
	routes     []route
}

// NewServer creates a new HTTP server instance. rpc, when not nil, is mounted
// at POST /mcp behind the same gate as every other route.
func NewServer(cfg config.ServerConfig, d *tools.Dispatcher, gate *auth.Gate, rpc http.Handler, logger *slog.Logger) *Server {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s := &Server{
		addr:       addr,
		logger:     logger,
		dispatcher: d,
		gate:       gate,
		rpc:        rpc,
		router:     http.NewServeMux(),
	}
	if cfg.MaxConcurrent > 0 {
		s.shedder = NewLoadShedder(DefaultLoadSheddingConfig(cfg.MaxConcurrent))
	}

	s.registerRoutes()

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.applyMiddleware(s.router, cfg.CORSOrigins),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server",
		"addr", s.addr,
		"mode", string(s.gate.Mode()),
		"tools", s.dispatcher.Catalogue().Len(),
	)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("Server shut down successfully")
	return nil
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.server.Handler.ServeHTTP(w, r)
}

// applyMiddleware wraps the handler with middleware in the correct order
func (s *Server) applyMiddleware(handler http.Handler, origins []string) http.Handler {
	// Apply middleware in reverse order (last one wraps first)
	handler = GateMiddleware(s.gate, s.logger, publicPaths...)(handler)
	handler = LoadSheddingMiddleware(s.shedder)(handler)
	handler = gzhttp.GzipHandler(handler)
	handler = CORSMiddleware(origins)(handler)
	handler = LoggingMiddleware(s.logger)(handler)
	handler = RequestIDMiddleware()(handler)
	handler = RecoveryMiddleware(s.logger)(handler)
	return handler
}

// Package server provides the admin HTTP read surface: enrichment provenance
// reporting, a health probe, and prometheus metrics. There is no session or
// auth layer; the listener is expected to stay internal.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tourforge/poi-catalogue/internal/db"
)

// Store is the database surface the server reads from.
type Store interface {
	ListRecentEnrichment(ctx context.Context, limit int, before *time.Time) (*db.EnrichmentPage, error)
	Ping(ctx context.Context) error
}

// Config holds server configuration.
type Config struct {
	// ListenAddr is the host:port to serve on.
	ListenAddr string
	// Store backs the provenance listing and the health probe.
	Store Store
	// Gatherer backs /metrics; nil means the default prometheus gatherer.
	Gatherer prometheus.Gatherer
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Server is the admin HTTP server.
type Server struct {
	httpServer *http.Server
	store      Store
	log        *slog.Logger
}

// New builds a server and its routes.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("server store is required")
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{store: cfg.Store, log: cfg.Logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/enrichment/provenance", s.handleListEnrichmentProvenance)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.withLogging(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Start serves until SIGINT/SIGTERM or a listener failure, then shuts down
// gracefully.
func (s *Server) Start() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("admin server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("admin server failed: %w", err)
	case <-stop:
	}

	s.log.Info("admin server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("admin server shutdown failed: %w", err)
	}
	return nil
}

// withLogging logs one line per request.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info("request served",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start).String())
	})
}

// jsonResponse writes a JSON response.
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("failed to encode JSON response", "error", err)
	}
}

// errorResponse writes an error JSON response.
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

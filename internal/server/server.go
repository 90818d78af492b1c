// Package server exposes the ingest orchestrator over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cleansight/analytics/internal/config"
	"github.com/cleansight/analytics/internal/ingest"
	"github.com/cleansight/analytics/internal/logging"
)

const maxBodyBytes = 8 << 20

// Server is the HTTP API.
type Server struct {
	orch   *ingest.Orchestrator
	cfg    config.Server
	logger *zap.Logger
	server *http.Server

	// cancelled on shutdown so open event streams end
	streams     context.Context
	stopStreams context.CancelFunc
}

// New wires the routes. cfg supplies listener timeouts.
func New(cfg config.Server, orch *ingest.Orchestrator, logger *zap.Logger) *Server {
	s := &Server{
		orch:   orch,
		cfg:    cfg,
		logger: logging.Component(logger, "api-server"),
	}
	s.streams, s.stopStreams = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("POST /ingest/session", s.handleIngest)
	mux.HandleFunc("GET /sessions/{id}", s.handleSession)
	mux.HandleFunc("GET /sessions/{id}/events", s.handleEvents)
	mux.HandleFunc("POST /similar", s.handleSimilar)
	mux.HandleFunc("POST /narrative/stream", s.handleNarrative)
	mux.HandleFunc("GET /health", s.handleHealth)

	// no WriteTimeout: event streams stay open for the narrative's lifetime
	s.server = &http.Server{
		Handler:           s.logRequests(mux),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	s.server.RegisterOnShutdown(s.stopStreams)
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errc := make(chan error, 1)
	go func() {
		errc <- s.server.Serve(ln)
	}()
	s.logger.Info("api server listening", zap.String("address", ln.Addr().String()))

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api serve: %w", err)
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	<-errc
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorBody{Error: message})
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

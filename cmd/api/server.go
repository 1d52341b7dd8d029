package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"zgDrop/pkg/config"
	"zgDrop/pkg/storage"
)

// Server is the relay: it accepts files over HTTP and hands them to the
// storage client.
type Server struct {
	server  *http.Server
	store   storage.Client
	config  *config.Config
	router  *http.ServeMux
	signer  string
	metrics *relayMetrics
	mu      sync.RWMutex
	started bool
}

// NewServer wires the relay routes. signer is the address receipts are
// signed with, reported by /api/health.
func NewServer(cfg *config.Config, store storage.Client, signer string) *Server {
	srv := &Server{
		store:   store,
		config:  cfg,
		router:  http.NewServeMux(),
		signer:  signer,
		metrics: newRelayMetrics(),
	}
	srv.registerRoutes()

	srv.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Relay.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Minute, // large uploads
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	return srv
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("GET /api/health", s.handleHealth)
	s.router.HandleFunc("POST /api/upload", s.handleUpload)
	s.router.HandleFunc("GET /api/download/{rootHash}", s.handleDownload)
	s.router.Handle("GET /metrics", s.metrics.handler())
}

// Handler is the full middleware chain, exposed for tests.
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.metrics.middleware(s.router))
}

func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.started = true
	s.mu.Unlock()

	logrus.Infof("Relay listening on :%d", s.config.Relay.Port)
	logrus.Info("  POST   /api/upload")
	logrus.Info("  GET    /api/download/{rootHash}")
	logrus.Info("  GET    /api/health")
	logrus.Info("  GET    /metrics")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	logrus.Info("Shutting down relay...")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}
	logrus.Info("Relay stopped")
	return nil
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Disposition")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

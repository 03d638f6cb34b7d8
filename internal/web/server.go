// Package web exposes a small status API over the dedup store plus a
// trigger to run a scan batch on demand.
package web

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/photo-courier/internal/scanner"
	"github.com/kozaktomas/photo-courier/internal/store"
)

// ScanFunc runs one scan batch. Injected so the server does not own
// sources or the recognition backend.
type ScanFunc func(ctx context.Context) (scanner.BatchResult, error)

// Server serves the status API.
type Server struct {
	st         store.Store
	scan       ScanFunc
	router     *chi.Mux
	httpServer *http.Server

	// scanning guards against overlapping triggered batches.
	scanning chan struct{}
}

// NewServer creates a server bound to host:port.
func NewServer(st store.Store, scan ScanFunc, host string, port int) *Server {
	r := chi.NewRouter()
	s := &Server{
		st:       st,
		scan:     scan,
		router:   r,
		scanning: make(chan struct{}, 1),
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(5 * time.Minute))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start() error {
	log.Printf("Starting web server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down web server...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/records", s.handleRecords)
		r.Get("/events", s.handleEvents)
		r.Post("/scan", s.handleScan)
	})
}

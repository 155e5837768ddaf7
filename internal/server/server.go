// Package server exposes the read-only admin API: route and backend views
// over the current snapshot, a health endpoint, and Prometheus metrics. It
// never mutates routing state.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"edge-router/internal/circuitbreaker"
	"edge-router/internal/routing"
)

// Server is the admin/ops HTTP server.
type Server struct {
	srv *http.Server
}

// New creates an admin server over the route table.
func New(addr string, table *routing.Table, breakers *circuitbreaker.Manager) *Server {
	h := &handlers{table: table, breakers: breakers}

	router := mux.NewRouter()
	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/routes", h.GetRoutes).Methods("GET")
	api.HandleFunc("/backends", h.GetBackends).Methods("GET")

	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Start begins serving in a goroutine. Listener failures other than a
// graceful shutdown are reported on errCh.
func (s *Server) Start(errCh chan<- error) {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/noisewatch/ingestd/internal/config"
	"github.com/noisewatch/ingestd/internal/errors"
	"github.com/noisewatch/ingestd/internal/logger"
	"github.com/noisewatch/ingestd/queue"
	"github.com/noisewatch/ingestd/store"
)

// Server wraps a Hub with the HTTP listener and the graceful shutdown
// sequence the ingress gateway binary runs.
type Server struct {
	hub        *Hub
	httpServer *http.Server
}

// NewServer builds a Hub and its HTTP server, with routes registered. The
// hub's event loop is started by Start.
func NewServer(cfg *config.Config, q queue.Store, mx queue.MetricsStore, ts store.TimeSeries) *Server {
	hub := NewHub(cfg, q, mx, ts)

	mux := http.NewServeMux()
	hub.RegisterRoutes(mux)

	return &Server{
		hub: hub,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Port),
			Handler: mux,
		},
	}
}

// Start runs the hub's event loop and blocks serving HTTP until the
// listener stops. Returns nil on a clean Stop.
func (s *Server) Start() error {
	go s.hub.Run()

	logger.Infow("gateway listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "gateway HTTP server")
	}
	return nil
}

// Stop drains device buffers, closes connections, and shuts the HTTP
// server down within shutdownTimeout.
func (s *Server) Stop() error {
	s.hub.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "gateway HTTP shutdown")
	}
	return nil
}

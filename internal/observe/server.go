package observe

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hearkenlabs/hearken/internal/health"
)

// Server exposes the Prometheus /metrics endpoint plus liveness and
// readiness probes. Watch mode starts one when metrics are enabled.
type Server struct {
	server *http.Server
	addr   string
}

// NewServer creates the observability HTTP server listening on addr.
// Readiness checks run on every /readyz request; with none given the
// endpoint reports ready unconditionally.
func NewServer(addr string, checks ...health.Checker) *Server {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())
	health.New(checks...).Register(mux)

	return &Server{
		addr: addr,
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		slog.Info("metrics server listening", "addr", s.addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "err", err)
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

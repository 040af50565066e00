// Package http provides the HTTP transport layer for the PawSync server.
//
// Routes (Go 1.22+ method-qualified patterns):
//
//	GET  /health
//	POST /v1/outbox/sync
//	GET  /v1/matches/{id}/messages
//	GET  /v1/matches/{id}/ws
//	GET  /metrics
//	GET  /api/stats
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/pawmatch/pawsync/internal/config"
	"github.com/pawmatch/pawsync/internal/exchange"
	"github.com/pawmatch/pawsync/internal/metrics"
	transportws "github.com/pawmatch/pawsync/internal/transport/websocket"
)

// Server wraps the stdlib HTTP server with PawSync route wiring.
type Server struct {
	inner *http.Server
}

// New builds a Server around the Exchange.
// The caller is responsible for calling ListenAndServe / Shutdown.
func New(ex *exchange.Exchange, cfg *config.Config, nodeID string, reg *metrics.Registry) *Server {
	h := &Handler{exchange: ex, nodeID: nodeID, reg: reg}
	ws := &transportws.Handler{Exchange: ex, Registry: reg}

	mux := http.NewServeMux()

	// Health
	mux.HandleFunc("GET /health", h.health)

	// Outbox sync
	mux.HandleFunc("POST /v1/outbox/sync", h.syncOutbox)

	// Match history
	mux.HandleFunc("GET /v1/matches/{id}/messages", h.matchMessages)

	// WebSocket push
	mux.Handle("GET /v1/matches/{id}/ws", ws)

	// Metrics (Prometheus text format)
	if reg != nil {
		mux.Handle("GET /metrics", reg.Handler())
	}

	// Stats API
	mux.HandleFunc("GET /api/stats", h.statsAPI)

	// Build middleware chain: CORS → body cap → logging → metrics → auth → rate-limit
	var handler http.Handler = mux
	handler = chain(handler,
		CORSMiddleware,
		MaxBodyMiddleware,
		LoggingMiddleware,
		MetricsMiddleware(reg),
		AuthMiddleware(cfg.Auth.APIKey, cfg.Auth.Enabled),
		RateLimitMiddleware(cfg.Limits.RateRPS, cfg.Limits.RateBurst),
	)

	return &Server{
		inner: &http.Server{
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Handler returns the composed http.Handler (useful for testing).
func (s *Server) Handler() http.Handler { return s.inner.Handler }

// ListenAndServe starts the server on the given address (e.g. ":8080").
// It returns when the server stops or encounters an error.
func (s *Server) ListenAndServe(addr string) error {
	s.inner.Addr = addr
	return s.inner.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting up to ctx's deadline for
// in-flight requests to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}

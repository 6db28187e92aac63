package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/lanternlabs/mintscan/service/config"
	"github.com/lanternlabs/mintscan/service/metrics"
	"github.com/lanternlabs/mintscan/service/mint"
	"github.com/lanternlabs/mintscan/service/solana"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP server for the mint indexing service.
type Server struct {
	addr     string
	cfg      *config.Config
	mints    *mint.Service
	verifier *solana.Verifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	server   *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The metrics collector is optional - if nil, the metrics endpoint and
// per-handler instrumentation are disabled.
func New(addr string, cfg *config.Config, mints *mint.Service, verifier *solana.Verifier, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:     addr,
		cfg:      cfg,
		mints:    mints,
		verifier: verifier,
		metrics:  m,
		logger:   logger,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	historyHandler := handleTokenMintHistory(s.mints, s.logger)
	verifyHandler := handleVerifyTransfer(s.verifier, s.cfg.VerifyMaxAge, s.logger)

	if s.metrics != nil {
		historyHandler = metrics.HTTPMetricsMiddleware(s.metrics, "/api/v1/tokens/{mint}/mint-history")(historyHandler)
		verifyHandler = metrics.HTTPMetricsMiddleware(s.metrics, "/api/v1/verify-transfer")(verifyHandler)
	}

	mux.Handle("GET /api/v1/tokens/{mint}/mint-history", historyHandler)
	mux.Handle("POST /api/v1/verify-transfer", verifyHandler)

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	handler := corsMiddleware(mux)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // a cold-start sync can take a while
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lanternlabs/mintscan/service/config"
	"github.com/lanternlabs/mintscan/service/db"
	"github.com/lanternlabs/mintscan/service/metrics"
	"github.com/lanternlabs/mintscan/service/mint"
	natspkg "github.com/lanternlabs/mintscan/service/nats"
	"github.com/lanternlabs/mintscan/service/server"
	"github.com/lanternlabs/mintscan/service/solana"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	// Verify database connection
	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	// Initialize database store
	store := db.NewStore(dbPool)

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Initialize Solana RPC client and the sync pipeline around it
	// Note: For premium RPC endpoints, include API key in the URL
	rpcClient := solana.NewRPCClient(cfg.SolanaRPCURL)
	pager := solana.NewSignaturePager(rpcClient, cfg.SolanaRPCURL, metricsCollector, logger)
	fetcher := solana.NewBatchFetcher(rpcClient, cfg.SolanaRPCURL, metricsCollector, logger)
	logger.Info("initialized solana RPC client", "url", cfg.SolanaRPCURL)

	authority, err := solanago.PublicKeyFromBase58(cfg.MintAuthority)
	if err != nil {
		logger.Error("invalid mint authority address", "address", cfg.MintAuthority, "error", err)
		os.Exit(1)
	}

	// Load read-time exclusion rules
	rules, err := mint.LoadExclusionRules(cfg.FilterRulesPath)
	if err != nil {
		logger.Error("failed to load exclusion rules", "path", cfg.FilterRulesPath, "error", err)
		os.Exit(1)
	}
	filter := mint.NewFilter(rules)
	logger.Info("loaded exclusion rules", "path", cfg.FilterRulesPath, "rules", len(rules))

	// Initialize NATS publisher. Event publishing is best-effort; a broker
	// outage at startup degrades to serving without events rather than
	// refusing to start.
	var publisher natspkg.Publisher
	jsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, logger)
	if err != nil {
		logger.Warn("failed to create NATS publisher, mint events disabled", "error", err)
	} else {
		publisher = jsPublisher
		defer jsPublisher.Close()
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	}

	// Initialize mint synchronizer and transfer verifier
	mints := mint.NewService(store, pager, fetcher, filter, publisher, authority, metricsCollector, logger)
	verifier := solana.NewVerifier(rpcClient, metricsCollector, logger)

	// Initialize HTTP server
	httpServer := server.New(cfg.ServerAddr, cfg, mints, verifier, metricsCollector, logger)

	logger.Info("server initialized, all dependencies ready",
		"solana_rpc", cfg.SolanaRPCURL,
		"mint_authority", cfg.MintAuthority,
		"nats_url", cfg.NATSURL,
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

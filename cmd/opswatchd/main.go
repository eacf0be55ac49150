package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/opswatch/opswatch/internal/analyzer"
	"github.com/opswatch/opswatch/internal/api"
	"github.com/opswatch/opswatch/internal/config"
	"github.com/opswatch/opswatch/internal/feed"
	"github.com/opswatch/opswatch/internal/metrics"
	natstransport "github.com/opswatch/opswatch/internal/nats"
	"github.com/opswatch/opswatch/internal/store"
	"github.com/opswatch/opswatch/internal/validate"
)

func main() {
	// Initialize logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting opswatch service")

	cfg := config.Load()
	logger.Info("Configuration loaded",
		"http_addr", cfg.HTTPAddr,
		"nats_url", cfg.NATSUrl,
		"postgres", cfg.PostgresDSN != "",
		"feed_dir", cfg.FeedDir,
		"schema_dir", cfg.SchemaDir,
		"max_records", cfg.MaxRecords,
		"dedupe_cap", cfg.DedupeCap,
		"window_limit", cfg.WindowLimit,
		"analyze_interval", cfg.AnalyzeInterval)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create metrics
	prometheusMetrics := metrics.NewMetrics()

	// Connect to NATS
	nc, err := nats.Connect(cfg.NATSUrl,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			prometheusMetrics.SetNatsConnected(false)
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			prometheusMetrics.SetNatsConnected(true)
			logger.Info("NATS reconnected")
		}),
	)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer nc.Close()
	prometheusMetrics.SetNatsConnected(true)

	logger.Info("Connected to NATS")

	// Select record store
	var recordStore store.Store
	if cfg.PostgresDSN != "" {
		pgStore, err := store.NewPostgresStore(cfg.PostgresDSN, logger)
		if err != nil {
			logger.Error("Failed to connect to Postgres", "error", err)
			os.Exit(1)
		}
		recordStore = pgStore
		logger.Info("Postgres store initialized")
	} else {
		recordStore = store.NewMemoryStore(cfg.MaxRecords, cfg.DedupeCap)
		logger.Info("Memory store initialized", "max_records", cfg.MaxRecords, "dedupe_cap", cfg.DedupeCap)
	}
	defer recordStore.Close()

	// Compile payload schemas
	validator, err := validate.NewSchemaValidator(cfg.SchemaDir, logger)
	if err != nil {
		logger.Error("Failed to load payload schemas", "error", err)
		os.Exit(1)
	}

	// Load indicator feeds
	feedLoader := feed.NewLoader(cfg.FeedDir, logger)
	if _, err := feedLoader.LoadSnapshot(); err != nil {
		logger.Error("Failed to load indicator feeds", "error", err)
		os.Exit(1)
	}

	// Create NATS subscriber and publisher
	subscriber := natstransport.NewSubscriber(nc, recordStore, validator, "opswatch", prometheusMetrics, logger)
	publisher, err := natstransport.NewPublisher(nc, cfg.CompressMinSize, logger)
	if err != nil {
		logger.Error("Failed to create publisher", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	// Create analyzer
	analysisLoop := analyzer.New(recordStore, feedLoader, publisher, prometheusMetrics, cfg.WindowLimit, cfg.AnalyzeInterval, logger)

	// Create HTTP API
	httpAPI := api.NewHTTPAPI(recordStore, feedLoader, validator, prometheusMetrics, nc, cfg.WindowLimit, logger)
	mux := http.NewServeMux()
	httpAPI.SetupRoutes(mux)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	// Start HTTP server
	go func() {
		logger.Info("Starting HTTP server", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	// Start NATS subscriber
	go func() {
		logger.Info("Starting NATS subscriber")
		if err := subscriber.Subscribe(ctx); err != nil {
			logger.Error("NATS subscriber error", "error", err)
		}
	}()

	// Start analyzer loop
	go analysisLoop.Run(ctx)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("opswatch service started successfully")
	<-sigChan

	logger.Info("Shutting down opswatch service...")

	// Cancel context to stop the subscriber and analyzer
	cancel()

	// Shutdown HTTP server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("opswatch service stopped")
}

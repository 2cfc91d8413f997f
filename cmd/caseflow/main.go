package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meridianfs/caseflow/internal/api"
	"github.com/meridianfs/caseflow/internal/assign"
	"github.com/meridianfs/caseflow/internal/config"
	"github.com/meridianfs/caseflow/internal/events"
	"github.com/meridianfs/caseflow/internal/identity"
	"github.com/meridianfs/caseflow/internal/intake"
	"github.com/meridianfs/caseflow/internal/metrics"
	"github.com/meridianfs/caseflow/internal/notify"
	"github.com/meridianfs/caseflow/internal/reaper"
	"github.com/meridianfs/caseflow/internal/store"
	"github.com/meridianfs/caseflow/internal/workflow"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := store.NewPostgresStore(ctx, cfg.Database.URL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to database")

	// Events (optional)
	var eventsClient events.Client
	if cfg.Events.URL != "" {
		ec, err := events.NewNATSClient(ctx, cfg.Events.URL, logger)
		if err != nil {
			logger.Warn("failed to connect to events broker, running without events", "error", err)
		} else {
			eventsClient = ec
			defer ec.Close()
			logger.Info("connected to events broker")
		}
	}

	// Reviewer directory
	var identityClient identity.Client
	if cfg.Identity.URL != "" {
		identityClient = identity.NewHTTPClient(cfg.Identity.URL, cfg.Identity.Token)
	}

	m := metrics.New()

	// Core services
	engine := assign.New(db, eventsClient, m, logger, cfg.Assignment.MaxBatchSize)
	notifier := notify.New(db, eventsClient, logger)
	wf := workflow.NewService(db, eventsClient, notifier, m, logger)
	in := intake.New(db, eventsClient, m, logger)

	if err := in.SetupSubscriptions(ctx); err != nil {
		logger.Warn("failed to subscribe to scoring results", "error", err)
	}

	// Stale-claim reaper
	r := reaper.New(db, eventsClient, m, logger, cfg.ClaimTimeout())
	r.Start(ctx)
	defer r.Stop()
	logger.Info("reaper started", "claim_timeout", cfg.ClaimTimeout())

	// API server
	router := api.NewRouter(db, in, engine, wf, identityClient, cfg.Server.AdminToken, logger)
	apiServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Metrics server
	metricsRouter := api.NewMetricsRouter()
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: metricsRouter,
	}

	go func() {
		logger.Info("API server starting", "port", cfg.Server.Port)
		if err := apiServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("API server error", "error", err)
		}
	}()

	go func() {
		logger.Info("metrics server starting", "port", cfg.Server.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = apiServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)

	logger.Info("shutdown complete")
}

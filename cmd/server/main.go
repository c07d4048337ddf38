package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blackmichael/hub-notifier/internal/config"
	"github.com/blackmichael/hub-notifier/internal/domain"
	"github.com/blackmichael/hub-notifier/internal/fanout"
	"github.com/blackmichael/hub-notifier/internal/httpserver"
	"github.com/blackmichael/hub-notifier/internal/hub"
	"github.com/blackmichael/hub-notifier/internal/postgres"
	"github.com/blackmichael/hub-notifier/internal/relay"
	"github.com/blackmichael/hub-notifier/internal/rollinglog"
	"github.com/blackmichael/hub-notifier/internal/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := cfg.NewLogger(os.Stdout)

	repo, err := openRepository(cfg)
	if err != nil {
		return fmt.Errorf("create repository: %w", err)
	}
	defer repo.Close()
	logger.Info("connected to database", "driver", cfg.DatabaseDriver)

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	events := rollinglog.Open(ctx, repo, cfg.CacheSize, logger)
	backfill := rollinglog.NewBackfill(events, cfg.BackfillMin, cfg.BackfillMax, cfg.BackfillDefault, logger)
	router := fanout.NewRouter(logger)

	eventRelay, err := openRelay(cfg, logger)
	if err != nil {
		return fmt.Errorf("create relay: %w", err)
	}
	defer eventRelay.Close()

	ingestor := hub.NewIngestor(events, router, eventRelay, logger)
	source, err := hub.Dial(ctx, cfg.HubURL, ingestor.ResumeID(), cfg.HubReadyTimeout, cfg.HubPollInterval, logger)
	if err != nil {
		return fmt.Errorf("connect to hub: %w", err)
	}

	// Start ingestion in the background; losing the hub ends the process
	ingestErr := make(chan error, 1)
	go func() {
		ingestErr <- ingestor.Run(ctx, source)
	}()

	// Start background retention cleanup
	go domain.StartRetentionJob(ctx, repo, domain.RetentionPolicy{
		Interval: cfg.RetentionInterval,
		MaxAge:   cfg.RetentionMaxAge,
		MaxRows:  cfg.RetentionMaxRows,
	}, logger)

	// Start the HTTP server
	server := httpserver.NewServer(cfg, router, events, backfill, logger)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server exited with error", "error", err)
		}
	}()

	logger.Info("server started", "port", cfg.Port, "hub_url", cfg.HubURL, "resume_id", ingestor.ResumeID())

	// Wait for shutdown signal or ingestion failure
	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig)
	case err := <-ingestErr:
		if !errors.Is(err, context.Canceled) {
			logger.Error("hub ingestion stopped", "error", err)
			runErr = fmt.Errorf("ingest hub events: %w", err)
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down http server", "error", err)
	}

	return runErr
}

func openRepository(cfg *config.Config) (domain.EventRepository, error) {
	switch cfg.DatabaseDriver {
	case "postgres":
		return postgres.NewRepository(cfg.DatabaseURL)
	default:
		return sqlite.NewRepository(cfg.DatabaseURL)
	}
}

type closingRelay interface {
	hub.Relay
	Close() error
}

func openRelay(cfg *config.Config, logger *slog.Logger) (closingRelay, error) {
	if cfg.NATSURL == "" {
		return relay.NoopRelay{}, nil
	}
	return relay.NewNATSRelay(cfg.NATSURL, cfg.NATSSubjectPrefix, logger)
}

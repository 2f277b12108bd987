package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/michiel-rondelez/challenge-azure/internal/config"
	"github.com/michiel-rondelez/challenge-azure/internal/db"
	"github.com/michiel-rondelez/challenge-azure/internal/ingest"
	"github.com/michiel-rondelez/challenge-azure/internal/irail"
	"github.com/michiel-rondelez/challenge-azure/internal/logging"
	"github.com/michiel-rondelez/challenge-azure/internal/notify"
	"github.com/michiel-rondelez/challenge-azure/internal/stations"
)

func main() {
	config.LoadDotEnv(".")
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg, "poller")
	slog.SetDefault(logger)

	logger.Info("starting liveboard poller",
		"poll_interval", cfg.PollInterval,
		"concurrency", cfg.FetchConcurrency,
		"driver", cfg.DBDriver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	database, err := db.Connect(ctx, db.OptionsFromConfig(cfg, logger))
	if err != nil {
		logging.LogError(logger, "failed to connect to database", err)
		os.Exit(1)
	}
	defer logging.SafeCloseWithLogging(database, logger, "database")

	if err := database.EnsureSchema(ctx); err != nil {
		logging.LogError(logger, "failed to ensure database schema", err)
		os.Exit(1)
	}

	client := irail.NewClient(cfg, logger)
	syncer := stations.NewSyncer(database, client, cfg, logger)

	notifier, closeNotifier := notify.FromConfig(ctx, cfg, logger)
	defer closeNotifier()

	pipeline := ingest.New(ingest.NewStore(database), client, ingest.Options{
		Concurrency: cfg.FetchConcurrency,
		Logger:      logger,
		Notifier:    notifier,
	})

	// Station directory first; liveboards need station ids
	refreshStations(ctx, syncer, logger)

	logger.Info("running initial poll")
	pipeline.RunAll(ctx)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(cfg.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				pipeline.RunAll(ctx)
			case <-ctx.Done():
				logger.Info("polling loop stopped")
				return
			}
		}
	}()

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				refreshStations(ctx, syncer, logger)
			case <-ctx.Done():
				logger.Info("station refresh loop stopped")
				return
			}
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	wg.Wait()
	logger.Info("goodbye")
}

func refreshStations(ctx context.Context, syncer *stations.Syncer, logger *slog.Logger) {
	res, ran, err := syncer.SyncIfStale(ctx)
	if err != nil {
		// Keep polling with the stations already stored
		logging.LogError(logger, "station directory refresh failed", err)
		return
	}
	if ran {
		logger.Info("station directory refreshed", "total", res.Total, "inserted", res.Inserted, "updated", res.Updated)
	}
}

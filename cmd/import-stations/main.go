package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/michiel-rondelez/challenge-azure/internal/config"
	"github.com/michiel-rondelez/challenge-azure/internal/db"
	"github.com/michiel-rondelez/challenge-azure/internal/irail"
	"github.com/michiel-rondelez/challenge-azure/internal/logging"
	"github.com/michiel-rondelez/challenge-azure/internal/stations"
)

func main() {
	force := flag.Bool("force", false, "Sync even when the station manifest is fresh")
	flag.Parse()

	config.LoadDotEnv(".")
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg, "import-stations")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	syncer := stations.NewSyncer(database, irail.NewClient(cfg, logger), cfg, logger)

	var (
		res stations.SyncResult
		ran = true
	)
	if *force {
		res, err = syncer.Sync(ctx)
	} else {
		res, ran, err = syncer.SyncIfStale(ctx)
	}
	if err != nil {
		logging.LogError(logger, "station import failed", err)
		os.Exit(1)
	}
	if !ran {
		logger.Info("station directory is fresh, nothing to do (use -force to sync anyway)")
		return
	}
	logger.Info("station import complete",
		"total", res.Total,
		"inserted", res.Inserted,
		"updated", res.Updated,
		"unchanged", res.Unchanged,
		"invalid", res.Invalid)
}

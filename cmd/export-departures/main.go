package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/michiel-rondelez/challenge-azure/internal/config"
	"github.com/michiel-rondelez/challenge-azure/internal/db"
	"github.com/michiel-rondelez/challenge-azure/internal/export"
	"github.com/michiel-rondelez/challenge-azure/internal/logging"
)

func main() {
	outputDir := flag.String("output", "./data/exports", "Output directory for per-station files")
	days := flag.Int("days", 1, "Number of days back from now to export")
	formatFlag := flag.String("format", "json", "Output format: json or csv")
	flag.Parse()

	config.LoadDotEnv(".")
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg, "export-departures")

	format, err := export.ParseFormat(*formatFlag)
	if err != nil {
		logging.LogError(logger, "invalid flags", err)
		os.Exit(2)
	}
	if *days < 1 {
		logger.Error("invalid flags", "days", *days)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Connect(ctx, db.OptionsFromConfig(cfg, logger))
	if err != nil {
		logging.LogError(logger, "failed to connect to database", err)
		os.Exit(1)
	}
	defer logging.SafeCloseWithLogging(database, logger, "database")

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -*days)

	deps, err := database.ListDeparturesBetween(ctx, from, to)
	if err != nil {
		logging.LogError(logger, "failed to load departures", err)
		os.Exit(1)
	}

	paths, err := export.Write(*outputDir, format, from, to, deps, logger)
	if err != nil {
		logging.LogError(logger, "export failed", err, slog.Int("files_written", len(paths)))
		os.Exit(1)
	}

	logger.Info("export complete",
		"departures", len(deps),
		"files", len(paths),
		"format", string(format),
		"output", *outputDir)
}

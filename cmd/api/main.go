package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/michiel-rondelez/challenge-azure/internal/api"
	"github.com/michiel-rondelez/challenge-azure/internal/api/handlers"
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
	logger := logging.New(cfg, "api")
	slog.SetDefault(logger)

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

	notifier, closeNotifier := notify.FromConfig(ctx, cfg, logger)
	defer closeNotifier()

	client := irail.NewClient(cfg, logger)
	pipeline := ingest.New(ingest.NewStore(database), client, ingest.Options{
		Concurrency: cfg.FetchConcurrency,
		Logger:      logger,
		Notifier:    notifier,
	})
	syncer := stations.NewSyncer(database, client, cfg, logger)
	cache := handlers.NewReadCache(cfg.APICacheTTL)

	router := api.NewRouter(api.Handlers{
		Ingest:     handlers.NewIngestHandler(pipeline, syncer, cfg.DefaultStation, cache),
		Departures: handlers.NewDepartureHandler(database, cache),
		Health:     handlers.NewHealthHandler(database),
	}, cfg.CORSAllowedOrigins, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("API server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.LogError(logger, "server failed", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.LogError(logger, "graceful shutdown failed", err)
	}
}

package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/michiel-rondelez/challenge-azure/internal/api/handlers"
)

// Handlers groups the HTTP handlers served by the router.
type Handlers struct {
	Ingest     *handlers.IngestHandler
	Departures *handlers.DepartureHandler
	Health     *handlers.HealthHandler
}

// NewRouter wires every route.
func NewRouter(h Handlers, allowedOrigins []string, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health.GetHealth)
	r.Get("/healthz", h.Health.Healthz)
	r.Get("/api/metrics", h.Health.GetMetrics)

	// Triggers accept GET for cron-style callers and POST for everything else
	for path, fn := range map[string]http.HandlerFunc{
		"/api/ingest_departures":   h.Ingest.IngestDepartures,
		"/api/sync_all_liveboards": h.Ingest.SyncAllLiveboards,
		"/api/ingest_stations":     h.Ingest.IngestStations,
	} {
		r.Get(path, fn)
		r.Post(path, fn)
	}

	r.Get("/api/stations", h.Departures.GetStations)
	r.Get("/api/stations/lookup", h.Departures.LookupStation)
	r.Get("/api/stations/{id}/departures", h.Departures.GetStationDepartures)
	r.Get("/api/departures/recent", h.Departures.GetRecentDepartures)

	return r
}

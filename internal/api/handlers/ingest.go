package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/michiel-rondelez/challenge-azure/internal/ingest"
	"github.com/michiel-rondelez/challenge-azure/internal/stations"
)

// IngestRunner runs ingestion on demand.
type IngestRunner interface {
	FetchAndStore(ctx context.Context, station string) ingest.Result
	RunAll(ctx context.Context) ingest.Result
}

// StationSyncer refreshes the station directory.
type StationSyncer interface {
	Sync(ctx context.Context) (stations.SyncResult, error)
}

// IngestHandler exposes the ingestion triggers over HTTP
type IngestHandler struct {
	runner         IngestRunner
	syncer         StationSyncer
	defaultStation string
	cache          *ReadCache
}

// NewIngestHandler creates a new handler. cache may be nil.
func NewIngestHandler(runner IngestRunner, syncer StationSyncer, defaultStation string, cache *ReadCache) *IngestHandler {
	return &IngestHandler{
		runner:         runner,
		syncer:         syncer,
		defaultStation: defaultStation,
		cache:          cache,
	}
}

// IngestResponse wraps a run result with a human readable summary
type IngestResponse struct {
	Message string        `json:"message"`
	Result  ingest.Result `json:"result"`
}

// SyncResponse is the JSON response for the station directory sync
type SyncResponse struct {
	Message string              `json:"message"`
	Result  stations.SyncResult `json:"result"`
}

// IngestDepartures handles GET|POST /api/ingest_departures
// Query: station (defaults to the configured station)
func (h *IngestHandler) IngestDepartures(w http.ResponseWriter, r *http.Request) {
	station := r.URL.Query().Get("station")
	if station == "" {
		station = h.defaultStation
	}

	res := h.runner.FetchAndStore(r.Context(), station)
	h.respond(w, res, fmt.Sprintf("Ingested %d departures for %s", res.Affected(), station))
}

// SyncAllLiveboards handles GET|POST /api/sync_all_liveboards
func (h *IngestHandler) SyncAllLiveboards(w http.ResponseWriter, r *http.Request) {
	res := h.runner.RunAll(r.Context())
	h.respond(w, res, fmt.Sprintf("Ingested %d departures across %d stations", res.Affected(), len(res.Stations)))
}

// IngestStations handles GET|POST /api/ingest_stations
func (h *IngestHandler) IngestStations(w http.ResponseWriter, r *http.Request) {
	res, err := h.syncer.Sync(r.Context())
	switch {
	case errors.Is(err, stations.ErrNoStations):
		writeError(w, r, http.StatusNotFound, "No stations found", err)
		return
	case err != nil:
		writeError(w, r, http.StatusInternalServerError, "Failed to sync stations", err)
		return
	}

	h.cache.Flush()
	writeJSON(w, http.StatusOK, SyncResponse{
		Message: fmt.Sprintf("Synced %d stations", res.Total),
		Result:  res,
	})
}

func (h *IngestHandler) respond(w http.ResponseWriter, res ingest.Result, message string) {
	if res.Status == ingest.StatusFailed {
		writeJSON(w, http.StatusInternalServerError, IngestResponse{
			Message: "Ingestion failed",
			Result:  res,
		})
		return
	}

	h.cache.Flush()
	writeJSON(w, http.StatusOK, IngestResponse{Message: message, Result: res})
}

package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/michiel-rondelez/challenge-azure/internal/db"
)

// DepartureRepository defines the read operations used by DepartureHandler
type DepartureRepository interface {
	GetAllStations(ctx context.Context) ([]db.Station, error)
	GetStationByID(ctx context.Context, id int64) (*db.Station, error)
	GetStationByName(ctx context.Context, name string) (*db.Station, error)
	GetStationByStandardName(ctx context.Context, standardName string) (*db.Station, error)
	GetRecentDepartures(ctx context.Context, minutes, limit int) ([]db.Departure, error)
	GetDeparturesByStation(ctx context.Context, stationID int64, limit int) ([]db.Departure, error)
}

// DepartureHandler handles HTTP requests for stations and departures
type DepartureHandler struct {
	repo  DepartureRepository
	cache *ReadCache
}

// NewDepartureHandler creates a new handler with the given repository
func NewDepartureHandler(repo DepartureRepository, cache *ReadCache) *DepartureHandler {
	return &DepartureHandler{repo: repo, cache: cache}
}

// StationsResponse is the JSON response for GET /api/stations
type StationsResponse struct {
	Stations []db.Station `json:"stations"`
	Count    int          `json:"count"`
}

// DeparturesResponse is the JSON response for departure listings
type DeparturesResponse struct {
	Departures []db.Departure `json:"departures"`
	Count      int            `json:"count"`
	Station    *db.Station    `json:"station,omitempty"`
	QueriedAt  time.Time      `json:"queriedAt"`
}

// GetStations handles GET /api/stations
func (h *DepartureHandler) GetStations(w http.ResponseWriter, r *http.Request) {
	v, err := h.cache.Load("stations", func() (any, error) {
		stations, err := h.repo.GetAllStations(r.Context())
		if err != nil {
			return nil, err
		}
		if stations == nil {
			stations = []db.Station{}
		}
		return StationsResponse{Stations: stations, Count: len(stations)}, nil
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Failed to retrieve stations", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// LookupStation handles GET /api/stations/lookup?name=
// Matches the caller-facing name first, then the standard name.
func (h *DepartureHandler) LookupStation(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, r, http.StatusBadRequest, "name is required", nil)
		return
	}

	station, err := h.repo.GetStationByName(r.Context(), name)
	if err == nil && station == nil {
		station, err = h.repo.GetStationByStandardName(r.Context(), name)
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Failed to look up station", err)
		return
	}
	if station == nil {
		writeError(w, r, http.StatusNotFound, "Station not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, station)
}

// GetStationDepartures handles GET /api/stations/{id}/departures?limit=
func (h *DepartureHandler) GetStationDepartures(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, "invalid station id", nil)
		return
	}
	limit, ok := intParam(r, "limit", 50, 500)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "limit must be a positive integer", nil)
		return
	}

	station, err := h.repo.GetStationByID(r.Context(), id)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Failed to retrieve station", err)
		return
	}
	if station == nil {
		writeError(w, r, http.StatusNotFound, "Station not found", nil)
		return
	}

	v, err := h.cache.Load(fmt.Sprintf("station:%d:%d", id, limit), func() (any, error) {
		deps, err := h.repo.GetDeparturesByStation(r.Context(), id, limit)
		if err != nil {
			return nil, err
		}
		return departuresResponse(deps, station), nil
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Failed to retrieve departures", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// GetRecentDepartures handles GET /api/departures/recent?minutes=&limit=
func (h *DepartureHandler) GetRecentDepartures(w http.ResponseWriter, r *http.Request) {
	minutes, ok := intParam(r, "minutes", 60, 24*60)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "minutes must be a positive integer", nil)
		return
	}
	limit, ok := intParam(r, "limit", 100, 1000)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "limit must be a positive integer", nil)
		return
	}

	v, err := h.cache.Load(fmt.Sprintf("recent:%d:%d", minutes, limit), func() (any, error) {
		deps, err := h.repo.GetRecentDepartures(r.Context(), minutes, limit)
		if err != nil {
			return nil, err
		}
		return departuresResponse(deps, nil), nil
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Failed to retrieve departures", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func departuresResponse(deps []db.Departure, station *db.Station) DeparturesResponse {
	if deps == nil {
		deps = []db.Departure{}
	}
	return DeparturesResponse{
		Departures: deps,
		Count:      len(deps),
		Station:    station,
		QueriedAt:  time.Now().UTC(),
	}
}

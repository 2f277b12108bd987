package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/michiel-rondelez/challenge-azure/internal/db"
)

// MonitorRepository defines the monitoring operations used by HealthHandler
type MonitorRepository interface {
	CheckHealth(ctx context.Context) db.Health
	CollectMetrics(ctx context.Context) (*db.Metrics, error)
}

// HealthHandler handles HTTP requests for health and metrics data
type HealthHandler struct {
	repo MonitorRepository
}

// NewHealthHandler creates a new handler with the given repository
func NewHealthHandler(repo MonitorRepository) *HealthHandler {
	return &HealthHandler{repo: repo}
}

// GetHealth handles GET /health
// Returns 503 only when the database is unhealthy; degraded data still serves.
func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := h.repo.CheckHealth(ctx)
	status := http.StatusOK
	if health.Status == db.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// GetMetrics handles GET /api/metrics
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	metrics, err := h.repo.CollectMetrics(ctx)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Failed to collect metrics", err)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

// Healthz handles GET /healthz, a liveness probe without dependencies
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

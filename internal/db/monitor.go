package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/michiel-rondelez/challenge-azure/internal/metrics"
)

// StaleAfter is how old the latest fetch may be before data counts as stale.
const StaleAfter = 30 * time.Minute

// Metrics is a point-in-time snapshot of the store.
type Metrics struct {
	Timestamp             time.Time            `json:"timestamp"`
	Driver                string               `json:"driver"`
	StationsCount         int64                `json:"stationsCount"`
	DeparturesCount       int64                `json:"departuresCount"`
	LastFetchedAt         *time.Time           `json:"lastFetchedAt,omitempty"`
	MinutesSinceLastFetch *int                 `json:"minutesSinceLastFetch,omitempty"`
	Delays24h             metrics.DelaySummary `json:"delays24h"`
}

// HealthStatus is the overall verdict of CheckHealth.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Health is the result of CheckHealth.
type Health struct {
	Status    HealthStatus `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	Issues    []string     `json:"issues"`
}

func (h *Health) degrade(status HealthStatus, issue string) {
	if h.Status != HealthUnhealthy {
		h.Status = status
	}
	h.Issues = append(h.Issues, issue)
}

// CollectMetrics gathers row counts, data freshness and 24h delay statistics.
func (db *DB) CollectMetrics(ctx context.Context) (*Metrics, error) {
	now := db.now().UTC()
	m := &Metrics{Timestamp: now, Driver: db.dialect.Name}

	var err error
	if m.StationsCount, err = db.count(ctx, "Stations"); err != nil {
		return nil, err
	}
	if m.DeparturesCount, err = db.count(ctx, "Departures"); err != nil {
		return nil, err
	}

	if last, err := db.lastFetchedAt(ctx); err != nil {
		return nil, err
	} else if last != nil {
		minutes := int(now.Sub(*last).Minutes())
		m.LastFetchedAt = last
		m.MinutesSinceLastFetch = &minutes
	}

	rows, err := db.conn.QueryContext(ctx, db.dialect.Rebind(
		"SELECT delay FROM Departures WHERE fetched_at >= ? AND delay > 0",
	), db.dialect.bindTime(now.Add(-24*time.Hour)))
	if err != nil {
		return nil, fmt.Errorf("failed to query delays: %w", err)
	}
	defer rows.Close()

	var acc metrics.DelayAccumulator
	for rows.Next() {
		var delay int
		if err := rows.Scan(&delay); err != nil {
			return nil, fmt.Errorf("failed to scan delay: %w", err)
		}
		acc.Add(delay)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating delays: %w", err)
	}
	m.Delays24h = acc.Summary()

	return m, nil
}

// CheckHealth reports missing tables as unhealthy and empty or stale data as degraded.
func (db *DB) CheckHealth(ctx context.Context) Health {
	now := db.now().UTC()
	h := Health{Status: HealthHealthy, Timestamp: now, Issues: []string{}}

	tables, err := db.existingTables(ctx)
	if err != nil {
		h.degrade(HealthUnhealthy, fmt.Sprintf("Database connection error: %v", err))
		db.logger.Error("database health check failed", "error", err)
		return h
	}

	for _, table := range []string{"Stations", "Departures"} {
		if !tables[strings.ToLower(table)] {
			h.degrade(HealthUnhealthy, table+" table missing")
		}
	}

	if tables["departures"] {
		total, err := db.count(ctx, "Departures")
		if err != nil {
			h.degrade(HealthUnhealthy, err.Error())
		} else if total == 0 {
			h.degrade(HealthDegraded, "No departure data in database")
		} else if last, err := db.lastFetchedAt(ctx); err != nil {
			h.degrade(HealthUnhealthy, err.Error())
		} else if last != nil && now.Sub(*last) > StaleAfter {
			h.degrade(HealthDegraded, fmt.Sprintf("Data is stale (%d minutes since last fetch)", int(now.Sub(*last).Minutes())))
		}
	}

	if tables["stations"] {
		total, err := db.count(ctx, "Stations")
		if err != nil {
			h.degrade(HealthUnhealthy, err.Error())
		} else if total == 0 {
			h.degrade(HealthDegraded, "No stations in database")
		}
	}

	if h.Status != HealthHealthy {
		db.logger.Warn("database health check", "status", h.Status, "issues", h.Issues)
	}
	return h
}

func (db *DB) count(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

func (db *DB) lastFetchedAt(ctx context.Context) (*time.Time, error) {
	var last nullTime
	if err := db.conn.QueryRowContext(ctx, "SELECT MAX(fetched_at) FROM Departures").Scan(&last); err != nil {
		return nil, fmt.Errorf("failed to read last fetch time: %w", err)
	}
	return last.ptr(), nil
}

// existingTables returns the lower-cased names of tables in the current schema.
func (db *DB) existingTables(ctx context.Context) (map[string]bool, error) {
	rows, err := db.conn.QueryContext(ctx, db.dialect.tablesQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tables := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables[strings.ToLower(name)] = true
	}
	return tables, rows.Err()
}

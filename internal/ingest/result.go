package ingest

import (
	"time"

	"github.com/google/uuid"
)

// Status is the outcome of a run.
type Status string

const (
	// StatusSucceeded: committed, every station fetched and every record stored.
	StatusSucceeded Status = "succeeded"
	// StatusPartial: committed, but some stations or records were skipped.
	StatusPartial Status = "partial"
	// StatusFailed: rolled back, either on a run-level error or because no
	// station could be fetched. Nothing was written.
	StatusFailed Status = "failed"
)

// StationResult is the per-station part of a run.
type StationResult struct {
	Station   string `json:"station"`
	StationID int64  `json:"stationId"`
	Fetched   int    `json:"fetched"`
	Inserted  int    `json:"inserted"`
	Updated   int    `json:"updated"`
	Skipped   int    `json:"skipped"`
	Error     string `json:"error,omitempty"`

	Err error `json:"-"`
}

// Failed reports whether the station's fetch failed.
func (s StationResult) Failed() bool { return s.Err != nil }

// Result describes one ingestion run. A zero Affected count is only
// "no new data" when Status is not StatusFailed.
type Result struct {
	RunID           uuid.UUID       `json:"runId"`
	Status          Status          `json:"status"`
	StartedAt       time.Time       `json:"startedAt"`
	DurationMS      int64           `json:"durationMs"`
	Inserted        int             `json:"inserted"`
	Updated         int             `json:"updated"`
	Skipped         int             `json:"skipped"`
	PeakConcurrency int             `json:"peakConcurrency"` // most fetches this run had in flight at once
	Stations        []StationResult `json:"stations"`
	Error           string          `json:"error,omitempty"`

	Err error `json:"-"`
}

// Affected is the number of inserted plus updated rows.
func (r Result) Affected() int {
	return r.Inserted + r.Updated
}

// FailedStations returns the names of stations whose fetch failed.
func (r Result) FailedStations() []string {
	var names []string
	for _, s := range r.Stations {
		if s.Failed() {
			names = append(names, s.Station)
		}
	}
	return names
}

func newResult(startedAt time.Time) Result {
	return Result{
		RunID:     uuid.New(),
		StartedAt: startedAt.UTC(),
		Stations:  []StationResult{},
	}
}

// finish totals station counts and settles Status. A run-level error
// zeroes every write count since nothing was committed.
func (r *Result) finish(elapsed time.Duration) {
	r.DurationMS = elapsed.Milliseconds()
	r.Inserted, r.Updated, r.Skipped = 0, 0, 0

	failed := 0
	for i := range r.Stations {
		s := &r.Stations[i]
		if s.Err != nil {
			s.Error = s.Err.Error()
			failed++
		}
		r.Inserted += s.Inserted
		r.Updated += s.Updated
		r.Skipped += s.Skipped
	}

	switch {
	case r.Err != nil:
		r.Error = r.Err.Error()
		r.Inserted, r.Updated, r.Skipped = 0, 0, 0
		for i := range r.Stations {
			s := &r.Stations[i]
			s.Inserted, s.Updated, s.Skipped = 0, 0, 0
		}
		r.Status = StatusFailed
	case len(r.Stations) > 0 && failed == len(r.Stations):
		r.Status = StatusFailed
	case failed > 0 || r.Skipped > 0:
		r.Status = StatusPartial
	default:
		r.Status = StatusSucceeded
	}
}

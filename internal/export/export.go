// Package export writes stored departures to per-station files.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/michiel-rondelez/challenge-azure/internal/db"
	"github.com/michiel-rondelez/challenge-azure/internal/logging"
)

// Format selects the file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ParseFormat accepts "json" or "csv", case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatCSV:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported export format %q (want json or csv)", s)
	}
}

// StationExport is the JSON document written for one station.
type StationExport struct {
	Station    string         `json:"station"`
	StationID  int64          `json:"stationId"`
	From       time.Time      `json:"from"`
	To         time.Time      `json:"to"`
	Departures []db.Departure `json:"departures"`
}

var csvHeader = []string{
	"station", "train_id", "vehicle", "platform", "scheduled_time", "delay",
	"canceled", "has_left", "is_normal_platform", "direction", "occupancy", "fetched_at",
}

// GroupByStation splits deps into per-station slices, preserving order.
func GroupByStation(deps []db.Departure) ([]int64, map[int64][]db.Departure) {
	var order []int64
	groups := make(map[int64][]db.Departure)
	for _, d := range deps {
		if _, ok := groups[d.StationID]; !ok {
			order = append(order, d.StationID)
		}
		groups[d.StationID] = append(groups[d.StationID], d)
	}
	return order, groups
}

// Write writes one file per station into dir and returns the paths written.
// deps are expected in the order ListDeparturesBetween returns them.
func Write(dir string, format Format, from, to time.Time, deps []db.Departure, logger *slog.Logger) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	order, groups := GroupByStation(deps)
	paths := make([]string, 0, len(order))
	for _, id := range order {
		group := groups[id]
		path := filepath.Join(dir, FileName(group[0].StationName, id, format))

		var err error
		switch format {
		case FormatCSV:
			err = writeCSV(path, group, logger)
		default:
			err = writeJSON(path, StationExport{
				Station:    group[0].StationName,
				StationID:  id,
				From:       from.UTC(),
				To:         to.UTC(),
				Departures: group,
			})
		}
		if err != nil {
			return paths, fmt.Errorf("failed to export station %d: %w", id, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// FileName derives a filesystem-safe name such as "brussels-central_12.json".
func FileName(station string, id int64, format Format) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(station) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if slug == "" {
		slug = "station"
	}
	return fmt.Sprintf("%s_%d.%s", slug, id, format)
}

func writeJSON(path string, doc StationExport) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func writeCSV(path string, deps []db.Departure, logger *slog.Logger) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer logging.HandleDeferredError(&err, f.Close, logger, "close "+filepath.Base(path))

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, d := range deps {
		if err := w.Write(csvRecord(d)); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func csvRecord(d db.Departure) []string {
	scheduled := ""
	if d.ScheduledTime != nil {
		scheduled = d.ScheduledTime.UTC().Format(time.RFC3339)
	}
	occupancy := ""
	if d.Occupancy != nil {
		occupancy = *d.Occupancy
	}
	return []string{
		d.StationName,
		d.TrainID,
		d.Vehicle,
		d.Platform,
		scheduled,
		strconv.Itoa(d.DelaySeconds),
		strconv.FormatBool(d.Canceled),
		strconv.FormatBool(d.HasLeft),
		strconv.FormatBool(d.IsNormalPlatform),
		d.Direction,
		occupancy,
		d.FetchedAt.UTC().Format(time.RFC3339),
	}
}

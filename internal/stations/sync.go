package stations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/michiel-rondelez/challenge-azure/internal/config"
	"github.com/michiel-rondelez/challenge-azure/internal/db"
	"github.com/michiel-rondelez/challenge-azure/internal/irail"
	"github.com/michiel-rondelez/challenge-azure/internal/logging"
)

// ManifestFile is written to the cache dir after every successful sync.
const ManifestFile = "stations_manifest.json"

// ErrNoStations is returned when the upstream directory is empty.
var ErrNoStations = errors.New("no stations returned by iRail")

// Manifest records when the station directory was last synced
type Manifest struct {
	GeneratedAt  string `json:"generated_at"`
	StationCount int    `json:"station_count"`
}

// Source provides the upstream station directory.
type Source interface {
	FetchStations(ctx context.Context) ([]irail.RawStation, error)
}

// SyncResult summarizes a directory sync.
type SyncResult struct {
	Total     int `json:"total"`
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Invalid   int `json:"invalid"`
}

// Syncer mirrors the iRail station directory into the Stations table.
type Syncer struct {
	db         *db.DB
	source     Source
	cacheDir   string
	maxAgeDays int
	logger     *slog.Logger
	now        func() time.Time
}

// NewSyncer creates a syncer using the cache dir and refresh period from cfg.
func NewSyncer(database *db.DB, source Source, cfg *config.Config, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		db:         database,
		source:     source,
		cacheDir:   cfg.CacheDir,
		maxAgeDays: cfg.StationRefreshDays,
		logger:     logger,
		now:        time.Now,
	}
}

// ManifestPath is where the sync manifest lives.
func (s *Syncer) ManifestPath() string {
	return filepath.Join(s.cacheDir, ManifestFile)
}

// Sync fetches the directory and upserts every station in one transaction.
func (s *Syncer) Sync(ctx context.Context) (SyncResult, error) {
	var res SyncResult
	start := time.Now()

	raw, err := s.source.FetchStations(ctx)
	if err != nil {
		return res, err
	}
	if len(raw) == 0 {
		return res, ErrNoStations
	}

	batch, err := s.db.BeginBatch(ctx)
	if err != nil {
		return res, err
	}
	defer logging.SafeRollbackWithLogging(batch, s.logger, "station sync")

	for _, r := range raw {
		station, err := toStation(r)
		if err != nil {
			res.Invalid++
			s.logger.Warn("skipping station", slog.String("name", r.Name), slog.String("error", err.Error()))
			continue
		}

		outcome, err := batch.UpsertStation(ctx, &station)
		if err != nil {
			return SyncResult{}, err
		}
		switch outcome {
		case db.Inserted:
			res.Inserted++
		case db.Updated:
			res.Updated++
		default:
			res.Unchanged++
		}
		res.Total++
	}

	if err := batch.Commit(); err != nil {
		return SyncResult{}, err
	}

	manifest := Manifest{
		GeneratedAt:  s.now().UTC().Format(time.RFC3339),
		StationCount: res.Total,
	}
	if err := writeManifest(s.ManifestPath(), manifest); err != nil {
		// The directory itself is committed; only the freshness marker is lost.
		logging.LogError(s.logger, "failed to write station manifest", err, slog.String("path", s.ManifestPath()))
	}

	logging.LogOperation(s.logger, "station directory synced",
		slog.Int("total", res.Total),
		slog.Int("inserted", res.Inserted),
		slog.Int("updated", res.Updated),
		slog.Int("invalid", res.Invalid),
		slog.Duration("duration", time.Since(start)))
	return res, nil
}

// SyncIfStale syncs when the manifest is missing, unreadable or older than
// the refresh period, or when the store holds no stations. The bool reports
// whether a sync ran.
func (s *Syncer) SyncIfStale(ctx context.Context) (SyncResult, bool, error) {
	known, err := s.db.GetAllStations(ctx)
	if err != nil {
		return SyncResult{}, false, err
	}

	if len(known) > 0 && !isStaleOrMissing(s.ManifestPath(), s.maxAgeDays, s.now()) {
		s.logger.Debug("station directory is fresh, skipping sync", slog.Int("stations", len(known)))
		return SyncResult{}, false, nil
	}

	res, err := s.Sync(ctx)
	return res, true, err
}

func toStation(r irail.RawStation) (db.Station, error) {
	if r.Name == "" {
		return db.Station{}, errors.New("missing name")
	}

	st := db.Station{
		Name:         r.Name,
		StandardName: r.StandardName,
	}
	if st.StandardName == "" {
		st.StandardName = r.Name
	}
	if r.ID != "" {
		id := r.ID
		st.ExternalID = &id
	}

	var err error
	if st.LocationX, err = coordinate(r.LocationX); err != nil {
		return db.Station{}, fmt.Errorf("locationX: %w", err)
	}
	if st.LocationY, err = coordinate(r.LocationY); err != nil {
		return db.Station{}, fmt.Errorf("locationY: %w", err)
	}
	return st, nil
}

func coordinate(v *irail.Value) (*float64, error) {
	s := v.String()
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func isStaleOrMissing(manifestPath string, maxAgeDays int, now time.Time) bool {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return true
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return true
	}

	generatedAt, err := time.Parse(time.RFC3339, manifest.GeneratedAt)
	if err != nil {
		return true
	}

	maxAge := time.Duration(maxAgeDays) * 24 * time.Hour
	return now.Sub(generatedAt) > maxAge
}

func writeManifest(path string, m Manifest) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

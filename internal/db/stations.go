package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Station is an entry of the station directory.
type Station struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	StandardName string    `json:"standardName"`
	LocationX    *float64  `json:"locationX,omitempty"`
	LocationY    *float64  `json:"locationY,omitempty"`
	ExternalID   *string   `json:"externalId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// QueryName is the name to send upstream: the standard name when known.
func (s Station) QueryName() string {
	if s.StandardName != "" {
		return s.StandardName
	}
	return s.Name
}

const stationColumns = `id, name, standard_name, location_x, location_y, external_id, created_at`

// UpsertStation inserts s or updates the descriptive attributes of the
// station with the same name. Unchanged rows are left untouched.
func (b *Batch) UpsertStation(ctx context.Context, s *Station) (UpsertOutcome, error) {
	existing, err := getStation(ctx, b.tx, b.dialect, "name = ?", s.Name)
	if err != nil {
		return 0, err
	}

	if existing == nil {
		s.CreatedAt = b.now().UTC()
		id, err := b.dialect.insertID(ctx, b.tx, `
			INSERT INTO Stations (name, standard_name, location_x, location_y, external_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			s.Name, s.StandardName, s.LocationX, s.LocationY, s.ExternalID, b.dialect.bindTime(s.CreatedAt),
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert station %q: %w", s.Name, err)
		}
		s.ID = id
		return Inserted, nil
	}

	s.ID = existing.ID
	s.CreatedAt = existing.CreatedAt
	if sameStationAttributes(existing, s) {
		return Unchanged, nil
	}

	_, err = b.tx.ExecContext(ctx, b.dialect.Rebind(`
		UPDATE Stations SET standard_name = ?, location_x = ?, location_y = ?, external_id = ?
		WHERE id = ?
	`), s.StandardName, s.LocationX, s.LocationY, s.ExternalID, s.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to update station %q: %w", s.Name, err)
	}
	return Updated, nil
}

// ResolveStation resolves a caller-supplied station name, matching the name
// first and the standard name second, then standardName as reported by the
// liveboard. Unknown names are created with standardName, or with the name
// doubling as standard name when none was reported.
func (b *Batch) ResolveStation(ctx context.Context, name, standardName string) (Station, error) {
	if standardName == "" {
		standardName = name
	}
	lookups := []struct {
		where string
		arg   string
	}{
		{"name = ?", name},
		{"standard_name = ?", name},
		{"standard_name = ?", standardName},
	}
	for _, l := range lookups {
		s, err := getStation(ctx, b.tx, b.dialect, l.where, l.arg)
		if err != nil {
			return Station{}, err
		}
		if s != nil {
			return *s, nil
		}
	}

	s := Station{Name: name, StandardName: standardName}
	if _, err := b.UpsertStation(ctx, &s); err != nil {
		return Station{}, err
	}
	return s, nil
}

// GetAllStations returns the station directory ordered by name.
func (db *DB) GetAllStations(ctx context.Context) ([]Station, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT "+stationColumns+" FROM Stations ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to query stations: %w", err)
	}
	defer rows.Close()

	var stations []Station
	for rows.Next() {
		s, err := scanStation(rows)
		if err != nil {
			return nil, err
		}
		stations = append(stations, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating station rows: %w", err)
	}
	return stations, nil
}

// GetStationByID returns nil when no station matches.
func (db *DB) GetStationByID(ctx context.Context, id int64) (*Station, error) {
	return getStation(ctx, db.conn, db.dialect, "id = ?", id)
}

// GetStationByName returns nil when no station matches.
func (db *DB) GetStationByName(ctx context.Context, name string) (*Station, error) {
	return getStation(ctx, db.conn, db.dialect, "name = ?", name)
}

// GetStationByStandardName returns nil when no station matches.
func (db *DB) GetStationByStandardName(ctx context.Context, standardName string) (*Station, error) {
	return getStation(ctx, db.conn, db.dialect, "standard_name = ?", standardName)
}

func getStation(ctx context.Context, q queryer, d *Dialect, where string, arg any) (*Station, error) {
	row := q.QueryRowContext(ctx, d.Rebind("SELECT "+stationColumns+" FROM Stations WHERE "+where+" ORDER BY id LIMIT 1"), arg)
	s, err := scanStation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStation(row rowScanner) (*Station, error) {
	var (
		s          Station
		x, y       sql.NullFloat64
		externalID sql.NullString
		createdAt  nullTime
	)
	if err := row.Scan(&s.ID, &s.Name, &s.StandardName, &x, &y, &externalID, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan station row: %w", err)
	}
	if x.Valid {
		s.LocationX = &x.Float64
	}
	if y.Valid {
		s.LocationY = &y.Float64
	}
	if externalID.Valid {
		s.ExternalID = &externalID.String
	}
	s.CreatedAt = createdAt.Time
	return &s, nil
}

func sameStationAttributes(a, b *Station) bool {
	return a.StandardName == b.StandardName &&
		equalPtr(a.LocationX, b.LocationX) &&
		equalPtr(a.LocationY, b.LocationY) &&
		equalPtr(a.ExternalID, b.ExternalID)
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

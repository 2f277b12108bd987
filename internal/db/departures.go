package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Departure is one logical departure event at a station. The triple
// (StationID, TrainID, ScheduledTime) identifies it across fetch cycles.
type Departure struct {
	ID               int64      `json:"id"`
	StationID        int64      `json:"stationId"`
	StationName      string     `json:"stationName,omitempty"` // filled by read queries only
	TrainID          string     `json:"trainId"`
	Vehicle          string     `json:"vehicle"`
	Platform         string     `json:"platform"`
	ScheduledTime    *time.Time `json:"scheduledTime"`
	DelaySeconds     int        `json:"delay"`
	Canceled         bool       `json:"canceled"`
	HasLeft          bool       `json:"hasLeft"`
	IsNormalPlatform bool       `json:"isNormalPlatform"`
	Direction        string     `json:"direction"`
	Occupancy        *string    `json:"occupancy"`
	FetchedAt        time.Time  `json:"fetchedAt"`
}

const departureColumns = `d.id, d.station_id, s.name, d.train_id, d.vehicle, d.platform,
	d.scheduled_time, d.delay, d.canceled, d.has_left, d.is_normal_platform,
	d.direction, d.occupancy, d.fetched_at`

// UpsertDeparture inserts d, or overwrites the mutable fields of the row
// sharing its dedup key. Identity fields, direction and platform normalcy
// are never changed after creation. d.ID is set on return.
func (b *Batch) UpsertDeparture(ctx context.Context, d *Departure) (UpsertOutcome, error) {
	id, err := b.findDeparture(ctx, d)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return b.insertDeparture(ctx, d)
	case err != nil:
		return 0, fmt.Errorf("failed to look up departure %s: %w", d.TrainID, err)
	}

	_, err = b.tx.ExecContext(ctx, b.dialect.Rebind(`
		UPDATE Departures SET
			delay = ?,
			platform = ?,
			vehicle = ?,
			canceled = ?,
			has_left = ?,
			occupancy = ?,
			fetched_at = ?
		WHERE id = ?
	`),
		d.DelaySeconds,
		d.Platform,
		d.Vehicle,
		d.Canceled,
		d.HasLeft,
		d.Occupancy,
		b.dialect.bindTime(d.FetchedAt),
		id,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update departure %s: %w", d.TrainID, err)
	}

	d.ID = id
	return Updated, nil
}

func (b *Batch) findDeparture(ctx context.Context, d *Departure) (int64, error) {
	var id int64
	var row *sql.Row
	if d.ScheduledTime == nil {
		row = b.tx.QueryRowContext(ctx, b.dialect.Rebind(`
			SELECT id FROM Departures
			WHERE station_id = ? AND train_id = ? AND scheduled_time IS NULL
		`), d.StationID, d.TrainID)
	} else {
		row = b.tx.QueryRowContext(ctx, b.dialect.Rebind(`
			SELECT id FROM Departures
			WHERE station_id = ? AND train_id = ? AND scheduled_time = ?
		`), d.StationID, d.TrainID, b.dialect.bindTime(*d.ScheduledTime))
	}
	err := row.Scan(&id)
	return id, err
}

func (b *Batch) insertDeparture(ctx context.Context, d *Departure) (UpsertOutcome, error) {
	id, err := b.dialect.insertID(ctx, b.tx, `
		INSERT INTO Departures (
			station_id, train_id, vehicle, platform, scheduled_time, delay,
			canceled, has_left, is_normal_platform, direction, occupancy, fetched_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.StationID,
		d.TrainID,
		d.Vehicle,
		d.Platform,
		b.dialect.bindTimePtr(d.ScheduledTime),
		d.DelaySeconds,
		d.Canceled,
		d.HasLeft,
		d.IsNormalPlatform,
		d.Direction,
		d.Occupancy,
		b.dialect.bindTime(d.FetchedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert departure %s: %w", d.TrainID, err)
	}

	d.ID = id
	return Inserted, nil
}

// UpsertDepartures upserts every record inside its own savepoint. A record
// whose write fails is rolled back to the savepoint, logged and skipped so
// the remaining records proceed. The returned error is reserved for
// failures of the transaction itself; after one the batch must be rolled back.
func (b *Batch) UpsertDepartures(ctx context.Context, deps []Departure) (UpsertCounts, error) {
	var counts UpsertCounts

	for i := range deps {
		d := &deps[i]
		if err := ctx.Err(); err != nil {
			return counts, err
		}

		if err := b.savepoint(ctx, "SAVEPOINT"); err != nil {
			return counts, fmt.Errorf("failed to open savepoint: %w", err)
		}

		outcome, err := b.UpsertDeparture(ctx, d)
		if err != nil {
			if rbErr := b.savepoint(ctx, "ROLLBACK TO SAVEPOINT"); rbErr != nil {
				return counts, fmt.Errorf("failed to roll back departure %s: %w", d.TrainID, errors.Join(err, rbErr))
			}
			counts.Skipped++
			b.logger.Warn("skipping departure after write error",
				slog.Int64("station_id", d.StationID),
				slog.String("train_id", d.TrainID),
				slog.String("error", err.Error()))
		} else if outcome == Inserted {
			counts.Inserted++
		} else {
			counts.Updated++
		}

		if err := b.savepoint(ctx, "RELEASE SAVEPOINT"); err != nil {
			return counts, fmt.Errorf("failed to release savepoint: %w", err)
		}
	}

	return counts, nil
}

// GetRecentDepartures returns departures fetched within the last minutes,
// newest first.
func (db *DB) GetRecentDepartures(ctx context.Context, minutes, limit int) ([]Departure, error) {
	since := db.now().Add(-time.Duration(minutes) * time.Minute)
	rows, err := db.conn.QueryContext(ctx, db.dialect.Rebind(`
		SELECT `+departureColumns+`
		FROM Departures d
		JOIN Stations s ON s.id = d.station_id
		WHERE d.fetched_at >= ?
		ORDER BY d.fetched_at DESC, d.id DESC
		LIMIT ?
	`), db.dialect.bindTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent departures: %w", err)
	}
	return scanDepartures(rows)
}

// GetDeparturesByStation returns a station's departures, latest scheduled first.
func (db *DB) GetDeparturesByStation(ctx context.Context, stationID int64, limit int) ([]Departure, error) {
	rows, err := db.conn.QueryContext(ctx, db.dialect.Rebind(`
		SELECT `+departureColumns+`
		FROM Departures d
		JOIN Stations s ON s.id = d.station_id
		WHERE d.station_id = ?
		ORDER BY d.scheduled_time DESC, d.id DESC
		LIMIT ?
	`), stationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query departures for station %d: %w", stationID, err)
	}
	return scanDepartures(rows)
}

// ListDeparturesBetween returns departures scheduled in [from, to), grouped by
// station and ordered by scheduled time.
func (db *DB) ListDeparturesBetween(ctx context.Context, from, to time.Time) ([]Departure, error) {
	rows, err := db.conn.QueryContext(ctx, db.dialect.Rebind(`
		SELECT `+departureColumns+`
		FROM Departures d
		JOIN Stations s ON s.id = d.station_id
		WHERE d.scheduled_time >= ? AND d.scheduled_time < ?
		ORDER BY s.name, d.scheduled_time, d.train_id
	`), db.dialect.bindTime(from), db.dialect.bindTime(to))
	if err != nil {
		return nil, fmt.Errorf("failed to list departures: %w", err)
	}
	return scanDepartures(rows)
}

func scanDepartures(rows *sql.Rows) ([]Departure, error) {
	defer rows.Close()

	var out []Departure
	for rows.Next() {
		var (
			d         Departure
			scheduled nullTime
			fetched   nullTime
			occupancy sql.NullString
		)
		if err := rows.Scan(
			&d.ID,
			&d.StationID,
			&d.StationName,
			&d.TrainID,
			&d.Vehicle,
			&d.Platform,
			&scheduled,
			&d.DelaySeconds,
			&d.Canceled,
			&d.HasLeft,
			&d.IsNormalPlatform,
			&d.Direction,
			&occupancy,
			&fetched,
		); err != nil {
			return nil, fmt.Errorf("failed to scan departure row: %w", err)
		}
		d.ScheduledTime = scheduled.ptr()
		d.FetchedAt = fetched.Time
		if occupancy.Valid {
			d.Occupancy = &occupancy.String
		}
		out = append(out, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating departure rows: %w", err)
	}
	return out, nil
}

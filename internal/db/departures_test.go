package db

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedStation(t *testing.T, database *DB, name string) Station {
	t.Helper()
	ctx := context.Background()

	b, err := database.BeginBatch(ctx)
	require.NoError(t, err)
	s, err := b.ResolveStation(ctx, name, "")
	require.NoError(t, err)
	require.NoError(t, b.Commit())
	return s
}

func ptr[T any](v T) *T { return &v }

func sampleDeparture(stationID int64, fetchedAt time.Time) Departure {
	return Departure{
		StationID:        stationID,
		TrainID:          "1",
		Vehicle:          "BE.NMBS.IC1832",
		Platform:         "3",
		ScheduledTime:    ptr(time.Unix(1704106800, 0).UTC()),
		DelaySeconds:     180,
		IsNormalPlatform: true,
		Direction:        "Oostende",
		FetchedAt:        fetchedAt,
	}
}

func upsertAll(t *testing.T, database *DB, deps []Departure) UpsertCounts {
	t.Helper()
	ctx := context.Background()

	b, err := database.BeginBatch(ctx)
	require.NoError(t, err)
	counts, err := b.UpsertDepartures(ctx, deps)
	require.NoError(t, err)
	require.NoError(t, b.Commit())
	return counts
}

func TestUpsertDepartures_Idempotent(t *testing.T) {
	database := openTestDB(t)
	station := seedStation(t, database, "Brussels-Central")
	first := time.Date(2024, 1, 1, 6, 50, 0, 0, time.UTC)

	counts := upsertAll(t, database, []Departure{sampleDeparture(station.ID, first)})
	assert.Equal(t, UpsertCounts{Inserted: 1}, counts)

	again := sampleDeparture(station.ID, first.Add(5*time.Minute))
	again.DelaySeconds = 300
	again.Platform = "5"
	again.Canceled = true
	again.Occupancy = ptr("high")
	again.Direction = "Brugge" // not mutable

	counts = upsertAll(t, database, []Departure{again})
	assert.Equal(t, UpsertCounts{Updated: 1}, counts)

	rows, err := database.GetDeparturesByStation(context.Background(), station.ID, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	got := rows[0]
	assert.Equal(t, 300, got.DelaySeconds)
	assert.Equal(t, "5", got.Platform)
	assert.True(t, got.Canceled)
	assert.Equal(t, "high", *got.Occupancy)
	assert.Equal(t, "Oostende", got.Direction)
	assert.True(t, first.Add(5*time.Minute).Equal(got.FetchedAt))
	assert.Equal(t, "Brussels-Central", got.StationName)
}

func TestUpsertDepartures_StoredShape(t *testing.T) {
	database := openTestDB(t)
	station := seedStation(t, database, "Brussels-Central")

	upsertAll(t, database, []Departure{sampleDeparture(station.ID, time.Now().UTC())})

	rows, err := database.GetDeparturesByStation(context.Background(), station.ID, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	got := rows[0]
	assert.Equal(t, 180, got.DelaySeconds)
	assert.False(t, got.Canceled)
	assert.False(t, got.HasLeft)
	assert.True(t, got.IsNormalPlatform)
	assert.Equal(t, "Oostende", got.Direction)
	assert.Nil(t, got.Occupancy)
	require.NotNil(t, got.ScheduledTime)
	assert.Equal(t, time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC), *got.ScheduledTime)
}

func TestUpsertDepartures_NullScheduledTimeDedup(t *testing.T) {
	database := openTestDB(t)
	station := seedStation(t, database, "Gent-Sint-Pieters")

	d := sampleDeparture(station.ID, time.Now().UTC())
	d.ScheduledTime = nil

	assert.Equal(t, UpsertCounts{Inserted: 1}, upsertAll(t, database, []Departure{d}))
	assert.Equal(t, UpsertCounts{Updated: 1}, upsertAll(t, database, []Departure{d}))
}

func TestUpsertDepartures_SkipsFailingRecord(t *testing.T) {
	database := openTestDB(t)
	station := seedStation(t, database, "Antwerpen-Centraal")
	now := time.Now().UTC()

	good1 := sampleDeparture(station.ID, now)
	orphan := sampleDeparture(9999, now) // violates the station foreign key
	orphan.TrainID = "2"
	good2 := sampleDeparture(station.ID, now)
	good2.TrainID = "3"

	counts := upsertAll(t, database, []Departure{good1, orphan, good2})
	assert.Equal(t, UpsertCounts{Inserted: 2, Skipped: 1}, counts)

	rows, err := database.GetDeparturesByStation(context.Background(), station.ID, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestUpsertDepartures_RollbackDiscards(t *testing.T) {
	database := openTestDB(t)
	station := seedStation(t, database, "Leuven")
	ctx := context.Background()

	b, err := database.BeginBatch(ctx)
	require.NoError(t, err)
	deps := []Departure{sampleDeparture(station.ID, time.Now().UTC())}
	counts, err := b.UpsertDepartures(ctx, deps)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Inserted)
	assert.NotZero(t, deps[0].ID, "generated id is visible before commit")
	require.NoError(t, b.Rollback())

	rows, err := database.GetDeparturesByStation(ctx, station.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestUpsertDepartures_ClosedTransaction(t *testing.T) {
	database := openTestDB(t)
	station := seedStation(t, database, "Mechelen")
	ctx := context.Background()

	b, err := database.BeginBatch(ctx)
	require.NoError(t, err)
	require.NoError(t, b.Rollback())

	_, err = b.UpsertDepartures(ctx, []Departure{sampleDeparture(station.ID, time.Now().UTC())})
	require.Error(t, err)
	assert.ErrorIs(t, err, sql.ErrTxDone)
}

func TestGetRecentDepartures(t *testing.T) {
	database := openTestDB(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	database.now = fixedClock(now)
	station := seedStation(t, database, "Namur")

	old := sampleDeparture(station.ID, now.Add(-2*time.Hour))
	old.TrainID = "old"
	recent := sampleDeparture(station.ID, now.Add(-10*time.Minute))
	recent.TrainID = "recent"
	newest := sampleDeparture(station.ID, now.Add(-1*time.Minute))
	newest.TrainID = "newest"
	upsertAll(t, database, []Departure{old, recent, newest})

	rows, err := database.GetRecentDepartures(context.Background(), 60, 100)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "newest", rows[0].TrainID)
	assert.Equal(t, "recent", rows[1].TrainID)

	rows, err = database.GetRecentDepartures(context.Background(), 60, 1)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestListDeparturesBetween(t *testing.T) {
	database := openTestDB(t)
	a := seedStation(t, database, "Brugge")
	b := seedStation(t, database, "Aalst")
	now := time.Now().UTC()

	inRange := sampleDeparture(a.ID, now)
	otherStation := sampleDeparture(b.ID, now)
	outOfRange := sampleDeparture(a.ID, now)
	outOfRange.TrainID = "late"
	outOfRange.ScheduledTime = ptr(time.Date(2024, 1, 3, 7, 0, 0, 0, time.UTC))
	upsertAll(t, database, []Departure{inRange, otherStation, outOfRange})

	rows, err := database.ListDeparturesBetween(context.Background(),
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Aalst", rows[0].StationName)
	assert.Equal(t, "Brugge", rows[1].StationName)
}

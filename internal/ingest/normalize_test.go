package ingest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michiel-rondelez/challenge-azure/internal/db"
	"github.com/michiel-rondelez/challenge-azure/internal/irail"
)

func decodeRaw(t *testing.T, payload string) irail.RawDeparture {
	t.Helper()
	var raw irail.RawDeparture
	require.NoError(t, json.Unmarshal([]byte(payload), &raw))
	return raw
}

func TestNormalize_OostendeExample(t *testing.T) {
	raw := decodeRaw(t, `{"id": "1", "vehicle": "IC1832", "platform": "3", "time": 1704106800,
		"delay": "180", "canceled": "0", "station": "Oostende"}`)
	fetchedAt := time.Date(2024, 1, 1, 6, 55, 0, 0, time.FixedZone("CET", 3600))

	d, err := Normalize(raw, 5, fetchedAt)
	require.NoError(t, err)

	assert.Equal(t, int64(5), d.StationID)
	assert.Equal(t, "1", d.TrainID)
	assert.Equal(t, "IC1832", d.Vehicle)
	assert.Equal(t, "3", d.Platform)
	assert.Equal(t, 180, d.DelaySeconds)
	assert.False(t, d.Canceled)
	assert.False(t, d.HasLeft)
	assert.True(t, d.IsNormalPlatform)
	assert.Equal(t, "Oostende", d.Direction)
	assert.Nil(t, d.Occupancy)
	require.NotNil(t, d.ScheduledTime)
	assert.Equal(t, time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC), *d.ScheduledTime)
	assert.Equal(t, time.UTC, d.FetchedAt.Location())
}

func TestNormalize_Coercion(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		check   func(t *testing.T, d db.Departure)
	}{
		{
			name:    "flags set",
			payload: `{"id": "7", "canceled": 1, "left": "1", "platforminfo": {"name": "4", "normal": "0"}}`,
			check: func(t *testing.T, d db.Departure) {
				assert.True(t, d.Canceled)
				assert.True(t, d.HasLeft)
				assert.False(t, d.IsNormalPlatform)
			},
		},
		{
			name:    "boolean literals",
			payload: `{"id": "7", "canceled": true, "left": "false"}`,
			check: func(t *testing.T, d db.Departure) {
				assert.True(t, d.Canceled)
				assert.False(t, d.HasLeft)
			},
		},
		{
			name:    "missing fields use defaults",
			payload: `{"id": "7"}`,
			check: func(t *testing.T, d db.Departure) {
				assert.Equal(t, 0, d.DelaySeconds)
				assert.True(t, d.IsNormalPlatform)
				assert.Nil(t, d.ScheduledTime)
				assert.Empty(t, d.Direction)
			},
		},
		{
			name:    "malformed time leaves schedule unset",
			payload: `{"id": "7", "time": "soon"}`,
			check: func(t *testing.T, d db.Departure) {
				assert.Nil(t, d.ScheduledTime)
			},
		},
		{
			name:    "occupancy object",
			payload: `{"id": "7", "occupancy": {"@id": "http://api.irail.be/terms/medium", "name": "medium"}}`,
			check: func(t *testing.T, d db.Departure) {
				require.NotNil(t, d.Occupancy)
				assert.Equal(t, "medium", *d.Occupancy)
			},
		},
		{
			name:    "occupancy scalar ignored",
			payload: `{"id": "7", "occupancy": "medium"}`,
			check: func(t *testing.T, d db.Departure) {
				assert.Nil(t, d.Occupancy)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Normalize(decodeRaw(t, tt.payload), 1, time.Now())
			require.NoError(t, err)
			tt.check(t, d)
		})
	}
}

func TestNormalize_MappingErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		field   string
	}{
		{"missing id", `{"vehicle": "IC1832"}`, "id"},
		{"empty id", `{"id": ""}`, "id"},
		{"malformed delay", `{"id": "1", "delay": "3 min"}`, "delay"},
		{"malformed canceled", `{"id": "1", "canceled": "maybe"}`, "canceled"},
		{"malformed platform flag", `{"id": "1", "platforminfo": {"normal": "x"}}`, "platforminfo.normal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(decodeRaw(t, tt.payload), 1, time.Now())
			var me *MappingError
			require.ErrorAs(t, err, &me)
			assert.Equal(t, tt.field, me.Field)
		})
	}
}

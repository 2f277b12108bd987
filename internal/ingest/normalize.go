package ingest

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/michiel-rondelez/challenge-azure/internal/db"
	"github.com/michiel-rondelez/challenge-azure/internal/irail"
)

var errMissing = errors.New("missing")

// Normalize maps a raw liveboard entry onto a departure of stationID.
//
// Absent or unparsable departure times leave ScheduledTime unset. The
// 0/1 flags default to canceled=false, hasLeft=false and
// isNormalPlatform=true; delay defaults to 0. A missing train id or a
// malformed integer field yields a *MappingError.
func Normalize(raw irail.RawDeparture, stationID int64, fetchedAt time.Time) (db.Departure, error) {
	trainID := raw.ID.String()
	if trainID == "" {
		return db.Departure{}, &MappingError{Field: "id", Err: errMissing}
	}

	d := db.Departure{
		StationID:        stationID,
		TrainID:          trainID,
		Vehicle:          raw.Vehicle.String(),
		Platform:         raw.Platform.String(),
		ScheduledTime:    epochTime(raw.Time),
		Direction:        raw.Station.String(),
		IsNormalPlatform: true,
		FetchedAt:        fetchedAt.UTC(),
	}

	var err error
	if d.DelaySeconds, err = intField("delay", raw.Delay, 0); err != nil {
		return db.Departure{}, err
	}
	if d.Canceled, err = flagField("canceled", raw.Canceled, false); err != nil {
		return db.Departure{}, err
	}
	if d.HasLeft, err = flagField("left", raw.Left, false); err != nil {
		return db.Departure{}, err
	}
	if raw.PlatformInfo != nil {
		if d.IsNormalPlatform, err = flagField("platforminfo.normal", raw.PlatformInfo.Normal, true); err != nil {
			return db.Departure{}, err
		}
	}
	if name, ok := raw.OccupancyName(); ok {
		d.Occupancy = &name
	}

	return d, nil
}

func epochTime(v *irail.Value) *time.Time {
	secs, err := strconv.ParseInt(v.String(), 10, 64)
	if err != nil || secs <= 0 {
		return nil
	}
	t := time.Unix(secs, 0).UTC()
	return &t
}

func intField(name string, v *irail.Value, def int) (int, error) {
	s := v.String()
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &MappingError{Field: name, Value: s, Err: err}
	}
	return n, nil
}

func flagField(name string, v *irail.Value, def bool) (bool, error) {
	s := v.String()
	switch strings.ToLower(s) {
	case "":
		return def, nil
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return false, &MappingError{Field: name, Value: s, Err: err}
	}
	return n != 0, nil
}

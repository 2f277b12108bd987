package irail

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Value is a scalar field the API sends either as a JSON string or as a
// JSON number (e.g. "delay": "180" and "delay": 180 both occur).
type Value string

// UnmarshalJSON accepts strings, numbers and booleans.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0:
		return fmt.Errorf("empty value")
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Value(strings.TrimSpace(s))
	case data[0] == '{' || data[0] == '[':
		return fmt.Errorf("expected scalar, got %s", data)
	default:
		*v = Value(data)
	}
	return nil
}

// String returns the raw text, empty when v is nil.
func (v *Value) String() string {
	if v == nil {
		return ""
	}
	return string(*v)
}

// PlatformInfo is the platform sub-object of a liveboard entry.
type PlatformInfo struct {
	Name   *Value `json:"name"`
	Normal *Value `json:"normal"`
}

// RawDeparture is one liveboard entry as received. Every field is optional;
// interpretation is left to the normalizer.
type RawDeparture struct {
	ID           *Value          `json:"id"`
	Vehicle      *Value          `json:"vehicle"`
	Platform     *Value          `json:"platform"`
	Time         *Value          `json:"time"`
	Delay        *Value          `json:"delay"`
	Canceled     *Value          `json:"canceled"`
	Left         *Value          `json:"left"`
	Station      *Value          `json:"station"`
	PlatformInfo *PlatformInfo   `json:"platforminfo"`
	Occupancy    json.RawMessage `json:"occupancy"`
}

// OccupancyName returns occupancy.name when occupancy is an object carrying one.
func (d RawDeparture) OccupancyName() (string, bool) {
	if len(d.Occupancy) == 0 || d.Occupancy[0] != '{' {
		return "", false
	}
	var occ struct {
		Name *Value `json:"name"`
	}
	if err := json.Unmarshal(d.Occupancy, &occ); err != nil || occ.Name == nil {
		return "", false
	}
	return occ.Name.String(), true
}

// Liveboard is the decoded liveboard of one station.
type Liveboard struct {
	Station     string
	StationInfo *RawStation
	Departures  []RawDeparture
}

// StandardName is the canonical station name reported by the API, falling
// back to the requested name.
func (l *Liveboard) StandardName() string {
	if l.StationInfo != nil && strings.TrimSpace(l.StationInfo.StandardName) != "" {
		return strings.TrimSpace(l.StationInfo.StandardName)
	}
	return l.Station
}

type liveboardResponse struct {
	Station     string      `json:"station"`
	StationInfo *RawStation `json:"stationinfo"`
	Departures  struct {
		Number    *Value         `json:"number"`
		Departure []RawDeparture `json:"departure"`
	} `json:"departures"`
}

// RawStation is one entry of the station directory.
type RawStation struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	StandardName string `json:"standardname"`
	LocationX    *Value `json:"locationX"`
	LocationY    *Value `json:"locationY"`
}

type stationsResponse struct {
	Station []RawStation `json:"station"`
}

// Package telemetry holds the value types shared by the decoders, the store,
// and the detectors.
package telemetry

import (
	"fmt"
	"log/slog"
	"time"
)

// LevelCritical is logged when data may carry wrong timestamps.
const LevelCritical = slog.Level(12)

// Reserved field names in binary records.
const (
	FieldTimestamp  = "Timestamp"
	FieldTerminator = "Line terminator"
	FieldStatus     = "Status"
)

// Reading is one decoded sensor value at the time of its record.
type Reading struct {
	Sensor string    `json:"sensor"`
	Time   time.Time `json:"time"`
	Value  float64   `json:"value"`
}

// Point is one entry of a sensor series.
type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// DuplicateRecord marks a timestamp that arrived with two different values.
// Kept is the value stored in the series, Rejected the one discarded.
type DuplicateRecord struct {
	Sensor   string    `json:"sensor"`
	Time     time.Time `json:"time"`
	Kept     float64   `json:"kept"`
	Rejected float64   `json:"rejected"`
}

// SystemState is the subsystem health code reported in telemetry.
type SystemState int

// Known system states.
const (
	StateOK       SystemState = 0
	StateWarning  SystemState = 1
	StateCritical SystemState = 2
)

func (s SystemState) String() string {
	switch s {
	case StateOK:
		return "OK"
	case StateWarning:
		return "WARNING"
	case StateCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("UNKNOWN THM STATUS (%d)", int(s))
	}
}

// Known reports whether s is one of the defined states.
func (s SystemState) Known() bool {
	return s >= StateOK && s <= StateCritical
}

var systemStateNames = map[string]struct{}{
	"THM System State": {},
	"State":            {},
	"System State":     {},
	"Status":           {},
}

// IsSystemState reports whether a sensor name carries a system state code
// rather than a physical measurement.
func IsSystemState(name string) bool {
	_, ok := systemStateNames[name]
	return ok
}

// StateReading is a system state code observed at a time.
type StateReading struct {
	Sensor string      `json:"sensor"`
	Time   time.Time   `json:"time"`
	State  SystemState `json:"state"`
}

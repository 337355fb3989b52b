// Package beacon turns live beacon messages into readings. It parses JSON and
// CBOR bodies, resolves the beacon time, and routes messages by their key.
package beacon

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/zamazir/THMmonitor/errors"
	"github.com/zamazir/THMmonitor/pkg/timestamp"
	"github.com/zamazir/THMmonitor/telemetry"
)

// Metadata keys carried by every beacon.
const (
	KeyTimestamp = "Beacon Timestamp"
	KeyVersion   = "Beacon Version"
	KeySource    = "Source"
	KeySourceID  = "Source ID"
)

// DefaultClockValidity bounds how old a clock reference may be.
const DefaultClockValidity = 5 * time.Minute

var metadataKeys = []string{KeyTimestamp, KeyVersion, KeySource, KeySourceID}

// TimeSource names where a beacon's time came from.
type TimeSource string

// Time sources in order of precedence.
const (
	TimeFromBeacon  TimeSource = "beacon"
	TimeFromClock   TimeSource = "clock"
	TimeFromArrival TimeSource = "arrival"
)

// Result is a normalized beacon.
type Result struct {
	Time       time.Time                `json:"time"`
	TimeSource TimeSource               `json:"time_source"`
	Readings   []telemetry.Reading      `json:"readings"`
	States     []telemetry.StateReading `json:"states,omitempty"`
}

// Normalizer converts beacon maps into readings. It remembers the reference
// time of the latest clock beacon.
type Normalizer struct {
	mu            sync.Mutex
	clockValidity time.Duration
	clockTime     time.Time
	clockArrival  time.Time
	logger        *slog.Logger
}

// NewNormalizer creates a normalizer. A non-positive clockValidity selects
// DefaultClockValidity.
func NewNormalizer(clockValidity time.Duration, logger *slog.Logger) *Normalizer {
	if clockValidity <= 0 {
		clockValidity = DefaultClockValidity
	}
	if logger == nil {
		logger = slog.Default().With("component", "beacon")
	}
	return &Normalizer{clockValidity: clockValidity, logger: logger}
}

// UpdateClock records the timestamp of a clock beacon as the reference time
// for telemetry beacons that carry none.
func (n *Normalizer) UpdateClock(m map[string]any, arrival time.Time) (time.Time, error) {
	raw, ok := m[KeyTimestamp]
	if !ok || raw == nil {
		return time.Time{}, errors.WrapInvalid(fmt.Errorf("%w: clock beacon without %q", errors.ErrMalformedBeacon, KeyTimestamp),
			"Normalizer", "UpdateClock", "read clock time")
	}
	t, err := timestamp.ParseBeacon(raw)
	if err != nil {
		return time.Time{}, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrMalformedBeacon, err),
			"Normalizer", "UpdateClock", "parse clock time")
	}

	n.mu.Lock()
	n.clockTime = t
	n.clockArrival = arrival
	n.mu.Unlock()
	return t, nil
}

// Clock returns the reference time and when it was received.
func (n *Normalizer) Clock() (time.Time, time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.clockTime, n.clockArrival
}

// Reset forgets the clock reference.
func (n *Normalizer) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.clockTime = time.Time{}
	n.clockArrival = time.Time{}
}

// Normalize strips the metadata keys and returns one reading per sensor,
// all stamped with the resolved beacon time. System state keys become
// state readings. Null values are skipped.
func (n *Normalizer) Normalize(m map[string]any, arrival time.Time) (Result, error) {
	res := Result{}
	res.Time, res.TimeSource = n.resolveTime(m, arrival)

	names := make([]string, 0, len(m))
	for name := range m {
		if !isMetadata(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		raw := m[name]
		if raw == nil {
			continue
		}
		v, err := toFloat(raw)
		if err != nil {
			return Result{}, errors.WrapInvalid(fmt.Errorf("%w: sensor %q: %v", errors.ErrMalformedBeacon, name, err),
				"Normalizer", "Normalize", "read sensor value")
		}

		if telemetry.IsSystemState(name) {
			res.States = append(res.States, telemetry.StateReading{
				Sensor: name,
				Time:   res.Time,
				State:  telemetry.SystemState(int(v)),
			})
			continue
		}
		res.Readings = append(res.Readings, telemetry.Reading{Sensor: name, Time: res.Time, Value: v})
	}

	return res, nil
}

func (n *Normalizer) resolveTime(m map[string]any, arrival time.Time) (time.Time, TimeSource) {
	if raw, ok := m[KeyTimestamp]; ok && raw != nil {
		t, err := timestamp.ParseBeacon(raw)
		if err == nil {
			return t, TimeFromBeacon
		}
		n.logger.Warn("Unparseable beacon timestamp", "value", raw, "error", err)
	}

	n.mu.Lock()
	clock, received := n.clockTime, n.clockArrival
	n.mu.Unlock()

	if !clock.IsZero() && arrival.Sub(received) <= n.clockValidity {
		return clock, TimeFromClock
	}
	return arrival.UTC(), TimeFromArrival
}

func isMetadata(key string) bool {
	for _, k := range metadataKeys {
		if k == key {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, error) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, err
		}
		f = parsed
	default:
		return 0, fmt.Errorf("non-numeric value of type %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite value %v", f)
	}
	return f, nil
}

// Package steadystate classifies sensors as thermally settled when their
// values stay within a band over a trailing time window.
package steadystate

import (
	"sort"
	"sync"
	"time"

	"github.com/zamazir/THMmonitor/telemetry"
)

// Defaults used by the session when no tuning is configured.
const (
	DefaultThreshold = 0.5
	DefaultWindow    = 5 * time.Minute
)

// Transition is a change of a sensor's classification.
type Transition struct {
	Sensor string    `json:"sensor"`
	Steady bool      `json:"steady"`
	At     time.Time `json:"at"`
}

// Detector remembers the last classification per sensor. Sensors start out
// not steady.
type Detector struct {
	mu     sync.Mutex
	states map[string]bool
}

// New creates a detector with no sensor in steady state.
func New() *Detector {
	return &Detector{states: make(map[string]bool)}
}

// Evaluate classifies sensor from its series. The window covers points with
// latest-window < t <= latest. The sensor is steady when the value range in
// the window is below threshold. The second result is true only when the
// classification changed. An empty series leaves the state untouched and
// system state sensors are never evaluated.
func (d *Detector) Evaluate(sensor string, series []telemetry.Point, threshold float64, window time.Duration) (Transition, bool) {
	if telemetry.IsSystemState(sensor) || len(series) == 0 {
		return Transition{}, false
	}

	latest := series[0].Time
	for _, p := range series[1:] {
		if p.Time.After(latest) {
			latest = p.Time
		}
	}
	since := latest.Add(-window)

	lo, hi := 0.0, 0.0
	seen := false
	for _, p := range series {
		if !p.Time.After(since) || p.Time.After(latest) {
			continue
		}
		if !seen {
			lo, hi = p.Value, p.Value
			seen = true
			continue
		}
		lo = min(lo, p.Value)
		hi = max(hi, p.Value)
	}
	if !seen {
		return Transition{}, false
	}

	steady := hi-lo < threshold

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.states[sensor] == steady {
		return Transition{}, false
	}
	d.states[sensor] = steady
	return Transition{Sensor: sensor, Steady: steady, At: latest}, true
}

// State returns the current classification of sensor.
func (d *Detector) State(sensor string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.states[sensor]
}

// States returns the sensors currently in steady state, sorted.
func (d *Detector) States() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []string
	for name, steady := range d.states {
		if steady {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Reset returns every sensor to not steady.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.states = make(map[string]bool)
}

package beacon

import "strings"

// Default routing keys.
const (
	DefaultTelemetryKey = "THM"
	DefaultClockKey     = "CDH"
)

// RoutingKeys lists the subsystem keys published on the beacon exchange.
var RoutingKeys = []string{"CDH", "HORST", "ADCS", "THM", "EPS", "COM", "PL"}

// Class is the role of a message in the session.
type Class int

// Message classes.
const (
	ClassOther Class = iota
	ClassTelemetry
	ClassClock
)

func (c Class) String() string {
	switch c {
	case ClassTelemetry:
		return "telemetry"
	case ClassClock:
		return "clock"
	default:
		return "other"
	}
}

// Router classifies routing keys. Keys compare case-insensitively.
type Router struct {
	telemetry string
	clock     string
}

// NewRouter creates a router. Empty keys select the defaults.
func NewRouter(telemetryKey, clockKey string) *Router {
	if telemetryKey == "" {
		telemetryKey = DefaultTelemetryKey
	}
	if clockKey == "" {
		clockKey = DefaultClockKey
	}
	return &Router{telemetry: telemetryKey, clock: clockKey}
}

// Classify returns the class of key.
func (r *Router) Classify(key string) Class {
	switch {
	case strings.EqualFold(key, r.telemetry):
		return ClassTelemetry
	case strings.EqualFold(key, r.clock):
		return ClassClock
	default:
		return ClassOther
	}
}

// TelemetryKey returns the key carrying thermal housekeeping.
func (r *Router) TelemetryKey() string { return r.telemetry }

// ClockKey returns the key carrying the reference clock.
func (r *Router) ClockKey() string { return r.clock }

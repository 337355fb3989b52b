// Package events carries monitor events from the session to its observers.
//
// Events are published on a Bus that fans them out to registered sinks.
// Each sink has its own bounded queue and goroutine so a slow sink never
// stalls ingest or the other sinks; events that do not fit are dropped and
// counted.
package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zamazir/THMmonitor/processor/steadystate"
	"github.com/zamazir/THMmonitor/telemetry"
)

// Kind identifies an event type.
type Kind string

// Event kinds.
const (
	KindSteadyState Kind = "steady_state"
	KindBeaconGap   Kind = "beacon_gap"
	KindDuplicate   Kind = "duplicate"
	KindOverdue     Kind = "overdue"
	KindFeedStatus  Kind = "feed_status"
	KindAlarm       Kind = "alarm"
	KindFeedError   Kind = "feed_error"
)

// Kinds lists every event kind.
func Kinds() []Kind {
	return []Kind{KindSteadyState, KindBeaconGap, KindDuplicate, KindOverdue, KindFeedStatus, KindAlarm, KindFeedError}
}

// Event is one notification. Only the fields relevant to Kind are set.
type Event struct {
	ID        string                     `json:"id"`
	Kind      Kind                       `json:"kind"`
	Time      time.Time                  `json:"time"`
	Sensor    string                     `json:"sensor,omitempty"`
	Steady    *bool                      `json:"steady,omitempty"`
	Overdue   *bool                      `json:"overdue,omitempty"`
	Timestamp *time.Time                 `json:"timestamp,omitempty"`
	State     *telemetry.SystemState     `json:"state,omitempty"`
	Duplicate *telemetry.DuplicateRecord `json:"duplicate,omitempty"`
	Source    string                     `json:"source,omitempty"`
	Message   string                     `json:"message,omitempty"`
}

func newEvent(kind Kind, now time.Time) Event {
	return Event{ID: uuid.NewString(), Kind: kind, Time: now.UTC()}
}

// SteadyState reports a steady state transition.
func SteadyState(tr steadystate.Transition, now time.Time) Event {
	e := newEvent(KindSteadyState, now)
	e.Sensor = tr.Sensor
	steady := tr.Steady
	e.Steady = &steady
	at := tr.At
	e.Timestamp = &at
	if steady {
		e.Message = fmt.Sprintf("%s reached steady state", tr.Sensor)
	} else {
		e.Message = fmt.Sprintf("%s left steady state", tr.Sensor)
	}
	return e
}

// BeaconGap reports an unusually long pause after the arrival at last.
func BeaconGap(last time.Time, delta time.Duration, now time.Time) Event {
	e := newEvent(KindBeaconGap, now)
	e.Timestamp = &last
	e.Message = fmt.Sprintf("Unusually long gap between beacons: %s after %s", delta.Round(time.Second), last.Format(time.RFC3339))
	return e
}

// Duplicate reports a conflicting sample.
func Duplicate(rec telemetry.DuplicateRecord, now time.Time) Event {
	e := newEvent(KindDuplicate, now)
	e.Sensor = rec.Sensor
	e.Duplicate = &rec
	ts := rec.Time
	e.Timestamp = &ts
	e.Message = fmt.Sprintf("Two different values for sensor %s at %s found: old %v, new %v",
		rec.Sensor, rec.Time.Format(time.RFC3339), rec.Kept, rec.Rejected)
	return e
}

// Overdue reports a change of the overdue flag.
func Overdue(overdue bool, status string, now time.Time) Event {
	e := newEvent(KindOverdue, now)
	e.Overdue = &overdue
	e.Message = status
	return e
}

// FeedStatus carries the periodic status line.
func FeedStatus(overdue bool, status string, now time.Time) Event {
	e := newEvent(KindFeedStatus, now)
	e.Overdue = &overdue
	e.Message = status
	return e
}

// Alarm reports a change of the system state.
func Alarm(sr telemetry.StateReading, now time.Time) Event {
	e := newEvent(KindAlarm, now)
	e.Sensor = sr.Sensor
	state := sr.State
	e.State = &state
	ts := sr.Time
	e.Timestamp = &ts
	switch state {
	case telemetry.StateOK:
		e.Message = "System state back to OK"
	case telemetry.StateWarning:
		e.Message = "SYSTEM IN WARNING STATE"
	case telemetry.StateCritical:
		e.Message = "SYSTEM IN CRITICAL STATE"
	default:
		e.Message = state.String()
	}
	return e
}

// FeedError reports a message the feed could not use.
func FeedError(routingKey string, err error, now time.Time) Event {
	e := newEvent(KindFeedError, now)
	e.Source = routingKey
	e.Message = err.Error()
	return e
}

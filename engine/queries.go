package engine

import (
	"time"

	"github.com/zamazir/THMmonitor/input/feed"
	"github.com/zamazir/THMmonitor/processor/ambient"
	"github.com/zamazir/THMmonitor/processor/periodicity"
	"github.com/zamazir/THMmonitor/telemetry"
)

// SensorSummary describes one stored series.
type SensorSummary struct {
	Name      string           `json:"name"`
	Subsystem string           `json:"subsystem"`
	Component string           `json:"component"`
	Points    int              `json:"points"`
	Latest    *telemetry.Point `json:"latest,omitempty"`
	Steady    bool             `json:"steady"`
}

// Stats summarizes the session.
type Stats struct {
	SessionID   string    `json:"session_id"`
	Started     time.Time `json:"started"`
	Sensors     int       `json:"sensors"`
	Points      int       `json:"points"`
	Duplicates  int       `json:"duplicates"`
	Messages    int64     `json:"messages"`
	Errors      int64     `json:"errors"`
	FeedRunning bool      `json:"feed_running"`
	QueueDepth  int       `json:"queue_depth"`
}

// Sensors lists every stored series in lexical order.
func (s *Session) Sensors() []SensorSummary {
	names := s.store.Sensors()
	out := make([]SensorSummary, 0, len(names))
	for _, name := range names {
		e := s.catalog.Lookup(name)
		sum := SensorSummary{
			Name:      name,
			Subsystem: e.Subsystem,
			Component: e.Component,
			Points:    s.store.Count(name),
			Steady:    s.detector.State(name),
		}
		if p, ok := s.store.Latest(name); ok {
			sum.Latest = &p
		}
		out = append(out, sum)
	}
	return out
}

// Series returns a snapshot of the series of sensor.
func (s *Session) Series(sensor string) ([]telemetry.Point, bool) {
	return s.store.Series(sensor)
}

// Duplicates returns every conflicting sample seen in this session.
func (s *Session) Duplicates() []telemetry.DuplicateRecord {
	return s.store.Duplicates()
}

// Periodicity returns the beacon period estimate and overdue status now.
func (s *Session) Periodicity() periodicity.Status {
	return s.monitor.Status(s.now())
}

// SteadySensors returns the sensors currently in steady state.
func (s *Session) SteadySensors() []string {
	return s.detector.States()
}

// Alarms returns the latest system state per state sensor.
func (s *Session) Alarms() []telemetry.StateReading {
	return s.alarms.current()
}

// Ambient returns the TVAC reference, or nil if none was loaded.
func (s *Session) Ambient() *ambient.Reference {
	return s.ambient.Load()
}

// FeedStats returns the feed runner counters. The second result is false
// when the session has no live feed.
func (s *Session) FeedStats() (feed.RunnerStats, bool) {
	if s.runner == nil {
		return feed.RunnerStats{}, false
	}
	return s.runner.Stats(), true
}

// Stats returns session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	return Stats{
		SessionID:   s.id,
		Started:     started,
		Sensors:     len(s.store.Sensors()),
		Points:      s.store.Len(),
		Duplicates:  len(s.store.Duplicates()),
		Messages:    s.messages.Load(),
		Errors:      s.errorCount.Load(),
		FeedRunning: s.FeedRunning(),
		QueueDepth:  len(s.queue),
	}
}

// Package periodicity estimates the downlink period of a telemetry feed from
// message arrival times and reports gaps and overdue beacons.
package periodicity

import (
	"fmt"
	"sync"
	"time"

	"github.com/zamazir/THMmonitor/errors"
	"github.com/zamazir/THMmonitor/metric"
	"github.com/zamazir/THMmonitor/pkg/buffer"
	"github.com/zamazir/THMmonitor/pkg/timestamp"
)

// Defaults for Config.
const (
	DefaultThreshold = time.Second
	DefaultCapacity  = 100
	DefaultGapFactor = 3.0
)

// Config holds the monitor tuning.
type Config struct {
	// Threshold discards arrivals closer than this to the previous one.
	Threshold time.Duration `json:"threshold"`
	// Capacity bounds the arrival history.
	Capacity int `json:"capacity"`
	// GapFactor flags a delta larger than GapFactor times the mean of the
	// deltas before it.
	GapFactor float64 `json:"gap_factor"`
}

// DefaultConfig returns the standard monitor tuning.
func DefaultConfig() Config {
	return Config{
		Threshold: DefaultThreshold,
		Capacity:  DefaultCapacity,
		GapFactor: DefaultGapFactor,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Threshold < 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: negative threshold", errors.ErrInvalidConfig),
			"periodicity", "Validate", "check threshold")
	}
	if c.Capacity < 2 {
		return errors.WrapInvalid(fmt.Errorf("%w: capacity must hold at least two arrivals", errors.ErrInvalidConfig),
			"periodicity", "Validate", "check capacity")
	}
	if c.GapFactor <= 1 {
		return errors.WrapInvalid(fmt.Errorf("%w: gap factor must exceed 1", errors.ErrInvalidConfig),
			"periodicity", "Validate", "check gap factor")
	}
	return nil
}

// GapEvent reports an unusually long pause in the feed. Time is the last
// arrival before the pause.
type GapEvent struct {
	Time  time.Time     `json:"time"`
	Delta time.Duration `json:"delta"`
	Mean  time.Duration `json:"mean"`
}

// Estimate is the current view of the downlink period.
type Estimate struct {
	Known        bool          `json:"known"`
	Samples      int           `json:"samples"`
	Last         time.Time     `json:"last"`
	MeanPeriod   time.Duration `json:"mean_period"`
	NextExpected time.Time     `json:"next_expected"`
}

// Status is the estimate evaluated at a point in time.
type Status struct {
	Estimate
	Now       time.Time     `json:"now"`
	Overdue   bool          `json:"overdue"`
	Remaining time.Duration `json:"remaining"`
}

// String renders the operator status line.
func (s Status) String() string {
	if !s.Known {
		return "Downlink period unknown"
	}
	line := fmt.Sprintf("Last downlink was at %s | Downlink normally every: %s s - Expecting next beacon in ",
		s.Last.Format(timestamp.DisplayLayout), timestamp.Seconds(s.MeanPeriod))
	if s.Remaining < 0 {
		line += fmt.Sprintf("T+%s s", timestamp.Seconds(-s.Remaining))
	} else {
		line += fmt.Sprintf("T-%s s", timestamp.Seconds(s.Remaining))
	}
	if s.Overdue {
		line += " BEACON OVERDUE"
	}
	return line
}

// Monitor keeps the bounded arrival history.
type Monitor struct {
	mu       sync.Mutex
	cfg      Config
	arrivals *buffer.Ring[time.Time]
}

// New creates a monitor. A nil registry disables metrics of the arrival ring.
func New(cfg Config, registry *metric.MetricsRegistry) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := []buffer.Option[time.Time]{buffer.WithOverflowPolicy[time.Time](buffer.DropOldest)}
	if registry != nil {
		opts = append(opts, buffer.WithMetrics[time.Time](registry, "arrivals"))
	}
	ring, err := buffer.NewRing[time.Time](cfg.Capacity, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "periodicity", "New", "create arrival ring")
	}

	return &Monitor{cfg: cfg, arrivals: ring}, nil
}

// OnArrival records an arrival. It returns false when t falls within the
// threshold of the previous arrival. A GapEvent is returned when the new
// delta exceeds GapFactor times the mean of the earlier deltas.
func (m *Monitor) OnArrival(t time.Time) (bool, *GapEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if last, ok := m.arrivals.Last(); ok && t.Sub(last) < m.cfg.Threshold {
		return false, nil
	}
	m.arrivals.Write(t)

	times := m.arrivals.Snapshot()
	if len(times) < 3 {
		return true, nil
	}

	n := len(times)
	newest := times[n-1].Sub(times[n-2])
	preceding := meanDelta(times[:n-1])
	if float64(newest) > m.cfg.GapFactor*float64(preceding) {
		return true, &GapEvent{Time: times[n-2], Delta: newest, Mean: preceding}
	}
	return true, nil
}

// Estimate returns the mean period over the arrival history.
func (m *Monitor) Estimate() Estimate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return estimate(m.arrivals.Snapshot())
}

// Status evaluates the estimate at now. It does not modify the monitor.
func (m *Monitor) Status(now time.Time) Status {
	st := Status{Estimate: m.Estimate(), Now: now}
	if !st.Known {
		return st
	}
	st.Remaining = st.NextExpected.Sub(now)
	st.Overdue = now.After(st.NextExpected)
	return st
}

// Reset forgets every arrival.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.arrivals.Clear()
}

func estimate(times []time.Time) Estimate {
	est := Estimate{Samples: len(times)}
	if len(times) == 0 {
		return est
	}
	est.Last = times[len(times)-1]
	if len(times) < 2 {
		return est
	}
	est.Known = true
	est.MeanPeriod = meanDelta(times)
	est.NextExpected = est.Last.Add(est.MeanPeriod)
	return est
}

func meanDelta(times []time.Time) time.Duration {
	if len(times) < 2 {
		return 0
	}
	return times[len(times)-1].Sub(times[0]) / time.Duration(len(times)-1)
}

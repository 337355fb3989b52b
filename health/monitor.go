package health

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/zamazir/THMmonitor/component"
	"github.com/zamazir/THMmonitor/metric"
)

type entry struct {
	status Status
	errors int
}

// Monitor grades components on every check and remembers the last grade of
// each, so that it can report new errors and log level changes.
type Monitor struct {
	logger  *slog.Logger
	metrics *metric.Metrics
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]entry
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger logs every change of a component's level.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger.With("component", "health")
		}
	}
}

// WithMetrics sets the health gauge of each checked component.
func WithMetrics(metrics *metric.Metrics) Option {
	return func(m *Monitor) { m.metrics = metrics }
}

// NewMonitor creates a monitor with no history.
func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{
		logger:  slog.Default().With("component", "health"),
		now:     time.Now,
		entries: make(map[string]entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Check asks each component for its report and returns the aggregate for
// system. Sub-statuses are ordered by component name.
func (m *Monitor) Check(system string, components ...component.Discoverable) Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	subs := make([]Status, 0, len(components))
	for _, c := range components {
		meta, h := c.Meta(), c.Health()

		prev, seen := m.entries[meta.Name]
		newErrors := h.ErrorCount
		if seen {
			newErrors = max(h.ErrorCount-prev.errors, 0)
		}

		st := assess(meta, h, c.DataFlow(), newErrors, now)
		if seen && prev.status.Level != st.Level {
			m.logTransition(prev.status, st)
		}
		if m.metrics != nil {
			m.metrics.RecordHealthStatus(meta.Name, st.Healthy)
		}
		m.entries[meta.Name] = entry{status: st, errors: h.ErrorCount}
		subs = append(subs, st)
	}

	sort.Slice(subs, func(i, j int) bool { return subs[i].Component < subs[j].Component })
	return aggregate(system, subs, now)
}

func (m *Monitor) logTransition(from, to Status) {
	args := []any{"name", to.Component, "from", from.Level.String(), "to", to.Level.String(), "message", to.Message}
	switch to.Level {
	case LevelHealthy:
		m.logger.Info("Component recovered", args...)
	case LevelDegraded:
		m.logger.Warn("Component degraded", args...)
	default:
		m.logger.Error("Component unhealthy", args...)
	}
}

// Last returns the grade given to name on the latest check.
func (m *Monitor) Last(name string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	return e.status, ok
}

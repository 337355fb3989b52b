package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zamazir/THMmonitor/metric"
)

// sessionMetrics holds Prometheus metrics for the session engine.
type sessionMetrics struct {
	// Writer activity
	batches       *prometheus.CounterVec // By origin (feed, file, clear)
	batchDuration prometheus.Histogram
	queueDepth    prometheus.Gauge

	// Detections
	transitions *prometheus.CounterVec // By direction (steady, unsteady)
	alarms      *prometheus.CounterVec // By state
	gaps        prometheus.Counter
	overdue     prometheus.Gauge

	// Rejected input
	feedErrors *prometheus.CounterVec // By routing key
}

// newSessionMetrics creates and registers session metrics with the provided registry.
func newSessionMetrics(registry *metric.MetricsRegistry) (*sessionMetrics, error) {
	if registry == nil {
		return nil, nil // Metrics disabled
	}

	m := &sessionMetrics{
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "session",
			Name:      "batches_total",
			Help:      "Batches merged by the session writer",
		}, []string{"origin"}),

		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "session",
			Name:      "batch_duration_seconds",
			Help:      "Time to merge one batch and evaluate its sensors",
			Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		}),

		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "session",
			Name:      "queue_depth",
			Help:      "Batches waiting for the session writer",
		}),

		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "session",
			Name:      "steady_transitions_total",
			Help:      "Steady state transitions",
		}, []string{"direction"}),

		alarms: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "session",
			Name:      "alarms_total",
			Help:      "System state changes",
		}, []string{"state"}),

		gaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "session",
			Name:      "beacon_gaps_total",
			Help:      "Unusually long pauses between beacons",
		}),

		overdue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "session",
			Name:      "beacon_overdue",
			Help:      "1 while the next beacon is overdue",
		}),

		feedErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "session",
			Name:      "feed_errors_total",
			Help:      "Feed messages that could not be used",
		}, []string{"routing_key"}),
	}

	if err := registry.RegisterCounterVec("session", "batches", m.batches); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram("session", "batch_duration", m.batchDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("session", "queue_depth", m.queueDepth); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("session", "steady_transitions", m.transitions); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("session", "alarms", m.alarms); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("session", "beacon_gaps", m.gaps); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("session", "beacon_overdue", m.overdue); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("session", "feed_errors", m.feedErrors); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *sessionMetrics) recordBatch(origin string, seconds float64) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(origin).Inc()
	m.batchDuration.Observe(seconds)
}

func (m *sessionMetrics) setQueueDepth(n int) {
	if m != nil {
		m.queueDepth.Set(float64(n))
	}
}

func (m *sessionMetrics) recordTransition(steady bool) {
	if m == nil {
		return
	}
	direction := "unsteady"
	if steady {
		direction = "steady"
	}
	m.transitions.WithLabelValues(direction).Inc()
}

func (m *sessionMetrics) recordAlarm(state string) {
	if m != nil {
		m.alarms.WithLabelValues(state).Inc()
	}
}

func (m *sessionMetrics) recordGap() {
	if m != nil {
		m.gaps.Inc()
	}
}

func (m *sessionMetrics) setOverdue(overdue bool) {
	if m == nil {
		return
	}
	if overdue {
		m.overdue.Set(1)
	} else {
		m.overdue.Set(0)
	}
}

func (m *sessionMetrics) recordFeedError(routingKey string) {
	if m != nil {
		m.feedErrors.WithLabelValues(routingKey).Inc()
	}
}

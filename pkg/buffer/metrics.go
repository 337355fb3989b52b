package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zamazir/THMmonitor/metric"
)

type ringMetrics struct {
	writes      prometheus.Counter
	drops       prometheus.Counter
	size        prometheus.Gauge
	utilization prometheus.Gauge
}

func newRingMetrics(registry *metric.MetricsRegistry, prefix string) (*ringMetrics, error) {
	labels := prometheus.Labels{"component": prefix}
	m := &ringMetrics{
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "buffer",
			Name:        "writes_total",
			ConstLabels: labels,
			Help:        "Items stored in the ring",
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "buffer",
			Name:        "drops_total",
			ConstLabels: labels,
			Help:        "Items dropped due to overflow",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "buffer",
			Name:        "size",
			ConstLabels: labels,
			Help:        "Current number of items in the ring",
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "buffer",
			Name:        "utilization",
			ConstLabels: labels,
			Help:        "Ring utilization (0.0 to 1.0)",
		}),
	}

	if err := registry.RegisterCounter(prefix, "buffer_writes", m.writes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "buffer_drops", m.drops); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "buffer_size", m.size); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "buffer_utilization", m.utilization); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *ringMetrics) record(stored, dropped bool, size, capacity int) {
	if stored {
		m.writes.Inc()
	}
	if dropped {
		m.drops.Inc()
	}
	m.size.Set(float64(size))
	m.utilization.Set(float64(size) / float64(capacity))
}

package timeseries

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zamazir/THMmonitor/metric"
)

type storeMetrics struct {
	readings   prometheus.Counter
	inserted   prometheus.Counter
	duplicates prometheus.Counter
	series     prometheus.Gauge
	points     prometheus.Gauge
}

func newStoreMetrics(registry *metric.MetricsRegistry) (*storeMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &storeMetrics{
		readings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "store",
			Name:      "readings_total",
			Help:      "Readings offered to the store",
		}),
		inserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "store",
			Name:      "inserted_total",
			Help:      "Readings inserted into a series",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "store",
			Name:      "duplicates_total",
			Help:      "Conflicting readings rejected at an existing timestamp",
		}),
		series: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "store",
			Name:      "series",
			Help:      "Number of sensor series",
		}),
		points: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "store",
			Name:      "points",
			Help:      "Number of stored points across all series",
		}),
	}

	if err := registry.RegisterCounter("store", "readings_total", m.readings); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("store", "inserted_total", m.inserted); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("store", "duplicates_total", m.duplicates); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("store", "series", m.series); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("store", "points", m.points); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *storeMetrics) recordAppend(offered, inserted, dups, series, points int) {
	m.readings.Add(float64(offered))
	m.inserted.Add(float64(inserted))
	m.duplicates.Add(float64(dups))
	m.series.Set(float64(series))
	m.points.Set(float64(points))
}

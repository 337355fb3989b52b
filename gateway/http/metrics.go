package http

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zamazir/THMmonitor/metric"
)

type serverMetrics struct {
	requests    *prometheus.CounterVec
	duration    prometheus.Histogram
	rateLimited prometheus.Counter
}

func newServerMetrics(registry *metric.MetricsRegistry) (*serverMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &serverMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"method", "route", "code"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "http",
			Name:      "commands_rate_limited_total",
			Help:      "Control requests rejected by the command rate limit",
		}),
	}

	if err := registry.RegisterCounterVec("http-gateway", "requests_total", m.requests); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram("http-gateway", "request_duration_seconds", m.duration); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("http-gateway", "commands_rate_limited_total", m.rateLimited); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *serverMetrics) observe(method, route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.duration.Observe(d.Seconds())
}

func (m *serverMetrics) recordRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

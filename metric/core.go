package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the process-wide metrics shared by every component.
type Metrics struct {
	MessagesReceived   *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	ErrorsTotal        *prometheus.CounterVec
	HealthCheckStatus  *prometheus.GaugeVec
	FeedRunning        prometheus.Gauge
	FeedReconnects     prometheus.Counter

	NATSConnected      prometheus.Gauge
	NATSRTT            prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates the core metrics without registering them.
func NewMetrics() *Metrics {
	return &Metrics{
		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "feed",
				Name:      "messages_received_total",
				Help:      "Messages received from the live feed by routing key",
			},
			[]string{"source", "routing_key"},
		),
		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "processing",
				Name:      "duration_seconds",
				Help:      "Processing duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "errors",
				Name:      "total",
				Help:      "Errors by component and class",
			},
			[]string{"component", "class"},
		),
		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"component"},
		),
		FeedRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "feed",
			Name:      "running",
			Help:      "Live feed state (0=stopped, 1=running)",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Live feed reconnect attempts",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "nats",
			Name:      "connected",
			Help:      "NATS connection status (0=disconnected, 1=connected)",
		}),
		NATSRTT: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "nats",
			Name:      "rtt_milliseconds",
			Help:      "NATS round-trip time in milliseconds",
		}),
		NATSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "nats",
			Name:      "reconnects_total",
			Help:      "Total number of NATS reconnections",
		}),
		NATSCircuitBreaker: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "nats",
			Name:      "circuit_breaker",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
	}
}

func (c *Metrics) mustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		c.MessagesReceived,
		c.ProcessingDuration,
		c.ErrorsTotal,
		c.HealthCheckStatus,
		c.FeedRunning,
		c.FeedReconnects,
		c.NATSConnected,
		c.NATSRTT,
		c.NATSReconnects,
		c.NATSCircuitBreaker,
	)
}

// RecordMessageReceived counts one feed message.
func (c *Metrics) RecordMessageReceived(source, routingKey string) {
	c.MessagesReceived.WithLabelValues(source, routingKey).Inc()
}

// RecordProcessingDuration observes how long an operation took.
func (c *Metrics) RecordProcessingDuration(operation string, d time.Duration) {
	c.ProcessingDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordError counts one error of the given class.
func (c *Metrics) RecordError(component, class string) {
	c.ErrorsTotal.WithLabelValues(component, class).Inc()
}

// RecordHealthStatus sets the health gauge for a component.
func (c *Metrics) RecordHealthStatus(component string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	c.HealthCheckStatus.WithLabelValues(component).Set(v)
}

// RecordFeedRunning sets the feed state gauge.
func (c *Metrics) RecordFeedRunning(running bool) {
	if running {
		c.FeedRunning.Set(1)
		return
	}
	c.FeedRunning.Set(0)
}

// RecordFeedReconnect counts one reconnect attempt.
func (c *Metrics) RecordFeedReconnect() {
	c.FeedReconnects.Inc()
}

// RecordNATSStatus updates the NATS connection gauge.
func (c *Metrics) RecordNATSStatus(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
		return
	}
	c.NATSConnected.Set(0)
}

// RecordNATSRTT records the NATS round-trip time
func (c *Metrics) RecordNATSRTT(rtt time.Duration) {
	c.NATSRTT.Set(float64(rtt.Milliseconds()))
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}

// RecordCircuitBreakerState updates circuit breaker status
func (c *Metrics) RecordCircuitBreakerState(state int) {
	c.NATSCircuitBreaker.Set(float64(state))
}

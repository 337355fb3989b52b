package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zamazir/THMmonitor/errors"
	"github.com/zamazir/THMmonitor/metric"
)

// DefaultQueueSize is the per-sink queue length.
const DefaultQueueSize = 256

// Sink receives events from the bus. Handle is called from one goroutine
// per sink.
type Sink interface {
	Name() string
	Handle(ctx context.Context, e Event) error
}

// SinkStats reports delivery counters of one sink.
type SinkStats struct {
	Delivered int64 `json:"delivered"`
	Dropped   int64 `json:"dropped"`
	Failed    int64 `json:"failed"`
	Queued    int   `json:"queued"`
}

type sinkRunner struct {
	sink      Sink
	queue     chan Event
	done      chan struct{}
	delivered atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

// Bus fans events out to sinks without blocking the publisher.
type Bus struct {
	mu        sync.RWMutex
	sinks     []*sinkRunner
	queueSize int
	closed    bool
	ctx       context.Context
	cancel    context.CancelFunc
	logger    *slog.Logger
	metrics   *busMetrics
}

// NewBus creates a bus. A nil registry disables metrics; a non-positive
// queueSize selects DefaultQueueSize.
func NewBus(queueSize int, logger *slog.Logger, registry *metric.MetricsRegistry) (*Bus, error) {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default().With("component", "events")
	}
	m, err := newBusMetrics(registry)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		queueSize: queueSize,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
		metrics:   m,
	}, nil
}

// Register adds a sink and starts its delivery goroutine.
func (b *Bus) Register(sink Sink) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.WrapFatal(errors.ErrShuttingDown, "Bus", "Register", "register sink")
	}
	for _, r := range b.sinks {
		if r.sink.Name() == sink.Name() {
			return errors.WrapInvalid(fmt.Errorf("%w: sink %q already registered", errors.ErrInvalidConfig, sink.Name()),
				"Bus", "Register", "register sink")
		}
	}

	r := &sinkRunner{
		sink:  sink,
		queue: make(chan Event, b.queueSize),
		done:  make(chan struct{}),
	}
	b.sinks = append(b.sinks, r)
	go b.run(r)
	return nil
}

// Publish enqueues e on every sink. A full queue drops the event for that
// sink only.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	if b.metrics != nil {
		b.metrics.published.WithLabelValues(string(e.Kind)).Inc()
	}

	for _, r := range b.sinks {
		select {
		case r.queue <- e:
		default:
			r.dropped.Add(1)
			if b.metrics != nil {
				b.metrics.dropped.WithLabelValues(r.sink.Name()).Inc()
			}
		}
	}
}

func (b *Bus) run(r *sinkRunner) {
	defer close(r.done)

	for e := range r.queue {
		if err := r.sink.Handle(b.ctx, e); err != nil {
			r.failed.Add(1)
			if b.metrics != nil {
				b.metrics.failed.WithLabelValues(r.sink.Name()).Inc()
			}
			b.logger.Warn("Event sink failed", "sink", r.sink.Name(), "kind", e.Kind, "error", err)
			continue
		}
		r.delivered.Add(1)
	}
}

// Stats returns per-sink counters keyed by sink name.
func (b *Bus) Stats() map[string]SinkStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]SinkStats, len(b.sinks))
	for _, r := range b.sinks {
		out[r.sink.Name()] = SinkStats{
			Delivered: r.delivered.Load(),
			Dropped:   r.dropped.Load(),
			Failed:    r.failed.Load(),
			Queued:    len(r.queue),
		}
	}
	return out
}

// Close stops accepting events and waits up to timeout for the queues to
// drain. Remaining sink calls see a cancelled context afterwards.
func (b *Bus) Close(timeout time.Duration) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	sinks := b.sinks
	for _, r := range sinks {
		close(r.queue)
	}
	b.mu.Unlock()

	deadline := time.After(timeout)
	defer b.cancel()
	for _, r := range sinks {
		select {
		case <-r.done:
		case <-deadline:
			return errors.WrapTransient(fmt.Errorf("shutdown timeout after %v", timeout), "Bus", "Close", "drain sinks")
		}
	}
	return nil
}

type busMetrics struct {
	published *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	failed    *prometheus.CounterVec
}

func newBusMetrics(registry *metric.MetricsRegistry) (*busMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &busMetrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Events published on the bus",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events dropped because a sink queue was full",
		}, []string{"sink"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "events",
			Name:      "sink_errors_total",
			Help:      "Events a sink failed to handle",
		}, []string{"sink"}),
	}

	if err := registry.RegisterCounterVec("events", "published_total", m.published); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("events", "dropped_total", m.dropped); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("events", "sink_errors_total", m.failed); err != nil {
		return nil, err
	}
	return m, nil
}

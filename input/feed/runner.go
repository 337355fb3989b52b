package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zamazir/THMmonitor/errors"
	"github.com/zamazir/THMmonitor/metric"
	"github.com/zamazir/THMmonitor/pkg/retry"
)

// DefaultRetryDelay is the pause after a transport failure.
const DefaultRetryDelay = 5 * time.Second

// RunnerStats reports the Runner's counters.
type RunnerStats struct {
	Running   bool      `json:"running"`
	Source    string    `json:"source"`
	Messages  int64     `json:"messages"`
	Failures  int64     `json:"failures"`
	LastError string    `json:"last_error,omitempty"`
	Started   time.Time `json:"started,omitempty"`
}

// Runner keeps a Source running, restarting it after a fixed delay when the
// transport fails. It may be started again after Stop.
type Runner struct {
	source  Source
	handle  Handler
	delay   time.Duration
	logger  *slog.Logger
	metrics *metric.Metrics

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started time.Time

	running  atomic.Bool
	messages atomic.Int64
	failures atomic.Int64
	lastErr  atomic.Value // string
}

// NewRunner creates a runner. A non-positive delay selects
// DefaultRetryDelay; a nil registry disables metrics.
func NewRunner(source Source, handle Handler, delay time.Duration, logger *slog.Logger, registry *metric.MetricsRegistry) *Runner {
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	if logger == nil {
		logger = slog.Default().With("component", "feed")
	}
	r := &Runner{source: source, handle: handle, delay: delay, logger: logger}
	if registry != nil {
		r.metrics = registry.CoreMetrics()
	}
	r.lastErr.Store("")
	return r
}

// Start runs the source in the background. It returns ErrAlreadyStarted
// while a previous run is active.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Runner", "Start", "start feed")
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	r.started = time.Now()
	r.running.Store(true)
	if r.metrics != nil {
		r.metrics.RecordFeedRunning(true)
	}

	go func() {
		defer close(done)
		defer func() {
			r.running.Store(false)
			if r.metrics != nil {
				r.metrics.RecordFeedRunning(false)
			}
		}()
		r.loop(runCtx)
	}()
	return nil
}

func (r *Runner) loop(ctx context.Context) {
	receive := func(msgCtx context.Context, msg Message) {
		r.messages.Add(1)
		if r.metrics != nil {
			r.metrics.RecordMessageReceived(msg.Source, msg.RoutingKey)
		}
		r.handle(msgCtx, msg)
	}

	cfg := retry.Fixed(r.delay)
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		r.logger.Warn("Feed failed, reconnecting", "source", r.source.Name(), "attempt", attempt, "retry_in", delay, "error", err)
		if r.metrics != nil {
			r.metrics.RecordFeedReconnect()
		}
	}

	err := retry.Do(ctx, cfg, func() error {
		err := r.source.Run(ctx, receive)
		if err == nil {
			return nil
		}
		r.failures.Add(1)
		r.lastErr.Store(err.Error())
		if r.metrics != nil {
			r.metrics.RecordError("feed", errors.Classify(err).String())
		}
		if errors.IsFatal(err) || errors.IsInvalid(err) {
			return retry.NonRetryable(err)
		}
		return err
	})

	switch {
	case err == nil || ctx.Err() != nil:
		r.logger.Info("Feed stopped", "source", r.source.Name())
	default:
		r.logger.Error("Feed gave up", "source", r.source.Name(), "error", err)
	}
}

// Stop cancels the source and waits up to timeout for it to return.
func (r *Runner) Stop(timeout time.Duration) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout), "Runner", "Stop", "stop feed")
	}
}

// Running reports whether the source is active.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// Stats returns the runner's counters.
func (r *Runner) Stats() RunnerStats {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()

	return RunnerStats{
		Running:   r.running.Load(),
		Source:    r.source.Name(),
		Messages:  r.messages.Load(),
		Failures:  r.failures.Load(),
		LastError: r.lastErr.Load().(string),
		Started:   started,
	}
}

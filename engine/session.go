package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zamazir/THMmonitor/catalog"
	"github.com/zamazir/THMmonitor/component"
	"github.com/zamazir/THMmonitor/errors"
	"github.com/zamazir/THMmonitor/input/feed"
	"github.com/zamazir/THMmonitor/input/file"
	"github.com/zamazir/THMmonitor/metric"
	"github.com/zamazir/THMmonitor/output/decodelog"
	"github.com/zamazir/THMmonitor/output/events"
	"github.com/zamazir/THMmonitor/processor/ambient"
	"github.com/zamazir/THMmonitor/processor/beacon"
	"github.com/zamazir/THMmonitor/processor/decoder"
	"github.com/zamazir/THMmonitor/processor/periodicity"
	"github.com/zamazir/THMmonitor/processor/steadystate"
	"github.com/zamazir/THMmonitor/storage/timeseries"
)

// Config tunes the session.
type Config struct {
	TelemetryKey    string             `json:"telemetry_key"`
	ClockKey        string             `json:"clock_key"`
	ClockValidity   time.Duration      `json:"clock_validity"`
	SteadyThreshold float64            `json:"steady_threshold"`
	SteadyWindow    time.Duration      `json:"steady_window"`
	Periodicity     periodicity.Config `json:"periodicity"`
	// QueueSize bounds the batches waiting for the writer.
	QueueSize    int           `json:"queue_size"`
	TickInterval time.Duration `json:"tick_interval"`
	RetryDelay   time.Duration `json:"retry_delay"`
}

// DefaultConfig returns the tuning used by the ground station.
func DefaultConfig() Config {
	return Config{
		TelemetryKey:    beacon.DefaultTelemetryKey,
		ClockKey:        beacon.DefaultClockKey,
		ClockValidity:   beacon.DefaultClockValidity,
		SteadyThreshold: steadystate.DefaultThreshold,
		SteadyWindow:    steadystate.DefaultWindow,
		Periodicity:     periodicity.DefaultConfig(),
		QueueSize:       64,
		TickInterval:    time.Second,
		RetryDelay:      feed.DefaultRetryDelay,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.SteadyThreshold <= 0:
		return invalidConfig("steady_threshold must be positive")
	case c.SteadyWindow <= 0:
		return invalidConfig("steady_window must be positive")
	case c.QueueSize <= 0:
		return invalidConfig("queue_size must be positive")
	case c.TickInterval <= 0:
		return invalidConfig("tick_interval must be positive")
	}
	return c.Periodicity.Validate()
}

func invalidConfig(reason string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, reason), "Config", "Validate", "check session config")
}

// Deps are the collaborators of a Session. Layout is required; the
// remaining fields fall back to quiet defaults.
type Deps struct {
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
	Layout          *decoder.Layout
	Catalog         *catalog.Catalog
	Bus             *events.Bus
	DecodeLog       *decodelog.Log
	// Source is the live feed; StartFeed fails without one.
	Source feed.Source
	// Loader decodes historical files. The session creates and owns one
	// when nil.
	Loader *file.Loader
}

// Session owns the in-memory state of one monitoring session. All store
// mutation happens on a single writer goroutine; readers take snapshots.
type Session struct {
	id     string
	cfg    Config
	logger *slog.Logger

	store      *timeseries.Store
	monitor    *periodicity.Monitor
	detector   *steadystate.Detector
	catalog    *catalog.Catalog
	parser     *beacon.Parser
	normalizer *beacon.Normalizer
	router     *beacon.Router
	decoder    *decoder.Decoder
	loader     *file.Loader
	ownLoader  bool
	bus        *events.Bus
	ownBus     bool
	decodeLog  *decodelog.Log
	alarms     *alarmTracker
	ambient    atomic.Pointer[ambient.Reference]
	runner     *feed.Runner
	metrics    *sessionMetrics
	core       *metric.Metrics
	now        func() time.Time

	queue chan request

	mu         sync.Mutex
	state      component.State
	started    time.Time
	stop       chan struct{}
	writerDone chan struct{}
	ticker     *overdueTicker

	messages   atomic.Int64
	bytes      atomic.Int64
	errorCount atomic.Int64
	lastError  atomic.Value // string
	lastActive atomic.Int64 // unix nanos
}

// New creates a session. Start launches the writer.
func New(cfg Config, deps Deps) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Layout == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: layout", errors.ErrMissingConfig), "Session", "New", "check dependencies")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "session")

	if deps.Catalog == nil {
		deps.Catalog = catalog.New(logger)
	}
	if deps.DecodeLog == nil {
		deps.DecodeLog = decodelog.Discard()
	}
	ownBus := false
	if deps.Bus == nil {
		bus, err := events.NewBus(events.DefaultQueueSize, logger, nil)
		if err != nil {
			return nil, errors.WrapFatal(err, "Session", "New", "create event bus")
		}
		if err := bus.Register(events.NewLogSink(logger)); err != nil {
			return nil, errors.WrapFatal(err, "Session", "New", "register log sink")
		}
		deps.Bus = bus
		ownBus = true
	}

	store, err := timeseries.New(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.WrapFatal(err, "Session", "New", "create store")
	}
	monitor, err := periodicity.New(cfg.Periodicity, deps.MetricsRegistry)
	if err != nil {
		return nil, errors.WrapFatal(err, "Session", "New", "create periodicity monitor")
	}
	parser, err := beacon.NewParser()
	if err != nil {
		return nil, errors.WrapFatal(err, "Session", "New", "create beacon parser")
	}
	metrics, err := newSessionMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.WrapFatal(err, "Session", "New", "register metrics")
	}

	s := &Session{
		id:         uuid.NewString(),
		cfg:        cfg,
		logger:     logger,
		store:      store,
		monitor:    monitor,
		detector:   steadystate.New(),
		catalog:    deps.Catalog,
		parser:     parser,
		normalizer: beacon.NewNormalizer(cfg.ClockValidity, logger),
		router:     beacon.NewRouter(cfg.TelemetryKey, cfg.ClockKey),
		bus:        deps.Bus,
		ownBus:     ownBus,
		decodeLog:  deps.DecodeLog,
		alarms:     newAlarmTracker(),
		metrics:    metrics,
		now:        time.Now,
		queue:      make(chan request, cfg.QueueSize),
		state:      component.StateCreated,
	}
	s.lastError.Store("")

	decOpts := []decoder.Option{decoder.WithLogger(logger)}
	if deps.DecodeLog.Tracing() {
		decOpts = append(decOpts, decoder.WithTraceLogger(deps.DecodeLog.Logger()))
	}
	s.decoder = decoder.New(deps.Layout, decOpts...)

	if deps.MetricsRegistry != nil {
		s.core = deps.MetricsRegistry.CoreMetrics()
	}

	s.loader = deps.Loader
	if s.loader == nil {
		opts := []file.Option{file.WithLogger(logger), file.WithMetricsRegistry(deps.MetricsRegistry)}
		if deps.DecodeLog.Tracing() {
			opts = append(opts, file.WithTraceLogger(deps.DecodeLog.Logger()))
		}
		loader, err := file.NewLoader(deps.Layout, file.DefaultConfig(), opts...)
		if err != nil {
			return nil, err
		}
		s.loader = loader
		s.ownLoader = true
	}

	if deps.Source != nil {
		s.runner = feed.NewRunner(deps.Source, s.handleFeed, cfg.RetryDelay, logger, deps.MetricsRegistry)
	}
	return s, nil
}

// ID identifies the session in events and logs.
func (s *Session) ID() string { return s.id }

// Config returns the session tuning.
func (s *Session) Config() Config { return s.cfg }

// Catalog returns the sensor catalog.
func (s *Session) Catalog() *catalog.Catalog { return s.catalog }

// Bus returns the event bus.
func (s *Session) Bus() *events.Bus { return s.bus }

// Initialize implements component.LifecycleComponent.
func (s *Session) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != component.StateCreated {
		return errors.WrapInvalid(fmt.Errorf("session is %s", s.state), "Session", "Initialize", "check state")
	}
	s.state = component.StateInitialized
	return nil
}

// Start launches the single writer. The session may not be restarted after
// Stop.
func (s *Session) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, "Session", "Start", "check context")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.state == component.StateStarted:
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Session", "Start", "start writer")
	case s.state.Done():
		return errors.WrapInvalid(errors.ErrShuttingDown, "Session", "Start", "start writer")
	}

	s.stop = make(chan struct{})
	s.writerDone = make(chan struct{})
	s.started = s.now()
	s.state = component.StateStarted

	go s.write(ctx, s.stop, s.writerDone)

	s.logger.Info("Session started", "session_id", s.id)
	if s.core != nil {
		s.core.RecordHealthStatus("session", true)
	}
	return nil
}

// Stop stops the feed, the overdue ticker and the writer. Batches still
// queued are merged before the writer exits.
func (s *Session) Stop(timeout time.Duration) error {
	s.mu.Lock()
	switch {
	case s.state.Done():
		s.mu.Unlock()
		return nil
	case s.state != component.StateStarted:
		// Never started: only the owned loader and bus hold goroutines.
		s.state = component.StateStopped
		s.mu.Unlock()
		return s.release(timeout)
	}
	s.state = component.StateStopped
	stop, writerDone := s.stop, s.writerDone
	s.mu.Unlock()

	var firstErr error
	if err := s.StopFeed(); err != nil {
		firstErr = err
	}
	s.StopOverdueTicker()

	close(stop)
	select {
	case <-writerDone:
	case <-time.After(timeout):
		if firstErr == nil {
			firstErr = errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout), "Session", "Stop", "wait for writer")
		}
	}

	if err := s.release(timeout); err != nil && firstErr == nil {
		firstErr = err
	}
	if s.core != nil {
		s.core.RecordHealthStatus("session", false)
	}
	s.logger.Info("Session stopped", "session_id", s.id)
	return firstErr
}

// release closes the loader and bus if the session created them.
func (s *Session) release(timeout time.Duration) error {
	var firstErr error
	if s.ownLoader {
		if err := s.loader.Close(); err != nil {
			firstErr = err
		}
	}
	if s.ownBus {
		if err := s.bus.Close(timeout); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Meta implements component.Discoverable.
func (s *Session) Meta() component.Metadata {
	return component.Metadata{
		Name:        "session",
		Type:        component.KindProcessor,
		Description: "Merges THM telemetry into per-sensor series and detects anomalies",
		Version:     "1.0.0",
	}
}

// Health implements component.Discoverable.
func (s *Session) Health() component.HealthStatus {
	s.mu.Lock()
	state, started := s.state, s.started
	s.mu.Unlock()

	now := s.now()
	h := component.HealthStatus{
		Healthy:    state == component.StateStarted,
		LastCheck:  now,
		ErrorCount: int(s.errorCount.Load()),
		LastError:  s.lastError.Load().(string),
	}
	if state != component.StateStarted {
		return h
	}
	h.Uptime = now.Sub(started)
	if s.FeedRunning() {
		if st := s.monitor.Status(now); st.Overdue {
			h.Warning = st.String()
		}
	}
	return h
}

// DataFlow implements component.Discoverable.
func (s *Session) DataFlow() component.FlowMetrics {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	fm := component.FlowMetrics{Backlog: len(s.queue)}
	if last := s.lastActive.Load(); last > 0 {
		fm.LastActivity = time.Unix(0, last)
	}
	if started.IsZero() {
		return fm
	}
	elapsed := s.now().Sub(started).Seconds()
	if elapsed <= 0 {
		return fm
	}
	msgs := float64(s.messages.Load())
	fm.MessagesPerSecond = msgs / elapsed
	fm.BytesPerSecond = float64(s.bytes.Load()) / elapsed
	if msgs > 0 {
		fm.ErrorRate = float64(s.errorCount.Load()) / msgs
	}
	return fm
}

func (s *Session) recordError(err error) {
	s.errorCount.Add(1)
	s.lastError.Store(err.Error())
	if s.core != nil {
		s.core.RecordError("session", errors.Classify(err).String())
	}
}

package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zamazir/THMmonitor/component"
	"github.com/zamazir/THMmonitor/errors"
	"github.com/zamazir/THMmonitor/input/feed"
	"github.com/zamazir/THMmonitor/input/file"
	"github.com/zamazir/THMmonitor/output/events"
	"github.com/zamazir/THMmonitor/processor/ambient"
	"github.com/zamazir/THMmonitor/processor/beacon"
	"github.com/zamazir/THMmonitor/processor/steadystate"
	"github.com/zamazir/THMmonitor/telemetry"
)

// Batch origins, used as metric labels.
const (
	originFeed  = "feed"
	originFile  = "file"
	originClear = "clear"
	originFlush = "flush"
)

// request is one unit of work for the writer.
type request struct {
	origin   string
	readings []telemetry.Reading
	states   []telemetry.StateReading
	clear    bool
	reply    chan BatchResult
}

// BatchResult reports what merging one batch changed.
type BatchResult struct {
	Readings    int                         `json:"readings"`
	Duplicates  []telemetry.DuplicateRecord `json:"duplicates,omitempty"`
	Transitions []steadystate.Transition    `json:"transitions,omitempty"`
	Alarms      []telemetry.StateReading    `json:"alarms,omitempty"`
}

// FileSummary reports a historical file merged into the session.
type FileSummary struct {
	file.LoadResult
	Merge BatchResult `json:"merge"`
}

func (s *Session) write(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case req := <-s.queue:
			s.process(req)
		case <-stop:
			s.drain()
			return
		case <-ctx.Done():
			s.drain()
			return
		}
	}
}

func (s *Session) drain() {
	for {
		select {
		case req := <-s.queue:
			s.process(req)
		default:
			return
		}
	}
}

func (s *Session) process(req request) {
	start := time.Now()
	s.metrics.setQueueDepth(len(s.queue))

	var res BatchResult
	if req.clear {
		s.reset()
	} else {
		res = s.merge(req)
	}

	d := time.Since(start)
	s.metrics.recordBatch(req.origin, d.Seconds())
	if s.core != nil {
		s.core.RecordProcessingDuration("merge", d)
	}
	if req.reply != nil {
		req.reply <- res
	}
}

// merge applies one batch: system state alarms first, then the store, then
// the steady state of every sensor the batch touched.
func (s *Session) merge(req request) BatchResult {
	res := BatchResult{Readings: len(req.readings)}
	now := s.now()

	for _, sr := range req.states {
		if !s.alarms.observe(sr) {
			continue
		}
		res.Alarms = append(res.Alarms, sr)
		s.metrics.recordAlarm(sr.State.String())
		if sr.State != telemetry.StateOK {
			s.logger.Warn("System state changed", "sensor", sr.Sensor, "state", sr.State.String(), "time", sr.Time)
		} else {
			s.logger.Info("System state changed", "sensor", sr.Sensor, "state", sr.State.String(), "time", sr.Time)
		}
		s.bus.Publish(events.Alarm(sr, now))
	}

	if len(req.readings) == 0 {
		return res
	}

	res.Duplicates = s.store.Append(req.readings)
	for _, d := range res.Duplicates {
		s.bus.Publish(events.Duplicate(d, now))
	}

	for _, name := range affected(req.readings) {
		s.catalog.Lookup(name)

		latest, ok := s.store.Latest(name)
		if !ok {
			continue
		}
		window := s.store.Window(name, latest.Time.Add(-s.cfg.SteadyWindow), latest.Time)
		tr, changed := s.detector.Evaluate(name, window, s.cfg.SteadyThreshold, s.cfg.SteadyWindow)
		if !changed {
			continue
		}
		res.Transitions = append(res.Transitions, tr)
		s.metrics.recordTransition(tr.Steady)
		s.bus.Publish(events.SteadyState(tr, now))
	}
	return res
}

func (s *Session) reset() {
	s.store.Clear()
	s.detector.Reset()
	s.monitor.Reset()
	s.normalizer.Reset()
	s.alarms.reset()
	s.logger.Info("Session cleared", "session_id", s.id)
}

// affected returns the distinct sensors of readings in lexical order.
func affected(readings []telemetry.Reading) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, r := range readings {
		if _, ok := seen[r.Sensor]; ok {
			continue
		}
		seen[r.Sensor] = struct{}{}
		names = append(names, r.Sensor)
	}
	sort.Strings(names)
	return names
}

// enqueue hands req to the writer, blocking while the queue is full.
func (s *Session) enqueue(ctx context.Context, req request) error {
	s.mu.Lock()
	state, done := s.state, s.writerDone
	s.mu.Unlock()

	if state != component.StateStarted {
		return errors.WrapInvalid(errors.ErrNotStarted, "Session", "enqueue", "submit batch")
	}

	select {
	case s.queue <- req:
		s.metrics.setQueueDepth(len(s.queue))
		return nil
	case <-done:
		return errors.WrapTransient(errors.ErrShuttingDown, "Session", "enqueue", "submit batch")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// submit enqueues req and waits until the writer merged it.
func (s *Session) submit(ctx context.Context, req request) (BatchResult, error) {
	req.reply = make(chan BatchResult, 1)
	if err := s.enqueue(ctx, req); err != nil {
		return BatchResult{}, err
	}

	s.mu.Lock()
	done := s.writerDone
	s.mu.Unlock()

	select {
	case res := <-req.reply:
		return res, nil
	case <-done:
		select {
		case res := <-req.reply:
			return res, nil
		default:
			return BatchResult{}, errors.WrapTransient(errors.ErrShuttingDown, "Session", "submit", "wait for merge")
		}
	case <-ctx.Done():
		return BatchResult{}, ctx.Err()
	}
}

// Ingest merges readings and state readings, waiting for the result.
func (s *Session) Ingest(ctx context.Context, readings []telemetry.Reading, states []telemetry.StateReading) (BatchResult, error) {
	return s.submit(ctx, request{origin: originFeed, readings: readings, states: states})
}

// Flush waits until every batch queued before the call has been merged.
func (s *Session) Flush(ctx context.Context) error {
	_, err := s.submit(ctx, request{origin: originFlush})
	return err
}

// Clear drops all series, duplicates, steady states, arrivals and alarms.
// It runs on the writer, so batches queued earlier are merged first.
func (s *Session) Clear(ctx context.Context) error {
	_, err := s.submit(ctx, request{origin: originClear, clear: true})
	return err
}

// HandleMessage processes one feed message. Clock beacons update the
// reference time. Telemetry counts as a beacon arrival for the periodicity
// monitor and is then decoded or normalized and queued for the writer.
// Other subsystems are ignored. A message that cannot be used raises a
// feed_error event and returns an Invalid error.
func (s *Session) HandleMessage(ctx context.Context, msg feed.Message) error {
	received := msg.Received
	if received.IsZero() {
		received = s.now()
	}
	s.messages.Add(1)
	s.bytes.Add(int64(len(msg.Body)))
	s.lastActive.Store(received.UnixNano())

	switch s.router.Classify(msg.RoutingKey) {
	case beacon.ClassClock:
		m, err := s.parser.Parse(msg.Body)
		if err != nil {
			return s.reject(msg, err)
		}
		s.decodeLog.Beacon(msg.RoutingKey, m, received)
		if _, err := s.normalizer.UpdateClock(m, received); err != nil {
			return s.reject(msg, err)
		}
		return nil

	case beacon.ClassTelemetry:
		s.recordArrival(received)
		return s.handleTelemetry(ctx, msg, received)

	default:
		s.logger.Debug("Ignoring beacon", "routing_key", msg.RoutingKey, "size", len(msg.Body))
		return nil
	}
}

// recordArrival feeds the periodicity monitor. Only telemetry beacons
// count, so a silent THM subsystem goes overdue while others keep talking.
func (s *Session) recordArrival(received time.Time) {
	if _, gap := s.monitor.OnArrival(received); gap != nil {
		s.metrics.recordGap()
		s.logger.Warn("Unusually long gap between beacons", "last", gap.Time, "delta", gap.Delta, "mean", gap.Mean)
		s.bus.Publish(events.BeaconGap(gap.Time, gap.Delta, s.now()))
	}
}

func (s *Session) handleTelemetry(ctx context.Context, msg feed.Message, received time.Time) error {
	if beacon.Detect(msg.Body) == beacon.FormatRaw {
		s.decodeLog.Frame(msg.RoutingKey, msg.Body, received)
		res := s.decoder.Decode(msg.Body)
		if len(res.Readings) == 0 {
			err := errors.WrapInvalid(fmt.Errorf("%w: frame of %d bytes yielded no readings", errors.ErrDecodeFailed, len(msg.Body)),
				"Session", "HandleMessage", "decode frame")
			return s.reject(msg, err)
		}
		return s.enqueue(ctx, request{origin: originFeed, readings: res.Readings})
	}

	m, err := s.parser.Parse(msg.Body)
	if err != nil {
		return s.reject(msg, err)
	}
	s.decodeLog.Beacon(msg.RoutingKey, m, received)

	res, err := s.normalizer.Normalize(m, received)
	if err != nil {
		return s.reject(msg, err)
	}
	return s.enqueue(ctx, request{origin: originFeed, readings: res.Readings, states: res.States})
}

func (s *Session) reject(msg feed.Message, err error) error {
	s.recordError(err)
	s.metrics.recordFeedError(msg.RoutingKey)
	s.logger.Warn("Dropping beacon", "routing_key", msg.RoutingKey, "source", msg.Source, "error", err)
	s.bus.Publish(events.FeedError(msg.RoutingKey, err, s.now()))
	return err
}

// handleFeed adapts HandleMessage to the feed Runner.
func (s *Session) handleFeed(ctx context.Context, msg feed.Message) {
	err := s.HandleMessage(ctx, msg)
	if err == nil || errors.IsInvalid(err) || stderrors.Is(err, context.Canceled) {
		return
	}
	s.logger.Warn("Feed message not merged", "routing_key", msg.RoutingKey, "error", err)
}

// LoadFile decodes a historical log and merges it as one batch. It returns
// once the batch is merged.
func (s *Session) LoadFile(ctx context.Context, path string) (FileSummary, error) {
	res, err := s.loader.Load(ctx, path)
	if err != nil {
		s.recordError(err)
		return FileSummary{LoadResult: res}, err
	}
	s.decodeLog.File(path, res.Bytes)

	merged, err := s.submit(ctx, request{origin: originFile, readings: res.Readings})
	res.Readings = nil
	if err != nil {
		return FileSummary{LoadResult: res}, err
	}

	s.logger.Info("Merged file",
		"path", path,
		"readings", merged.Readings,
		"duplicates", len(merged.Duplicates),
		"transitions", len(merged.Transitions))
	return FileSummary{LoadResult: res, Merge: merged}, nil
}

// LoadAmbient imports a TVAC chamber log as the ambient reference. The
// reference replaces any earlier one and is not part of the store.
func (s *Session) LoadAmbient(path string) (*ambient.Reference, error) {
	ref, err := ambient.LoadFile(path)
	if err != nil {
		s.recordError(err)
		return nil, err
	}
	s.ambient.Store(ref)
	s.logger.Info("Loaded ambient reference", "path", path, "points", len(ref.Actual), "setpoints", len(ref.Setpoint))
	return ref, nil
}

// alarmTracker remembers the last system state per state sensor. Sensors
// start out OK.
type alarmTracker struct {
	mu     sync.Mutex
	states map[string]telemetry.StateReading
}

func newAlarmTracker() *alarmTracker {
	return &alarmTracker{states: make(map[string]telemetry.StateReading)}
}

// observe records sr and reports whether the state changed. Readings older
// than the current one are ignored.
func (a *alarmTracker) observe(sr telemetry.StateReading) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	prev, ok := a.states[sr.Sensor]
	if ok && sr.Time.Before(prev.Time) {
		return false
	}
	a.states[sr.Sensor] = sr
	if !ok {
		return sr.State != telemetry.StateOK
	}
	return prev.State != sr.State
}

func (a *alarmTracker) current() []telemetry.StateReading {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]telemetry.StateReading, 0, len(a.states))
	for _, sr := range a.states {
		out = append(out, sr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sensor < out[j].Sensor })
	return out
}

func (a *alarmTracker) reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.states = make(map[string]telemetry.StateReading)
}

package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zamazir/THMmonitor/errors"
	"github.com/zamazir/THMmonitor/metric"
	"github.com/zamazir/THMmonitor/processor/steadystate"
	"github.com/zamazir/THMmonitor/telemetry"
)

var now = time.Date(2017, 7, 14, 3, 0, 0, 0, time.UTC)

type recordingSink struct {
	name string
	mu   sync.Mutex
	got  []Event
	fail bool
	gate chan struct{}
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Handle(_ context.Context, e Event) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, e)
	if s.fail {
		return fmt.Errorf("sink down")
	}
	return nil
}

func (s *recordingSink) events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.got...)
}

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
}

func (p *fakePublisher) Publish(_ context.Context, subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

func newBus(t *testing.T, queue int, registry *metric.MetricsRegistry) *Bus {
	t.Helper()
	b, err := NewBus(queue, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), registry)
	require.NoError(t, err)
	return b
}

func TestConstructors(t *testing.T) {
	e := SteadyState(steadystate.Transition{Sensor: "A", Steady: true, At: now}, now)
	assert.Equal(t, KindSteadyState, e.Kind)
	require.NotNil(t, e.Steady)
	assert.True(t, *e.Steady)
	assert.NotEmpty(t, e.ID)

	e = Duplicate(telemetry.DuplicateRecord{Sensor: "A", Time: now, Kept: 5, Rejected: 7}, now)
	assert.Contains(t, e.Message, "old 5, new 7")

	e = Alarm(telemetry.StateReading{Sensor: "THM System State", Time: now, State: 7}, now)
	assert.Equal(t, "UNKNOWN THM STATUS (7)", e.Message)

	e = FeedError("THM", errors.ErrMalformedBeacon, now)
	assert.Equal(t, "THM", e.Source)

	assert.NotEqual(t, BeaconGap(now, time.Minute, now).ID, BeaconGap(now, time.Minute, now).ID)
	assert.Len(t, Kinds(), 7)
}

func TestBus_FanOut(t *testing.T) {
	b := newBus(t, 8, nil)
	a := &recordingSink{name: "a"}
	c := &recordingSink{name: "c"}
	require.NoError(t, b.Register(a))
	require.NoError(t, b.Register(c))

	for i := 0; i < 3; i++ {
		b.Publish(Overdue(i%2 == 0, "status", now))
	}
	require.NoError(t, b.Close(time.Second))

	assert.Len(t, a.events(), 3)
	assert.Len(t, c.events(), 3)
	assert.Equal(t, int64(3), b.Stats()["a"].Delivered)

	// Publishing after close is a no-op.
	b.Publish(Overdue(true, "late", now))
	assert.Len(t, a.events(), 3)
}

func TestBus_DuplicateSinkName(t *testing.T) {
	b := newBus(t, 1, nil)
	require.NoError(t, b.Register(&recordingSink{name: "a"}))
	err := b.Register(&recordingSink{name: "a"})
	assert.True(t, errors.IsInvalid(err))
	require.NoError(t, b.Close(time.Second))

	assert.ErrorIs(t, b.Register(&recordingSink{name: "b"}), errors.ErrShuttingDown)
}

func TestBus_SlowSinkDropsOnlyItsOwnEvents(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	b := newBus(t, 2, registry)

	gate := make(chan struct{})
	slow := &recordingSink{name: "slow", gate: gate}
	fast := &recordingSink{name: "fast"}
	require.NoError(t, b.Register(slow))
	require.NoError(t, b.Register(fast))

	for i := 0; i < 10; i++ {
		b.Publish(FeedStatus(false, "ok", now))
		require.Eventually(t, func() bool { return len(fast.events()) == i+1 }, time.Second, time.Millisecond)
		if i == 0 {
			require.Eventually(t, func() bool { return b.Stats()["slow"].Queued == 0 }, time.Second, time.Millisecond)
		}
	}

	// The slow sink holds one event in Handle and two in its queue.
	assert.Equal(t, int64(7), b.Stats()["slow"].Dropped)
	assert.Zero(t, b.Stats()["fast"].Dropped)
	assert.Equal(t, 7.0, testutil.ToFloat64(b.metrics.dropped.WithLabelValues("slow")))
	assert.Equal(t, 10.0, testutil.ToFloat64(b.metrics.published.WithLabelValues(string(KindFeedStatus))))

	close(gate)
	require.NoError(t, b.Close(time.Second))
	assert.Len(t, slow.events(), 3)
}

func TestBus_FailingSinkCounted(t *testing.T) {
	b := newBus(t, 4, nil)
	s := &recordingSink{name: "broken", fail: true}
	require.NoError(t, b.Register(s))

	b.Publish(FeedStatus(false, "ok", now))
	require.NoError(t, b.Close(time.Second))

	assert.Equal(t, int64(1), b.Stats()["broken"].Failed)
	assert.Zero(t, b.Stats()["broken"].Delivered)
}

func TestLogSink_Levels(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	require.NoError(t, s.Handle(context.Background(), Alarm(telemetry.StateReading{Sensor: "THM System State", State: telemetry.StateCritical}, now)))
	require.NoError(t, s.Handle(context.Background(), BeaconGap(now, time.Minute, now)))
	require.NoError(t, s.Handle(context.Background(), FeedStatus(false, "fine", now)))

	out := buf.String()
	assert.Contains(t, out, `level=ERROR+4 msg="SYSTEM IN CRITICAL STATE"`)
	assert.Contains(t, out, "level=ERROR msg=\"Unusually long gap")
	assert.Contains(t, out, "level=DEBUG msg=fine")
}

func TestNATSSink(t *testing.T) {
	pub := &fakePublisher{}
	s := NewNATSSink(pub, "thm.fm")

	e := Duplicate(telemetry.DuplicateRecord{Sensor: "A", Time: now, Kept: 5, Rejected: 7}, now)
	require.NoError(t, s.Handle(context.Background(), e))

	require.Len(t, pub.subjects, 1)
	assert.Equal(t, "thm.fm.events.duplicate", pub.subjects[0])

	var decoded Event
	require.NoError(t, json.Unmarshal(pub.payloads[0], &decoded))
	assert.Equal(t, e.ID, decoded.ID)
	require.NotNil(t, decoded.Duplicate)
	assert.Equal(t, 7.0, decoded.Duplicate.Rejected)

	assert.Equal(t, "events.alarm", NewNATSSink(pub, "").Subject(KindAlarm))
}

func TestChannelSink(t *testing.T) {
	s := NewChannelSink()
	ch, cancel := s.Subscribe(1)

	require.NoError(t, s.Handle(context.Background(), FeedStatus(false, "one", now)))
	require.NoError(t, s.Handle(context.Background(), FeedStatus(false, "two", now)))

	got := <-ch
	assert.Equal(t, "one", got.Message)

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)

	assert.NoError(t, s.Handle(context.Background(), FeedStatus(false, "three", now)))
}

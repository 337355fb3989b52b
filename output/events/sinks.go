package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/zamazir/THMmonitor/errors"
	"github.com/zamazir/THMmonitor/telemetry"
)

// LogSink writes events to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log sink.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "events")}
}

// Name implements Sink.
func (s *LogSink) Name() string { return "log" }

// Handle implements Sink.
func (s *LogSink) Handle(ctx context.Context, e Event) error {
	attrs := []any{"kind", e.Kind, "id", e.ID}
	if e.Sensor != "" {
		attrs = append(attrs, "sensor", e.Sensor)
	}
	if e.Timestamp != nil {
		attrs = append(attrs, "timestamp", *e.Timestamp)
	}
	if e.Source != "" {
		attrs = append(attrs, "source", e.Source)
	}
	s.logger.Log(ctx, levelOf(e), e.Message, attrs...)
	return nil
}

func levelOf(e Event) slog.Level {
	switch e.Kind {
	case KindAlarm:
		if e.State != nil && *e.State == telemetry.StateCritical {
			return telemetry.LevelCritical
		}
		if e.State != nil && *e.State == telemetry.StateOK {
			return slog.LevelInfo
		}
		return slog.LevelWarn
	case KindBeaconGap:
		return slog.LevelError
	case KindDuplicate, KindFeedError:
		return slog.LevelWarn
	case KindOverdue:
		if e.Overdue != nil && *e.Overdue {
			return slog.LevelWarn
		}
		return slog.LevelInfo
	case KindFeedStatus:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// Publisher publishes bytes on a subject. natsclient.Client implements it.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NATSSink publishes events as JSON on <prefix>.events.<kind>.
type NATSSink struct {
	pub    Publisher
	prefix string
}

// NewNATSSink creates a sink publishing under prefix.
func NewNATSSink(pub Publisher, prefix string) *NATSSink {
	return &NATSSink{pub: pub, prefix: prefix}
}

// Name implements Sink.
func (s *NATSSink) Name() string { return "nats" }

// Subject returns the subject events of kind are published on.
func (s *NATSSink) Subject(kind Kind) string {
	if s.prefix == "" {
		return "events." + string(kind)
	}
	return s.prefix + ".events." + string(kind)
}

// Handle implements Sink.
func (s *NATSSink) Handle(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return errors.WrapInvalid(err, "NATSSink", "Handle", "marshal event")
	}
	if err := s.pub.Publish(ctx, s.Subject(e.Kind), data); err != nil {
		return errors.WrapTransient(err, "NATSSink", "Handle", "publish event")
	}
	return nil
}

// ChannelSink hands events to in-process subscribers. Subscribers that do
// not keep up miss events.
type ChannelSink struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

// NewChannelSink creates an empty channel sink.
func NewChannelSink() *ChannelSink {
	return &ChannelSink{subs: make(map[int]chan Event)}
}

// Name implements Sink.
func (s *ChannelSink) Name() string { return "channel" }

// Subscribe returns a channel of events and a function that cancels the
// subscription and closes the channel.
func (s *ChannelSink) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultQueueSize
	}
	ch := make(chan Event, buffer)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Handle implements Sink.
func (s *ChannelSink) Handle(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
		}
	}
	return nil
}

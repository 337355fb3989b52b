package feed

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/zamazir/THMmonitor/errors"
	"github.com/zamazir/THMmonitor/pkg/tlsutil"
)

// KafkaConfig configures KafkaSource. Without a GroupID the reader starts at
// the end of the topic on every run and commits nothing.
type KafkaConfig struct {
	Brokers       []string             `json:"brokers"`
	Topic         string               `json:"topic"`
	GroupID       string               `json:"group_id"`
	FromBeginning bool                 `json:"from_beginning"`
	PollTimeout   time.Duration        `json:"poll_timeout"`
	TLS           tlsutil.ClientConfig `json:"tls"`
}

// KafkaSource receives beacons from one topic. The message key carries the
// routing key.
type KafkaSource struct {
	cfg    KafkaConfig
	tls    *tls.Config
	logger *slog.Logger
}

// NewKafkaSource creates a source.
func NewKafkaSource(cfg KafkaConfig, logger *slog.Logger) *KafkaSource {
	if logger == nil {
		logger = slog.Default().With("component", "feed")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}
	return &KafkaSource{cfg: cfg, logger: logger}
}

// Name implements Source.
func (s *KafkaSource) Name() string { return TransportKafka }

func (s *KafkaSource) readerConfig() kafka.ReaderConfig {
	start := kafka.LastOffset
	if s.cfg.FromBeginning {
		start = kafka.FirstOffset
	}
	rc := kafka.ReaderConfig{
		Brokers:     s.cfg.Brokers,
		GroupID:     s.cfg.GroupID,
		Topic:       s.cfg.Topic,
		StartOffset: start,
		MinBytes:    1,
		MaxBytes:    10e6,
	}
	if s.tls != nil {
		rc.Dialer = &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true, TLS: s.tls}
	}
	return rc
}

// Run fetches messages until ctx is done or the reader fails.
func (s *KafkaSource) Run(ctx context.Context, handle Handler) error {
	reader := kafka.NewReader(s.readerConfig())
	defer reader.Close()

	s.logger.Info("Listening for beacons", "brokers", s.cfg.Brokers, "topic", s.cfg.Topic, "group", s.cfg.GroupID)

	for {
		fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.PollTimeout)
		m, err := reader.FetchMessage(fetchCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if stderrors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if stderrors.Is(err, io.EOF) || stderrors.Is(err, kafka.ErrGroupClosed) {
				return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrConnectionLost, err),
					"KafkaSource", "Run", "fetch message")
			}
			return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrTransport, err),
				"KafkaSource", "Run", "fetch message")
		}

		key := string(m.Key)
		if key == "" {
			key = lastToken(m.Topic, '.')
		}
		handle(ctx, Message{RoutingKey: key, Body: m.Value, Received: time.Now(), Source: TransportKafka})

		if s.cfg.GroupID != "" {
			if err := reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
				s.logger.Warn("Commit failed", "topic", m.Topic, "partition", m.Partition, "offset", m.Offset, "error", err)
			}
		}
	}
}

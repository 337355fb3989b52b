package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zamazir/THMmonitor/errors"
	"github.com/zamazir/THMmonitor/natsclient"
	"github.com/zamazir/THMmonitor/pkg/tlsutil"
)

// NATSConfig configures NATSSource. A non-empty Stream switches from a core
// subscription to a JetStream consumer; Durable names that consumer.
type NATSConfig struct {
	URL           string               `json:"url"`
	SubjectPrefix string               `json:"subject_prefix"`
	Stream        string               `json:"stream"`
	Durable       string               `json:"durable"`
	TLS           tlsutil.ClientConfig `json:"tls"`
}

// Subject returns the wildcard subject covering every routing key.
func (c NATSConfig) Subject() string {
	if c.SubjectPrefix == "" {
		return ">"
	}
	return c.SubjectPrefix + ".>"
}

// NATSSource receives beacons published on <prefix>.<routing key>.
type NATSSource struct {
	cfg    NATSConfig
	opts   []natsclient.ClientOption
	logger *slog.Logger
}

// NewNATSSource creates a source. The client options are applied after the
// source's own defaults.
func NewNATSSource(cfg NATSConfig, logger *slog.Logger, opts ...natsclient.ClientOption) *NATSSource {
	if logger == nil {
		logger = slog.Default().With("component", "feed")
	}
	return &NATSSource{cfg: cfg, opts: opts, logger: logger}
}

// Name implements Source.
func (s *NATSSource) Name() string { return TransportNATS }

// Run connects, subscribes and blocks. The client does not reconnect on its
// own; a lost connection ends Run so the Runner can start over.
func (s *NATSSource) Run(ctx context.Context, handle Handler) error {
	lost := make(chan error, 1)
	opts := append([]natsclient.ClientOption{
		natsclient.WithName("thmmonitor-feed"),
		natsclient.WithMaxReconnects(0),
		natsclient.WithHealthInterval(0),
		natsclient.WithLogger(s.logger),
		natsclient.WithDisconnectCallback(func(err error) {
			select {
			case lost <- err:
			default:
			}
		}),
	}, s.opts...)

	client, err := natsclient.NewClient(s.cfg.URL, opts...)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Close(closeCtx)
	}()

	if err := client.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	receive := func(msgCtx context.Context, subject string, data []byte) {
		handle(msgCtx, Message{
			RoutingKey: lastToken(subject, '.'),
			Body:       data,
			Received:   time.Now(),
			Source:     TransportNATS,
		})
	}

	subject := s.cfg.Subject()
	if s.cfg.Stream != "" {
		err = client.ConsumeStream(ctx, s.cfg.Stream, subject, s.cfg.Durable, receive)
	} else {
		err = client.Subscribe(ctx, subject, receive)
	}
	if err != nil {
		return errors.WrapTransient(err, "NATSSource", "Run", "subscribe "+subject)
	}
	s.logger.Info("Listening for beacons", "url", s.cfg.URL, "subject", subject, "stream", s.cfg.Stream)

	select {
	case <-ctx.Done():
		return nil
	case err := <-lost:
		return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrConnectionLost, err),
			"NATSSource", "Run", "receive beacons")
	}
}

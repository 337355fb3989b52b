package feed

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/zamazir/THMmonitor/errors"
	"github.com/zamazir/THMmonitor/pkg/tlsutil"
)

// MQTTConfig configures MQTTSource.
type MQTTConfig struct {
	Broker      string        `json:"broker"`
	ClientID    string        `json:"client_id"`
	TopicPrefix string        `json:"topic_prefix"`
	QoS         byte          `json:"qos"`
	Username    string        `json:"username"`
	Password    string        `json:"password"`
	KeepAlive   time.Duration `json:"keep_alive"`
	// TLS applies to ssl:// and tls:// brokers.
	TLS tlsutil.ClientConfig `json:"tls"`
}

// Filter returns the topic filter covering every routing key.
func (c MQTTConfig) Filter() string {
	if c.TopicPrefix == "" {
		return "#"
	}
	return c.TopicPrefix + "/#"
}

// MQTTSource receives beacons published on <prefix>/<routing key>.
type MQTTSource struct {
	cfg    MQTTConfig
	tls    *tls.Config
	logger *slog.Logger
}

// NewMQTTSource creates a source.
func NewMQTTSource(cfg MQTTConfig, logger *slog.Logger) *MQTTSource {
	if logger == nil {
		logger = slog.Default().With("component", "feed")
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 30 * time.Second
	}
	return &MQTTSource{cfg: cfg, logger: logger}
}

// Name implements Source.
func (s *MQTTSource) Name() string { return TransportMQTT }

// Run connects, subscribes and blocks until ctx is done or the connection
// is lost. Reconnecting is left to the Runner.
func (s *MQTTSource) Run(ctx context.Context, handle Handler) error {
	lost := make(chan error, 1)

	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetKeepAlive(s.cfg.KeepAlive).
		SetAutoReconnect(false).
		SetCleanSession(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			select {
			case lost <- err:
			default:
			}
		})
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}
	if s.tls != nil {
		opts.SetTLSConfig(s.tls)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return errors.WrapTransient(errors.ErrConnectionTimeout, "MQTTSource", "Run", "connect to "+s.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrTransport, err), "MQTTSource", "Run", "connect to "+s.cfg.Broker)
	}
	defer client.Disconnect(250)

	filter := s.cfg.Filter()
	token = client.Subscribe(filter, s.cfg.QoS, func(_ mqtt.Client, m mqtt.Message) {
		handle(ctx, Message{
			RoutingKey: lastToken(m.Topic(), '/'),
			Body:       copyBytes(m.Payload()),
			Received:   time.Now(),
			Source:     TransportMQTT,
		})
	})
	if !token.WaitTimeout(10 * time.Second) {
		return errors.WrapTransient(errors.ErrConnectionTimeout, "MQTTSource", "Run", "subscribe "+filter)
	}
	if err := token.Error(); err != nil {
		return errors.WrapTransient(err, "MQTTSource", "Run", "subscribe "+filter)
	}
	s.logger.Info("Listening for beacons", "broker", s.cfg.Broker, "filter", filter)

	select {
	case <-ctx.Done():
		return nil
	case err := <-lost:
		return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrConnectionLost, err),
			"MQTTSource", "Run", "receive beacons")
	}
}

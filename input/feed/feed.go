// Package feed receives live beacons from the ground station over NATS,
// MQTT, Kafka or UDP, or synthesizes them, and runs the chosen source under
// a reconnecting Runner.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zamazir/THMmonitor/errors"
	"github.com/zamazir/THMmonitor/metric"
	"github.com/zamazir/THMmonitor/natsclient"
	"github.com/zamazir/THMmonitor/pkg/tlsutil"
)

// Message is one beacon as received from a transport.
type Message struct {
	RoutingKey string    `json:"routing_key"`
	Body       []byte    `json:"body"`
	Received   time.Time `json:"received"`
	Source     string    `json:"source"`
}

// Handler processes one message. It is called from the source's receive
// goroutine and must not block for long.
type Handler func(ctx context.Context, msg Message)

// Source is a live beacon transport. Run blocks until ctx is done, in which
// case it returns nil, or until the transport fails, in which case it
// returns a transient error.
type Source interface {
	Name() string
	Run(ctx context.Context, handle Handler) error
}

// Transport names.
const (
	TransportNATS       = "nats"
	TransportMQTT       = "mqtt"
	TransportKafka      = "kafka"
	TransportUDP        = "udp"
	TransportSimulation = "simulation"
)

// Config selects and configures the live source.
type Config struct {
	Transport  string           `json:"transport"`
	Prefix     string           `json:"prefix"`
	RetryDelay time.Duration    `json:"retry_delay"`
	NATS       NATSConfig       `json:"nats"`
	MQTT       MQTTConfig       `json:"mqtt"`
	Kafka      KafkaConfig      `json:"kafka"`
	UDP        UDPConfig        `json:"udp"`
	Simulation SimulationConfig `json:"simulation"`
}

// DefaultConfig returns a NATS feed on thm.fm.
func DefaultConfig() Config {
	return Config{
		Transport:  TransportNATS,
		Prefix:     "thm.fm",
		RetryDelay: DefaultRetryDelay,
		NATS:       NATSConfig{URL: "nats://localhost:4222"},
		MQTT:       MQTTConfig{Broker: "tcp://localhost:1883", ClientID: "thmmonitor"},
		Kafka:      KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "beacons"},
		UDP:        UDPConfig{Bind: "0.0.0.0", Port: 14550, RoutingKey: "THM"},
		Simulation: SimulationConfig{Interval: time.Second},
	}
}

// Validate checks the settings of the selected transport only.
func (c Config) Validate() error {
	if c.RetryDelay < 0 {
		return invalid("retry_delay cannot be negative")
	}

	switch c.Transport {
	case TransportNATS:
		if c.NATS.URL == "" {
			return invalid("nats.url is required")
		}
		if err := c.NATS.TLS.Validate(); err != nil {
			return err
		}
	case TransportMQTT:
		if c.MQTT.Broker == "" {
			return invalid("mqtt.broker is required")
		}
		if err := c.MQTT.TLS.Validate(); err != nil {
			return err
		}
	case TransportKafka:
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			return invalid("kafka.brokers and kafka.topic are required")
		}
		if err := c.Kafka.TLS.Validate(); err != nil {
			return err
		}
	case TransportUDP:
		if c.UDP.Port < 0 || c.UDP.Port > 65535 {
			return invalid(fmt.Sprintf("udp.port %d out of range", c.UDP.Port))
		}
	case TransportSimulation:
		if c.Simulation.Interval <= 0 {
			return invalid("simulation.interval must be positive")
		}
	default:
		return invalid(fmt.Sprintf("unknown transport %q", c.Transport))
	}
	return nil
}

func invalid(reason string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, reason), "feed", "Validate", "check config")
}

// Deps holds what sources need at runtime.
type Deps struct {
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
	// NATSOptions are appended to the options of the source's own client.
	NATSOptions []natsclient.ClientOption
	// Simulator builds simulated THM frames; required for the simulation
	// transport.
	Simulator *Simulator
}

// NewSource builds the source selected by cfg.
func NewSource(cfg Config, deps Deps) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "feed", "transport", cfg.Transport)

	switch cfg.Transport {
	case TransportNATS:
		nc := cfg.NATS
		if nc.SubjectPrefix == "" {
			nc.SubjectPrefix = cfg.Prefix
		}
		tlsConfig, err := tlsutil.LoadClientConfig(nc.TLS)
		if err != nil {
			return nil, err
		}
		opts := deps.NATSOptions
		if tlsConfig != nil {
			opts = append([]natsclient.ClientOption{natsclient.WithTLS(tlsConfig)}, opts...)
		}
		return NewNATSSource(nc, logger, opts...), nil
	case TransportMQTT:
		mc := cfg.MQTT
		if mc.TopicPrefix == "" {
			mc.TopicPrefix = strings.ReplaceAll(cfg.Prefix, ".", "/")
		}
		src := NewMQTTSource(mc, logger)
		tlsConfig, err := tlsutil.LoadClientConfig(mc.TLS)
		if err != nil {
			return nil, err
		}
		src.tls = tlsConfig
		return src, nil
	case TransportKafka:
		src := NewKafkaSource(cfg.Kafka, logger)
		tlsConfig, err := tlsutil.LoadClientConfig(cfg.Kafka.TLS)
		if err != nil {
			return nil, err
		}
		src.tls = tlsConfig
		return src, nil
	case TransportUDP:
		return NewUDPSource(cfg.UDP, logger, deps.MetricsRegistry)
	default:
		if deps.Simulator == nil {
			return nil, invalid("simulation transport needs a simulator")
		}
		return NewSimulationSource(cfg.Simulation, deps.Simulator, logger), nil
	}
}

// lastToken returns the part of s after the last sep.
func lastToken(s string, sep byte) string {
	if i := strings.LastIndexByte(s, sep); i >= 0 {
		return s[i+1:]
	}
	return s
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

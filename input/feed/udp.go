package feed

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zamazir/THMmonitor/errors"
	"github.com/zamazir/THMmonitor/metric"
)

// UDPConfig configures UDPSource. Every datagram is one beacon tagged with
// RoutingKey.
type UDPConfig struct {
	Bind       string `json:"bind"`
	Port       int    `json:"port"`
	RoutingKey string `json:"routing_key"`
}

// udpMetrics holds Prometheus metrics for the UDP source
type udpMetrics struct {
	packetsReceived prometheus.Counter
	bytesReceived   prometheus.Counter
	socketErrors    prometheus.Counter
	lastActivity    prometheus.Gauge
}

func newUDPMetrics(registry *metric.MetricsRegistry) (*udpMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &udpMetrics{
		packetsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "udp",
			Name:      "packets_received_total",
			Help:      "Total UDP packets received",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "udp",
			Name:      "bytes_received_total",
			Help:      "Total bytes received from UDP",
		}),
		socketErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "udp",
			Name:      "socket_errors_total",
			Help:      "Socket read errors encountered",
		}),
		lastActivity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "udp",
			Name:      "last_activity_timestamp",
			Help:      "Unix timestamp of last received packet",
		}),
	}

	if err := registry.RegisterCounter("udp", "packets_received", m.packetsReceived); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("udp", "bytes_received", m.bytesReceived); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("udp", "socket_errors", m.socketErrors); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("udp", "last_activity", m.lastActivity); err != nil {
		return nil, err
	}
	return m, nil
}

// UDPSource listens for beacons forwarded as datagrams, typically raw THM
// frames relayed by the ground station.
type UDPSource struct {
	cfg     UDPConfig
	logger  *slog.Logger
	metrics *udpMetrics

	mu   sync.Mutex
	addr net.Addr
}

// NewUDPSource creates a source. Port 0 lets the OS pick a port; Addr
// reports it once Run has bound the socket.
func NewUDPSource(cfg UDPConfig, logger *slog.Logger, registry *metric.MetricsRegistry) (*UDPSource, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: invalid port %d", errors.ErrInvalidConfig, cfg.Port),
			"UDPSource", "NewUDPSource", "port validation")
	}
	if cfg.Bind == "" {
		cfg.Bind = "0.0.0.0"
	}
	if cfg.RoutingKey == "" {
		cfg.RoutingKey = "THM"
	}
	if logger == nil {
		logger = slog.Default().With("component", "feed")
	}
	m, err := newUDPMetrics(registry)
	if err != nil {
		return nil, err
	}
	return &UDPSource{cfg: cfg, logger: logger, metrics: m}, nil
}

// Name implements Source.
func (s *UDPSource) Name() string { return TransportUDP }

// Addr returns the bound address, or nil before Run bound the socket.
func (s *UDPSource) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *UDPSource) bind() (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(s.cfg.Bind, fmt.Sprint(s.cfg.Port)))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address %s:%d: %w", s.cfg.Bind, s.cfg.Port, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP port %d: %w", s.cfg.Port, err)
	}

	const socketBufferSize = 2 * 1024 * 1024
	if err := conn.SetReadBuffer(socketBufferSize); err != nil {
		s.logger.Warn("Could not set UDP buffer size", "buffer_size", socketBufferSize, "error", err)
	}
	return conn, nil
}

// Run binds the socket and reads datagrams until ctx is done.
func (s *UDPSource) Run(ctx context.Context, handle Handler) error {
	conn, err := s.bind()
	if err != nil {
		return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrTransport, err), "UDPSource", "Run", "socket binding")
	}
	defer conn.Close()

	s.mu.Lock()
	s.addr = conn.LocalAddr()
	s.mu.Unlock()
	s.logger.Info("Listening for beacons", "addr", conn.LocalAddr().String(), "routing_key", s.cfg.RoutingKey)

	buf := make([]byte, 65536)
	for {
		if ctx.Err() != nil {
			return nil
		}

		// Short deadlines let the loop notice cancellation.
		_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			if s.metrics != nil {
				s.metrics.socketErrors.Inc()
			}
			return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrTransport, err), "UDPSource", "Run", "read datagram")
		}

		now := time.Now()
		if s.metrics != nil {
			s.metrics.packetsReceived.Inc()
			s.metrics.bytesReceived.Add(float64(n))
			s.metrics.lastActivity.Set(float64(now.Unix()))
		}

		handle(ctx, Message{
			RoutingKey: s.cfg.RoutingKey,
			Body:       copyBytes(buf[:n]),
			Received:   now,
			Source:     TransportUDP,
		})
	}
}

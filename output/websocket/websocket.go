// Package websocket broadcasts monitor events to connected WebSocket clients.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zamazir/THMmonitor/errors"
	"github.com/zamazir/THMmonitor/metric"
	"github.com/zamazir/THMmonitor/output/events"
)

// Config holds configuration for the broadcaster.
type Config struct {
	// WriteTimeout bounds a single write to one client.
	WriteTimeout time.Duration `json:"write_timeout"`
	// PingInterval is the keepalive period. Clients that miss two pongs
	// are dropped.
	PingInterval time.Duration `json:"ping_interval"`
	// AllowedOrigins restricts the Origin header. Empty allows any origin.
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.WriteTimeout <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "write_timeout must be positive")
	}
	if c.PingInterval <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "ping_interval must be positive")
	}
	return nil
}

// MessageEnvelope wraps every message sent to clients.
type MessageEnvelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// clientInfo holds information about a connected client.
type clientInfo struct {
	conn        *websocket.Conn
	connectedAt time.Time
	sent        atomic.Int64
	closed      atomic.Bool
	closeOnce   sync.Once
	writeMutex  sync.Mutex
}

// Broadcaster is an http.Handler that upgrades clients and an events.Sink
// that writes every event to all of them.
type Broadcaster struct {
	cfg      Config
	upgrader websocket.Upgrader
	logger   *slog.Logger
	metrics  *Metrics

	clients   map[*websocket.Conn]*clientInfo
	clientsMu sync.RWMutex

	shutdown  chan struct{}
	closeOnce sync.Once
	running   atomic.Bool
	wg        sync.WaitGroup

	messagesSent atomic.Int64
	bytesSent    atomic.Int64
	errors       atomic.Int64
}

var (
	_ events.Sink  = (*Broadcaster)(nil)
	_ http.Handler = (*Broadcaster)(nil)
)

// NewBroadcaster creates a broadcaster. A nil registry disables metrics.
func NewBroadcaster(cfg Config, logger *slog.Logger, registry *metric.MetricsRegistry) (*Broadcaster, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default().With("component", "websocket")
	}
	m, err := newMetrics(registry)
	if err != nil {
		return nil, err
	}

	b := &Broadcaster{
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		clients:  make(map[*websocket.Conn]*clientInfo),
		shutdown: make(chan struct{}),
	}
	b.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     b.checkOrigin,
	}
	return b, nil
}

func (b *Broadcaster) checkOrigin(r *http.Request) bool {
	if len(b.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range b.cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// Name implements events.Sink.
func (b *Broadcaster) Name() string { return "websocket" }

// Start launches the keepalive loop.
func (b *Broadcaster) Start(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Broadcaster", "Start", "check running state")
	}
	b.wg.Add(1)
	go b.maintainClients(ctx)
	return nil
}

// Stop closes every client and waits for their goroutines.
func (b *Broadcaster) Stop(timeout time.Duration) error {
	b.closeOnce.Do(func() { close(b.shutdown) })
	b.closeAllClients()

	waitCh := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		b.running.Store(false)
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("shutdown timeout after %v", timeout), "Broadcaster", "Stop", "shutdown")
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.clientsMu.RLock()
	defer b.clientsMu.RUnlock()
	return len(b.clients)
}

// ServeHTTP upgrades the request to a WebSocket connection.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-b.shutdown:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.errors.Add(1)
		if b.metrics != nil {
			b.metrics.errorsTotal.WithLabelValues("connection_upgrade").Inc()
		}
		return
	}

	info := &clientInfo{conn: conn, connectedAt: time.Now()}

	b.clientsMu.Lock()
	b.clients[conn] = info
	count := len(b.clients)
	b.clientsMu.Unlock()

	if b.metrics != nil {
		b.metrics.connectionTotal.Inc()
		b.metrics.clientsConnected.Set(float64(count))
	}
	b.logger.Debug("WebSocket client connected", "remote", r.RemoteAddr, "clients", count)

	b.wg.Add(1)
	go b.handleClient(conn, info)
}

// handleClient reads until the connection fails so that closed clients are
// noticed. Client messages are ignored.
func (b *Broadcaster) handleClient(conn *websocket.Conn, info *clientInfo) {
	defer b.wg.Done()
	defer b.removeClient(conn, info, "normal")

	readTimeout := 2 * b.cfg.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (b *Broadcaster) removeClient(conn *websocket.Conn, info *clientInfo, reason string) {
	info.closeOnce.Do(func() {
		info.closed.Store(true)

		b.clientsMu.Lock()
		delete(b.clients, conn)
		count := len(b.clients)
		b.clientsMu.Unlock()

		if b.metrics != nil {
			b.metrics.disconnectionTotal.WithLabelValues(reason).Inc()
			b.metrics.clientsConnected.Set(float64(count))
		}
		_ = conn.Close()
	})
}

func (b *Broadcaster) closeAllClients() {
	conns, infos := b.buildClientSnapshot()
	for _, conn := range conns {
		b.removeClient(conn, infos[conn], "shutdown")
	}
}

// Handle implements events.Sink by writing e to every client.
func (b *Broadcaster) Handle(ctx context.Context, e events.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return errors.WrapInvalid(err, "Broadcaster", "Handle", "marshal event")
	}
	data, err := json.Marshal(MessageEnvelope{
		Type:      "event",
		ID:        e.ID,
		Timestamp: e.Time.UnixMilli(),
		Payload:   payload,
	})
	if err != nil {
		return errors.WrapInvalid(err, "Broadcaster", "Handle", "marshal envelope")
	}

	b.broadcastToClients(ctx, string(e.Kind), data)
	return nil
}

func (b *Broadcaster) broadcastToClients(ctx context.Context, kind string, data []byte) {
	start := time.Now()
	conns, infos := b.buildClientSnapshot()

	select {
	case <-ctx.Done():
		return
	case <-b.shutdown:
		return
	default:
	}

	var wg sync.WaitGroup
	for _, conn := range conns {
		info := infos[conn]
		if info.closed.Load() {
			continue
		}
		wg.Add(1)
		go func(conn *websocket.Conn, info *clientInfo) {
			defer wg.Done()
			if err := b.sendToClient(conn, info, data); err != nil {
				b.errors.Add(1)
				if b.metrics != nil {
					b.metrics.errorsTotal.WithLabelValues("client_send").Inc()
				}
				b.removeClient(conn, info, "send_error")
				return
			}
			info.sent.Add(1)
			b.messagesSent.Add(1)
			b.bytesSent.Add(int64(len(data)))
			if b.metrics != nil {
				b.metrics.messagesSent.WithLabelValues(kind).Inc()
				b.metrics.bytesSent.Add(float64(len(data)))
			}
		}(conn, info)
	}
	wg.Wait()

	if b.metrics != nil {
		b.metrics.broadcastDuration.Observe(time.Since(start).Seconds())
	}
}

func (b *Broadcaster) buildClientSnapshot() ([]*websocket.Conn, map[*websocket.Conn]*clientInfo) {
	b.clientsMu.RLock()
	defer b.clientsMu.RUnlock()

	conns := make([]*websocket.Conn, 0, len(b.clients))
	infos := make(map[*websocket.Conn]*clientInfo, len(b.clients))
	for conn, info := range b.clients {
		if !info.closed.Load() {
			conns = append(conns, conn)
			infos[conn] = info
		}
	}
	return conns, infos
}

// sendToClient serializes writes per connection; gorilla/websocket does not
// allow concurrent writers.
func (b *Broadcaster) sendToClient(conn *websocket.Conn, info *clientInfo, data []byte) error {
	info.writeMutex.Lock()
	defer info.writeMutex.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(b.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (b *Broadcaster) maintainClients(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.shutdown:
			return
		case <-ticker.C:
			b.pingClients()
		}
	}
}

func (b *Broadcaster) pingClients() {
	conns, infos := b.buildClientSnapshot()
	for _, conn := range conns {
		info := infos[conn]
		info.writeMutex.Lock()
		err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(b.cfg.WriteTimeout))
		info.writeMutex.Unlock()
		if err != nil {
			b.errors.Add(1)
			b.removeClient(conn, info, "ping_failed")
		}
	}
}

// Metrics holds Prometheus metrics of the broadcaster.
type Metrics struct {
	messagesSent       *prometheus.CounterVec
	bytesSent          prometheus.Counter
	clientsConnected   prometheus.Gauge
	connectionTotal    prometheus.Counter
	disconnectionTotal *prometheus.CounterVec
	broadcastDuration  prometheus.Histogram
	errorsTotal        *prometheus.CounterVec
}

func newMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "messages_sent_total",
			Help:      "Total messages sent to WebSocket clients",
		}, []string{"kind"}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "bytes_sent_total",
			Help:      "Total bytes sent to WebSocket clients",
		}),
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "clients_connected",
			Help:      "Number of currently connected clients",
		}),
		connectionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "client_connections_total",
			Help:      "Total client connections",
		}),
		disconnectionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "client_disconnections_total",
			Help:      "Total client disconnections",
		}, []string{"disconnect_reason"}),
		broadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "broadcast_duration_seconds",
			Help:      "Time to broadcast one event to all clients",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "errors_total",
			Help:      "WebSocket errors",
		}, []string{"error_type"}),
	}

	if err := registry.RegisterCounterVec("websocket", "messages_sent_total", m.messagesSent); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("websocket", "bytes_sent_total", m.bytesSent); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("websocket", "clients_connected", m.clientsConnected); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("websocket", "client_connections_total", m.connectionTotal); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("websocket", "client_disconnections_total", m.disconnectionTotal); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram("websocket", "broadcast_duration_seconds", m.broadcastDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("websocket", "errors_total", m.errorsTotal); err != nil {
		return nil, err
	}
	return m, nil
}

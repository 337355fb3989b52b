package natsclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/zamazir/THMmonitor/errors"
	"github.com/zamazir/THMmonitor/metric"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Error values returned by the client. They alias the shared sentinels so
// callers can match them with errors.Is against either package.
var (
	ErrNotConnected = errors.ErrNoConnection
	ErrCircuitOpen  = errors.ErrCircuitOpen
)

// MessageHandler receives the subject and payload of one message.
type MessageHandler func(ctx context.Context, subject string, data []byte)

// Status holds runtime status information for the client
type Status struct {
	Status          ConnectionStatus `json:"status"`
	FailureCount    int32            `json:"failure_count"`
	LastFailureTime time.Time        `json:"last_failure_time"`
	Reconnects      int32            `json:"reconnects"`
	RTT             time.Duration    `json:"rtt"`
}

// Client manages one NATS connection with a circuit breaker in front of
// connection attempts and JetStream calls.
type Client struct {
	url        string
	status     atomic.Value // ConnectionStatus
	failures   atomic.Int32
	reconnects atomic.Int32
	logger     *slog.Logger
	metrics    *metric.Metrics

	conn *nats.Conn
	js   jetstream.JetStream
	subs []*nats.Subscription

	consumers   map[string]jetstream.ConsumeContext
	consumersMu sync.Mutex

	lastFailure      atomic.Value // time.Time
	backoff          atomic.Value // time.Duration
	circuitFailures  atomic.Int32
	circuitThreshold int32
	maxBackoff       time.Duration

	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	// Cleared on Close.
	username string
	password string
	token    string

	tlsConfig *tls.Config

	clientName  string
	compression bool

	onDisconnect   func(error)
	onReconnect    func()
	onHealthChange func(bool)

	healthInterval time.Duration
	healthDone     chan struct{}

	mu      sync.RWMutex
	closeMu sync.Mutex
	closed  atomic.Bool
}

// NewClient creates a client for url. It does not connect.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:              url,
		logger:           slog.Default().With("component", "natsclient"),
		maxReconnects:    -1,
		reconnectWait:    2 * time.Second,
		pingInterval:     30 * time.Second,
		healthInterval:   10 * time.Second,
		circuitThreshold: 5,
		maxBackoff:       time.Minute,
		timeout:          5 * time.Second,
		drainTimeout:     30 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.status.Store(StatusDisconnected)
	c.backoff.Store(time.Second)
	c.lastFailure.Store(time.Time{})

	c.logger.Debug("Created NATS client", "url", url)
	return c, nil
}

// URL returns the NATS server URL
func (m *Client) URL() string {
	return m.url
}

// Status returns the current connection status
func (m *Client) Status() ConnectionStatus {
	val := m.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

// GetConnection returns the current NATS connection
func (m *Client) GetConnection() *nats.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn
}

func (m *Client) setStatus(status ConnectionStatus) {
	m.status.Store(status)
	if m.metrics == nil {
		return
	}
	m.metrics.RecordNATSStatus(status == StatusConnected)
	if status == StatusCircuitOpen {
		m.metrics.RecordCircuitBreakerState(1)
	} else {
		m.metrics.RecordCircuitBreakerState(0)
	}
}

// IsHealthy returns true if the connection is healthy
func (m *Client) IsHealthy() bool {
	return m.Status() == StatusConnected
}

// Failures returns the failure count since the last successful operation
func (m *Client) Failures() int32 {
	return m.failures.Load()
}

// Backoff returns the delay before the open circuit is tested again
func (m *Client) Backoff() time.Duration {
	return m.backoff.Load().(time.Duration)
}

// recordFailure counts a failure and opens the circuit once
// circuitThreshold failures accumulated in the current round.
func (m *Client) recordFailure() {
	total := m.failures.Add(1)
	m.lastFailure.Store(time.Now())
	round := m.circuitFailures.Add(1)

	m.logger.Debug("Recorded NATS failure", "failures", total, "circuit_failures", round)

	if round < m.circuitThreshold {
		return
	}

	current := m.Status()
	backoff := m.backoff.Load().(time.Duration)
	next := backoff * 2
	if next > m.maxBackoff {
		next = m.maxBackoff
	}

	if current == StatusCircuitOpen {
		m.backoff.Store(next)
		m.circuitFailures.Store(0)
		m.logger.Warn("Circuit breaker still open", "backoff", next)
		return
	}

	// Only one goroutine wins the transition.
	if m.status.CompareAndSwap(current, StatusCircuitOpen) {
		m.setStatus(StatusCircuitOpen)
		m.backoff.Store(next)
		m.circuitFailures.Store(0)
		m.logger.Warn("Circuit breaker opened", "failures", round, "backoff", backoff)
		time.AfterFunc(backoff, m.testCircuit)
	}
}

// resetCircuit clears the failure counters after a successful operation.
func (m *Client) resetCircuit() {
	m.failures.Store(0)
	m.circuitFailures.Store(0)
	m.backoff.Store(time.Second)
	m.lastFailure.Store(time.Time{})

	if m.Status() == StatusCircuitOpen {
		m.setStatus(StatusDisconnected)
	}
}

// testCircuit half-opens the circuit so the next Connect may try again.
func (m *Client) testCircuit() {
	if m.Status() == StatusCircuitOpen {
		m.logger.Debug("Circuit breaker half-open")
		m.status.Store(StatusDisconnected)
		if m.metrics != nil {
			m.metrics.RecordCircuitBreakerState(2)
		}
	}
}

// WaitForConnection waits for the connection to be established
func (m *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrConnectionTimeout, ctx.Err()),
				"Client", "WaitForConnection", "wait for connection")
		case <-ticker.C:
			if m.IsHealthy() {
				return nil
			}
		}
	}
}

// MaxReconnects returns the maximum number of reconnection attempts
func (m *Client) MaxReconnects() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxReconnects
}

// ReconnectWait returns the wait duration between reconnection attempts
func (m *Client) ReconnectWait() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reconnectWait
}

// ConnectionOptions returns the NATS connection options
func (m *Client) ConnectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(m.maxReconnects),
		nats.ReconnectWait(m.reconnectWait),
		nats.PingInterval(m.pingInterval),
		nats.Timeout(m.timeout),
		nats.DrainTimeout(m.drainTimeout),
		nats.DisconnectErrHandler(m.handleDisconnect),
		nats.ReconnectHandler(m.handleReconnect),
		nats.ClosedHandler(m.handleClosed),
		nats.ErrorHandler(m.handleError),
	}

	if m.username != "" && m.password != "" {
		opts = append(opts, nats.UserInfo(m.username, m.password))
	}
	if m.token != "" {
		opts = append(opts, nats.Token(m.token))
	}
	if m.tlsConfig != nil {
		opts = append(opts, nats.Secure(m.tlsConfig))
	}
	if m.clientName != "" {
		opts = append(opts, nats.Name(m.clientName))
	}
	if m.compression {
		opts = append(opts, nats.Compression(true))
	}
	return opts
}

// GetStatus returns current status information
func (m *Client) GetStatus() *Status {
	status := &Status{
		Status:          m.Status(),
		FailureCount:    m.failures.Load(),
		LastFailureTime: m.lastFailure.Load().(time.Time),
		Reconnects:      m.reconnects.Load(),
	}

	if rtt, err := m.RTT(); err == nil {
		status.RTT = rtt
	}
	return status
}

// Connect establishes the connection. It returns ErrCircuitOpen without
// dialing while the circuit is open.
func (m *Client) Connect(ctx context.Context) error {
	if m.Status() == StatusCircuitOpen {
		return errors.WrapTransient(ErrCircuitOpen, "Client", "Connect", "check circuit")
	}
	if m.closed.Load() {
		return errors.WrapFatal(errors.ErrShuttingDown, "Client", "Connect", "check client state")
	}

	m.setStatus(StatusConnecting)
	m.logger.Info("Connecting to NATS", "url", m.url)

	opts := m.ConnectionOptions()
	done := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(m.url, opts...)
		if err != nil {
			done <- err
			return
		}

		m.mu.Lock()
		m.conn = conn
		if js, err := jetstream.New(conn); err == nil {
			m.js = js
		}
		m.mu.Unlock()
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			m.recordFailure()
			if m.Status() == StatusCircuitOpen {
				return errors.WrapTransient(ErrCircuitOpen, "Client", "Connect", "establish connection")
			}
			m.setStatus(StatusDisconnected)
			return errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrTransport, err),
				"Client", "Connect", "establish connection")
		}
	case <-ctx.Done():
		m.recordFailure()
		if m.Status() != StatusCircuitOpen {
			m.setStatus(StatusDisconnected)
		}
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled")
	}

	m.setStatus(StatusConnected)
	m.resetCircuit()
	m.logger.Info("Connected to NATS", "url", m.url)

	if m.healthInterval > 0 {
		m.startHealthMonitoring()
	}

	m.mu.RLock()
	onHealthChange := m.onHealthChange
	m.mu.RUnlock()
	if onHealthChange != nil {
		onHealthChange(true)
	}
	return nil
}

// Close stops consumers, unsubscribes and drains the connection. The drain
// is bounded by the drain timeout or the context deadline, whichever is
// shorter. Close is idempotent.
func (m *Client) Close(ctx context.Context) error {
	m.closeMu.Lock()
	defer m.closeMu.Unlock()

	if m.closed.Load() {
		return nil
	}
	m.closed.Store(true)

	m.stopHealthMonitoring()

	m.consumersMu.Lock()
	for key, cc := range m.consumers {
		cc.Stop()
		m.logger.Debug("Stopped consumer", "consumer", key)
	}
	m.consumers = nil
	m.consumersMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []string
	for _, sub := range m.subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	m.subs = nil

	if m.conn != nil {
		drainTimeout := m.drainTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
				drainTimeout = remaining
			}
		}

		conn := m.conn
		drained := make(chan error, 1)
		go func() { drained <- conn.Drain() }()

		select {
		case err := <-drained:
			if err != nil {
				errs = append(errs, err.Error())
			}
		case <-time.After(drainTimeout):
			errs = append(errs, fmt.Sprintf("drain timeout after %v", drainTimeout))
		case <-ctx.Done():
			errs = append(errs, ctx.Err().Error())
		}

		conn.Close()
		m.conn = nil
		m.js = nil
	}

	m.username = ""
	m.password = ""
	m.token = ""

	m.setStatus(StatusDisconnected)

	if len(errs) > 0 {
		m.logger.Error("NATS close finished with errors", "errors", errs)
		return errors.Wrap(fmt.Errorf("cleanup errors: %s", strings.Join(errs, "; ")),
			"Client", "Close", "close connection")
	}
	return nil
}

// RTT returns the round-trip time to the NATS server
func (m *Client) RTT() (time.Duration, error) {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return 0, ErrNotConnected
	}
	rtt, err := conn.RTT()
	if err == nil && m.metrics != nil {
		m.metrics.RecordNATSRTT(rtt)
	}
	return rtt, err
}

// Subscribe subscribes to subject. Each handler call gets a context derived
// from ctx with a 30 second timeout.
func (m *Client) Subscribe(ctx context.Context, subject string, handler MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil || !m.conn.IsConnected() {
		return ErrNotConnected
	}

	sub, err := m.conn.Subscribe(subject, func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		handler(msgCtx, msg.Subject, msg.Data)
	})
	if err != nil {
		return errors.WrapTransient(err, "Client", "Subscribe", "subscribe "+subject)
	}

	m.subs = append(m.subs, sub)
	return nil
}

// Publish publishes data on subject
func (m *Client) Publish(_ context.Context, subject string, data []byte) error {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}
	return conn.Publish(subject, data)
}

// JetStream returns the JetStream context
func (m *Client) JetStream() (jetstream.JetStream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.js == nil {
		return nil, errors.WrapTransient(ErrNotConnected, "Client", "JetStream", "get JetStream context")
	}
	return m.js, nil
}

func (m *Client) ready(method string) (jetstream.JetStream, error) {
	if m.Status() == StatusCircuitOpen {
		return nil, errors.WrapTransient(ErrCircuitOpen, "Client", method, "check circuit")
	}
	if m.Status() != StatusConnected {
		return nil, ErrNotConnected
	}
	if m.closed.Load() {
		return nil, errors.WrapFatal(errors.ErrShuttingDown, "Client", method, "check client state")
	}
	js, err := m.JetStream()
	if err != nil {
		m.recordFailure()
		return nil, err
	}
	return js, nil
}

// CreateStream creates or updates a JetStream stream
func (m *Client) CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	js, err := m.ready("CreateStream")
	if err != nil {
		return nil, err
	}

	stream, err := js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		m.recordFailure()
		return nil, errors.WrapTransient(err, "Client", "CreateStream", "create stream "+cfg.Name)
	}

	m.resetCircuit()
	return stream, nil
}

// PublishToStream publishes to a subject bound to a JetStream stream and
// waits for the acknowledgement.
func (m *Client) PublishToStream(ctx context.Context, subject string, data []byte) error {
	js, err := m.ready("PublishToStream")
	if err != nil {
		return err
	}

	if _, err := js.Publish(ctx, subject, data); err != nil {
		m.recordFailure()
		return errors.WrapTransient(err, "Client", "PublishToStream", "publish "+subject)
	}

	m.resetCircuit()
	return nil
}

// ConsumeStream starts a consumer on streamName filtered by subject. A
// non-empty durable name makes the consumer survive restarts. Messages are
// acknowledged after handler returns.
func (m *Client) ConsumeStream(ctx context.Context, streamName, subject, durable string, handler MessageHandler) error {
	js, err := m.ready("ConsumeStream")
	if err != nil {
		return err
	}

	cfg := jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	}
	consumer, err := js.CreateOrUpdateConsumer(ctx, streamName, cfg)
	if err != nil {
		m.recordFailure()
		return errors.WrapTransient(err, "Client", "ConsumeStream", "create consumer")
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		handler(ctx, msg.Subject(), msg.Data())
		if err := msg.Ack(); err != nil {
			m.logger.Debug("Ack failed", "subject", msg.Subject(), "error", err)
		}
	})
	if err != nil {
		m.recordFailure()
		return errors.WrapTransient(err, "Client", "ConsumeStream", "start consume")
	}

	m.consumersMu.Lock()
	defer m.consumersMu.Unlock()

	if m.closed.Load() {
		cc.Stop()
		return errors.WrapFatal(errors.ErrShuttingDown, "Client", "ConsumeStream", "register consumer")
	}
	if m.consumers == nil {
		m.consumers = make(map[string]jetstream.ConsumeContext)
	}
	key := streamName + ":" + subject
	if existing, ok := m.consumers[key]; ok {
		existing.Stop()
		m.logger.Debug("Replaced existing consumer", "consumer", key)
	}
	m.consumers[key] = cc

	m.resetCircuit()
	return nil
}

// StopConsumer stops the consumer started for streamName and subject.
func (m *Client) StopConsumer(streamName, subject string) {
	m.consumersMu.Lock()
	defer m.consumersMu.Unlock()

	key := streamName + ":" + subject
	if cc, ok := m.consumers[key]; ok {
		cc.Stop()
		delete(m.consumers, key)
	}
}

// OnHealthChange sets a callback for health status changes
func (m *Client) OnHealthChange(fn func(bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onHealthChange = fn
}

func (m *Client) handleDisconnect(_ *nats.Conn, err error) {
	m.setStatus(StatusReconnecting)
	m.logger.Warn("NATS disconnected", "error", err)

	m.mu.RLock()
	onDisconnect := m.onDisconnect
	onHealthChange := m.onHealthChange
	m.mu.RUnlock()

	if onDisconnect != nil {
		go onDisconnect(err)
	}
	if onHealthChange != nil {
		go onHealthChange(false)
	}
}

func (m *Client) handleReconnect(_ *nats.Conn) {
	m.setStatus(StatusConnected)
	m.resetCircuit()
	m.reconnects.Add(1)
	if m.metrics != nil {
		m.metrics.RecordNATSReconnect()
	}
	m.logger.Info("NATS reconnected", "url", m.url)

	m.mu.RLock()
	onReconnect := m.onReconnect
	onHealthChange := m.onHealthChange
	m.mu.RUnlock()

	if onReconnect != nil {
		go onReconnect()
	}
	if onHealthChange != nil {
		go onHealthChange(true)
	}
}

func (m *Client) handleClosed(_ *nats.Conn) {
	m.setStatus(StatusDisconnected)

	m.mu.RLock()
	onHealthChange := m.onHealthChange
	m.mu.RUnlock()

	if onHealthChange != nil {
		go onHealthChange(false)
	}
}

func (m *Client) handleError(_ *nats.Conn, sub *nats.Subscription, err error) {
	subject := ""
	if sub != nil {
		subject = sub.Subject
	}
	m.logger.Error("NATS error", "subject", subject, "error", err)
}

// startHealthMonitoring polls RTT every healthInterval and reports changes.
func (m *Client) startHealthMonitoring() {
	m.stopHealthMonitoring()

	m.mu.Lock()
	done := make(chan struct{})
	m.healthDone = done
	interval := m.healthInterval
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		lastHealthy := m.IsHealthy()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_, err := m.RTT()
				healthy := err == nil

				if healthy && m.Status() != StatusConnected {
					m.setStatus(StatusConnected)
				} else if !healthy && m.Status() == StatusConnected {
					m.setStatus(StatusReconnecting)
				}

				if healthy != lastHealthy {
					m.mu.RLock()
					fn := m.onHealthChange
					m.mu.RUnlock()
					if fn != nil {
						fn(healthy)
					}
				}
				lastHealthy = healthy
			}
		}
	}()
}

func (m *Client) stopHealthMonitoring() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.healthDone != nil {
		close(m.healthDone)
		m.healthDone = nil
	}
}

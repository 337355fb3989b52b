// Package http serves an engine.Session over HTTP: JSON query and control
// endpoints, aggregated health, Prometheus metrics and the event WebSocket.
package http

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	stderrors "errors"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/zamazir/THMmonitor/component"
	"github.com/zamazir/THMmonitor/engine"
	"github.com/zamazir/THMmonitor/errors"
	"github.com/zamazir/THMmonitor/gateway"
	"github.com/zamazir/THMmonitor/health"
	"github.com/zamazir/THMmonitor/metric"
	"github.com/zamazir/THMmonitor/pkg/tlsutil"
	"github.com/zamazir/THMmonitor/processor/analysis"
	"github.com/zamazir/THMmonitor/telemetry"
)

// Deps holds the collaborators of the server.
type Deps struct {
	Session *engine.Session
	Logger  *slog.Logger
	// MetricsRegistry serves /metrics and receives the request metrics.
	// Nil disables both.
	MetricsRegistry *metric.MetricsRegistry
	// Health aggregates component health for /health. A private monitor is
	// used when nil.
	Health *health.Monitor
	// Components are checked on every /health request. The session and the
	// server itself are always included.
	Components []component.Discoverable
	// WebSocket serves /ws when set.
	WebSocket http.Handler
}

// Server implements component.LifecycleComponent for the HTTP gateway.
type Server struct {
	name       string
	config     gateway.Config
	session    *engine.Session
	logger     *slog.Logger
	registry   *metric.MetricsRegistry
	monitor    *health.Monitor
	components []component.Discoverable
	ws         http.Handler
	metrics    *serverMetrics
	tlsConfig  *tls.Config
	// commands limits the control endpoints; nil means unlimited.
	commands *rate.Limiter

	handler http.Handler

	// Lifecycle state (atomic operations)
	running atomic.Bool

	mu        sync.RWMutex
	srv       *http.Server
	listener  net.Listener
	serveDone chan struct{}
	startTime time.Time

	// Metrics (atomic operations)
	requestsTotal  atomic.Uint64
	requestsFailed atomic.Uint64
	bytesReceived  atomic.Uint64
	lastActivity   atomic.Int64
}

var _ component.LifecycleComponent = (*Server)(nil)

// NewServer creates the gateway for deps.Session.
func NewServer(cfg gateway.Config, deps Deps) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Server", "NewServer", "config validation")
	}
	if deps.Session == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Server", "NewServer",
			"session is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http-gateway")

	m, err := newServerMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.Wrap(err, "Server", "NewServer", "register metrics")
	}

	tlsConfig, err := tlsutil.LoadServerConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}

	monitor := deps.Health
	if monitor == nil {
		opts := []health.Option{health.WithLogger(deps.Logger)}
		if deps.MetricsRegistry != nil {
			opts = append(opts, health.WithMetrics(deps.MetricsRegistry.CoreMetrics()))
		}
		monitor = health.NewMonitor(opts...)
	}

	s := &Server{
		name:       "http-gateway",
		config:     cfg,
		session:    deps.Session,
		logger:     logger,
		registry:   deps.MetricsRegistry,
		monitor:    monitor,
		components: deps.Components,
		ws:         deps.WebSocket,
		metrics:    m,
		tlsConfig:  tlsConfig,
	}
	if cfg.CommandRate > 0 {
		s.commands = rate.NewLimiter(rate.Limit(cfg.CommandRate), cfg.CommandBurst)
	}
	s.handler = s.buildHandler()
	return s, nil
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Addr returns the bound listen address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Addr
}

func (s *Server) buildHandler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.observe)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.registry != nil {
		r.Handle("/metrics", s.registry.Handler()).Methods(http.MethodGet)
	}
	if s.ws != nil {
		r.Handle("/ws", s.ws).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sensors", s.handleSensors).Methods(http.MethodGet)
	api.HandleFunc("/sensors/{name}/series", s.handleSeries).Methods(http.MethodGet)
	api.HandleFunc("/sensors/{name}/spikes", s.handleSpikes).Methods(http.MethodGet)
	api.HandleFunc("/duplicates", s.handleDuplicates).Methods(http.MethodGet)
	api.HandleFunc("/periodicity", s.handlePeriodicity).Methods(http.MethodGet)
	api.HandleFunc("/steady", s.handleSteady).Methods(http.MethodGet)
	api.HandleFunc("/alarms", s.handleAlarms).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/ambient", s.handleAmbient).Methods(http.MethodGet)
	api.Handle("/ambient", s.limitCommands(s.handleLoadAmbient)).Methods(http.MethodPost)
	api.Handle("/load", s.limitCommands(s.handleLoad)).Methods(http.MethodPost)
	api.Handle("/clear", s.limitCommands(s.handleClear)).Methods(http.MethodPost)
	api.Handle("/feed/start", s.limitCommands(s.handleFeedStart)).Methods(http.MethodPost)
	api.Handle("/feed/stop", s.limitCommands(s.handleFeedStop)).Methods(http.MethodPost)

	// A subrouter answers its own mismatches; without these it falls back to
	// mux's plain 404 for a known path with the wrong method.
	notFound := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusNotFound, "resource not found")
	})
	notAllowed := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", req.Method))
	})
	r.NotFoundHandler, api.NotFoundHandler = notFound, notFound
	r.MethodNotAllowedHandler, api.MethodNotAllowedHandler = notAllowed, notAllowed

	var h http.Handler = r
	if s.config.Compress {
		h = handlers.CompressHandler(h)
	}
	if s.config.EnableCORS {
		h = handlers.CORS(
			handlers.AllowedOrigins(s.config.CORSOrigins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Content-Type", "X-Request-ID"}),
			handlers.ExposedHeaders([]string{"X-Request-ID"}),
			handlers.MaxAge(3600),
		)(h)
	}
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.logger}),
		handlers.PrintRecoveryStack(false),
	)(h)
}

// Initialize prepares the HTTP gateway
func (s *Server) Initialize() error {
	return nil
}

// Start binds the listen address and serves until Stop.
func (s *Server) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, "Server", "Start", "check context")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Server", "Start",
			"gateway already running")
	}

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.config.Addr)
	if err != nil {
		return errors.WrapFatal(err, "Server", "Start", fmt.Sprintf("listen on %s", s.config.Addr))
	}
	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.config.ReadTimeout,
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	done := make(chan struct{})

	s.srv = srv
	s.listener = ln
	s.serveDone = done
	s.startTime = time.Now()
	s.running.Store(true)

	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", "error", err)
			s.running.Store(false)
		}
	}()

	s.logger.Info("HTTP gateway listening", "addr", ln.Addr().String(), "tls", s.tlsConfig != nil)
	return nil
}

// Stop gracefully stops the HTTP gateway
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	srv, done := s.srv, s.serveDone
	if srv == nil {
		s.mu.Unlock()
		return nil
	}
	s.srv = nil
	s.running.Store(false)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
		return errors.WrapTransient(err, "Server", "Stop", "shutdown")
	}
	<-done
	s.logger.Info("HTTP gateway stopped")
	return nil
}

// Meta returns component metadata
func (s *Server) Meta() component.Metadata {
	return component.Metadata{
		Name:        s.name,
		Type:        component.KindGateway,
		Description: "HTTP API over the monitoring session",
		Version:     "0.1.0",
	}
}

// Health returns the current health status
func (s *Server) Health() component.HealthStatus {
	s.mu.RLock()
	startTime := s.startTime
	s.mu.RUnlock()

	var uptime time.Duration
	if !startTime.IsZero() {
		uptime = time.Since(startTime)
	}
	return component.HealthStatus{
		Healthy:    s.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(s.requestsFailed.Load()),
		Uptime:     uptime,
	}
}

// DataFlow returns current data flow metrics
func (s *Server) DataFlow() component.FlowMetrics {
	s.mu.RLock()
	startTime := s.startTime
	s.mu.RUnlock()

	total := s.requestsTotal.Load()
	failed := s.requestsFailed.Load()

	var errorRate float64
	if total > 0 {
		errorRate = float64(failed) / float64(total)
	}

	var messagesPerSecond, bytesPerSecond float64
	if !startTime.IsZero() {
		if uptime := time.Since(startTime).Seconds(); uptime > 0 {
			messagesPerSecond = float64(total) / uptime
			bytesPerSecond = float64(s.bytesReceived.Load()) / uptime
		}
	}

	var last time.Time
	if ns := s.lastActivity.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return component.FlowMetrics{
		MessagesPerSecond: messagesPerSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      last,
	}
}

// Handlers

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	reporters := append([]component.Discoverable{s.session, s}, s.components...)
	status := s.monitor.Check("thmmonitor", reporters...)
	code := http.StatusOK
	if status.Level == health.LevelUnhealthy {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, status)
}

func (s *Server) handleSensors(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.session.Sensors())
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	points, ok := s.session.Series(name)
	if !ok {
		s.writeError(w, http.StatusNotFound, "sensor not found")
		return
	}

	n := 1
	if raw := r.URL.Query().Get("average"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			s.writeError(w, http.StatusBadRequest, "average must be a positive integer")
			return
		}
		n = v
	}

	s.writeJSON(w, http.StatusOK, seriesResponse{
		Sensor:  name,
		Average: n,
		Points:  analysis.Average(points, n),
	})
}

func (s *Server) handleSpikes(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	points, ok := s.session.Series(name)
	if !ok {
		s.writeError(w, http.StatusNotFound, "sensor not found")
		return
	}

	var th analysis.Thresholds
	for key, dst := range map[string]**float64{"max": &th.Max, "min": &th.Min} {
		raw := r.URL.Query().Get(key)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a number", key))
			return
		}
		*dst = &v
	}

	spikes, err := analysis.Spikes(points, th)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if spikes == nil {
		spikes = []time.Time{}
	}
	s.writeJSON(w, http.StatusOK, spikesResponse{Sensor: name, Thresholds: th, Spikes: spikes})
}

func (s *Server) handleDuplicates(w http.ResponseWriter, _ *http.Request) {
	dups := s.session.Duplicates()
	if dups == nil {
		dups = []telemetry.DuplicateRecord{}
	}
	s.writeJSON(w, http.StatusOK, dups)
}

func (s *Server) handlePeriodicity(w http.ResponseWriter, _ *http.Request) {
	st := s.session.Periodicity()
	s.writeJSON(w, http.StatusOK, periodicityResponse{Status: st, Line: st.String()})
}

func (s *Server) handleSteady(w http.ResponseWriter, _ *http.Request) {
	steady := s.session.SteadySensors()
	if steady == nil {
		steady = []string{}
	}
	s.writeJSON(w, http.StatusOK, steady)
}

func (s *Server) handleAlarms(w http.ResponseWriter, _ *http.Request) {
	alarms := s.session.Alarms()
	if alarms == nil {
		alarms = []telemetry.StateReading{}
	}
	s.writeJSON(w, http.StatusOK, alarms)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	resp := statsResponse{Session: s.session.Stats()}
	if fs, ok := s.session.FeedStats(); ok {
		resp.Feed = &fs
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAmbient(w http.ResponseWriter, _ *http.Request) {
	ref := s.session.Ambient()
	if ref == nil {
		s.writeError(w, http.StatusNotFound, "no ambient reference loaded")
		return
	}
	s.writeJSON(w, http.StatusOK, ref)
}

func (s *Server) handleLoadAmbient(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if !s.decode(w, r, &req) {
		return
	}
	ref, err := s.session.LoadAmbient(req.Path)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ambientSummary{Path: req.Path, Actual: len(ref.Actual), Setpoint: len(ref.Setpoint)})
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if !s.decode(w, r, &req) {
		return
	}
	sum, err := s.session.LoadFile(r.Context(), req.Path)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Clear(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, feedResponse{Running: s.session.FeedRunning()})
}

func (s *Server) handleFeedStart(w http.ResponseWriter, r *http.Request) {
	// The feed outlives the request.
	if err := s.session.StartFeed(context.WithoutCancel(r.Context())); err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, feedResponse{Running: s.session.FeedRunning()})
}

func (s *Server) handleFeedStop(w http.ResponseWriter, r *http.Request) {
	if err := s.session.StopFeed(); err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, feedResponse{Running: s.session.FeedRunning()})
}

// decode reads a JSON body limited to MaxRequestSize. It writes the error
// response and returns false on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst *pathRequest) bool {
	defer r.Body.Close()

	// Read with limit + 1 to detect oversized bodies
	body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxRequestSize+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if int64(len(body)) > s.config.MaxRequestSize {
		s.writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds maximum size of %d bytes", s.config.MaxRequestSize))
		return false
	}
	s.bytesReceived.Add(uint64(len(body)))

	if err := json.Unmarshal(body, dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if strings.TrimSpace(dst.Path) == "" {
		s.writeError(w, http.StatusBadRequest, "path is required")
		return false
	}
	return true
}

// fail logs err with the request ID and writes a sanitized error response.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := s.mapErrorToHTTPStatus(err)
	s.logger.Warn("Request failed",
		"request_id", w.Header().Get("X-Request-ID"),
		"path", r.URL.Path,
		"status", status,
		"class", errors.Classify(err).String(),
		"error", err)
	s.writeError(w, status, s.sanitizeError(err))
}

// mapErrorToHTTPStatus maps monitor errors to HTTP status codes
func (s *Server) mapErrorToHTTPStatus(err error) int {
	if err == nil {
		return http.StatusInternalServerError
	}

	// Lifecycle conflicts: feed without source, session not running
	if stderrors.Is(err, errors.ErrMissingConfig) ||
		stderrors.Is(err, errors.ErrNotStarted) ||
		stderrors.Is(err, errors.ErrAlreadyStarted) {
		return http.StatusConflict
	}
	if stderrors.Is(err, errors.ErrResourceExhausted) {
		return http.StatusRequestEntityTooLarge
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}

	if errors.IsInvalid(err) {
		return http.StatusBadRequest
	}
	if errors.IsTransient(err) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// sanitizeError returns a safe error message for external clients. Full
// errors are logged, never returned, since they carry file system paths.
func (s *Server) sanitizeError(err error) string {
	switch {
	case err == nil:
		return "internal server error"
	case stderrors.Is(err, errors.ErrMissingConfig):
		return "no feed source configured"
	case stderrors.Is(err, errors.ErrNotStarted):
		return "session not running"
	case stderrors.Is(err, errors.ErrAlreadyStarted):
		return "already running"
	case stderrors.Is(err, errors.ErrResourceExhausted):
		return "file too large"
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return "request timeout"
	case stderrors.Is(err, errors.ErrInvalidConfig):
		return "invalid parameters"
	case stderrors.Is(err, errors.ErrDecodeFailed), stderrors.Is(err, errors.ErrFraming):
		return "file could not be decoded"
	case errors.IsInvalid(err):
		return "invalid request"
	case errors.IsTransient(err):
		return "service temporarily unavailable"
	}
	return "internal server error"
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("Encode response", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	data, _ := json.Marshal(errorResponse{Error: message, Status: statusCode})
	_, _ = w.Write(data)
}

// Middleware

// limitCommands rejects control requests beyond the configured rate with
// 429 and a Retry-After hint.
func (s *Server) limitCommands(next http.HandlerFunc) http.Handler {
	if s.commands == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.commands.Allow() {
			s.metrics.recordRateLimited()
			s.logger.Warn("Command rate limited", "path", r.URL.Path, "remote", r.RemoteAddr)
			w.Header().Set("Retry-After", "1")
			s.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	})
}

// observe assigns the request ID, counts the request and logs it once the
// handler returns.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := getOrGenerateRequestID(r)
		w.Header().Set("X-Request-ID", requestID)

		s.requestsTotal.Add(1)
		s.lastActivity.Store(start.UnixNano())

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		elapsed := time.Since(start)
		if rec.status >= http.StatusBadRequest {
			s.requestsFailed.Add(1)
		}
		s.metrics.observe(r.Method, route, rec.status, elapsed)
		s.logger.Debug("HTTP request",
			"request_id", requestID,
			"method", r.Method,
			"route", route,
			"status", rec.status,
			"bytes", rec.bytes,
			"duration", elapsed)
	})
}

// getOrGenerateRequestID extracts the request ID from headers or generates
// a new one.
func getOrGenerateRequestID(r *http.Request) string {
	if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
		return reqID
	}
	return uuid.NewString()
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// Hijack lets the WebSocket upgrade through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// recoveryLogger adapts slog to handlers.RecoveryHandlerLogger.
type recoveryLogger struct {
	logger *slog.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error("Handler panic", "panic", fmt.Sprint(v...))
}

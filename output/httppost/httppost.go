// Package httppost posts monitor events to an HTTP webhook, typically to
// page the operator on alarms and beacon gaps.
package httppost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/zamazir/THMmonitor/component"
	"github.com/zamazir/THMmonitor/errors"
	"github.com/zamazir/THMmonitor/output/events"
	"github.com/zamazir/THMmonitor/pkg/retry"
)

// Config holds configuration for the webhook sink
type Config struct {
	URL string `json:"url"`
	// Kinds restricts the posted events. Empty posts every kind.
	Kinds       []events.Kind     `json:"kinds,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Timeout     time.Duration     `json:"timeout"`
	RetryCount  int               `json:"retry_count"`
	ContentType string            `json:"content_type"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "url is required")
	}

	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: invalid url %q", errors.ErrInvalidConfig, c.URL),
			"Config", "Validate", "parse url")
	}

	if c.Timeout < 0 || c.Timeout > 5*time.Minute {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"timeout must be between 0 and 5m")
	}

	if c.RetryCount < 0 || c.RetryCount > 10 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"retry_count must be between 0 and 10")
	}

	known := make(map[events.Kind]bool)
	for _, k := range events.Kinds() {
		known[k] = true
	}
	for _, k := range c.Kinds {
		if !known[k] {
			return errors.WrapInvalid(fmt.Errorf("%w: unknown event kind %q", errors.ErrInvalidConfig, k),
				"Config", "Validate", "check kinds")
		}
	}

	return nil
}

// DefaultConfig posts alarms, beacon gaps and overdue changes.
func DefaultConfig() Config {
	return Config{
		URL:         "http://localhost:8080/webhook",
		Kinds:       []events.Kind{events.KindAlarm, events.KindBeaconGap, events.KindOverdue},
		Headers:     make(map[string]string),
		Timeout:     10 * time.Second,
		RetryCount:  3,
		ContentType: "application/json",
	}
}

// Sink posts events as JSON. It implements events.Sink and
// component.Discoverable.
type Sink struct {
	name        string
	url         string
	kinds       map[events.Kind]bool
	headers     map[string]string
	contentType string
	retry       retry.Config
	httpClient  *http.Client
	logger      *slog.Logger
	created     time.Time

	sent      atomic.Int64
	retried   atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
	failing   atomic.Bool
	lastError atomic.Value // string
	lastSent  atomic.Int64 // unix nanos
}

// NewSink creates a webhook sink.
func NewSink(cfg Config, logger *slog.Logger) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	contentType := cfg.ContentType
	if contentType == "" {
		contentType = "application/json"
	}

	var kinds map[events.Kind]bool
	if len(cfg.Kinds) > 0 {
		kinds = make(map[events.Kind]bool, len(cfg.Kinds))
		for _, k := range cfg.Kinds {
			kinds[k] = true
		}
	}

	s := &Sink{
		name:        "webhook",
		url:         cfg.URL,
		kinds:       kinds,
		headers:     cfg.Headers,
		contentType: contentType,
		retry: retry.Config{
			MaxAttempts:  cfg.RetryCount + 1,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2.0,
			AddJitter:    true,
		},
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "webhook"),
		created:    time.Now(),
	}
	s.lastError.Store("")
	s.retry.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.retried.Add(1)
		s.logger.Debug("Webhook post failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	}
	return s, nil
}

// Name implements events.Sink.
func (s *Sink) Name() string { return s.name }

// Handle implements events.Sink. Events of other kinds are skipped.
func (s *Sink) Handle(ctx context.Context, e events.Event) error {
	if s.kinds != nil && !s.kinds[e.Kind] {
		s.skipped.Add(1)
		return nil
	}

	data, err := json.Marshal(e)
	if err != nil {
		s.failed.Add(1)
		return errors.WrapInvalid(err, "Sink", "Handle", "marshal event")
	}

	err = retry.Do(ctx, s.retry, func() error {
		return s.post(ctx, data)
	})
	if err != nil {
		s.failed.Add(1)
		s.failing.Store(true)
		s.lastError.Store(err.Error())
		return errors.WrapTransient(err, "Sink", "Handle", "post event")
	}

	s.failing.Store(false)
	s.sent.Add(1)
	s.lastSent.Store(time.Now().UnixNano())
	return nil
}

// post sends one request. Client errors other than 408 and 429 are not
// retried.
func (s *Sink) post(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return retry.NonRetryable(err)
	}

	req.Header.Set("Content-Type", s.contentType)
	for key, value := range s.headers {
		req.Header.Set(key, value)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Drain to reuse the connection
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	default:
		return retry.NonRetryable(fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status))
	}
}

// Meta returns component metadata
func (s *Sink) Meta() component.Metadata {
	return component.Metadata{
		Name:        s.name,
		Type:        component.KindOutput,
		Description: "Posts monitor events to an HTTP webhook",
		Version:     "0.1.0",
	}
}

// Health reports unhealthy while the last post failed.
func (s *Sink) Health() component.HealthStatus {
	failing := s.failing.Load()
	hs := component.HealthStatus{
		Healthy:    !failing,
		LastCheck:  time.Now(),
		ErrorCount: int(s.failed.Load()),
		Uptime:     time.Since(s.created),
	}
	if failing {
		hs.LastError, _ = s.lastError.Load().(string)
	}
	return hs
}

// DataFlow returns current data flow metrics
func (s *Sink) DataFlow() component.FlowMetrics {
	sent := s.sent.Load()
	failed := s.failed.Load()

	var errorRate float64
	if total := sent + failed; total > 0 {
		errorRate = float64(failed) / float64(total)
	}

	fm := component.FlowMetrics{ErrorRate: errorRate}
	if ns := s.lastSent.Load(); ns > 0 {
		fm.LastActivity = time.Unix(0, ns)
	}
	return fm
}

// Stats reports the delivery counters.
func (s *Sink) Stats() Stats {
	return Stats{
		Sent:    s.sent.Load(),
		Retried: s.retried.Load(),
		Failed:  s.failed.Load(),
		Skipped: s.skipped.Load(),
	}
}

// Stats are the delivery counters of a Sink.
type Stats struct {
	Sent    int64 `json:"sent"`
	Retried int64 `json:"retried"`
	Failed  int64 `json:"failed"`
	Skipped int64 `json:"skipped"`
}

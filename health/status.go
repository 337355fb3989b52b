package health

import (
	"fmt"
	"regexp"
	"time"

	"github.com/zamazir/THMmonitor/component"
)

// Level orders health from best to worst.
type Level int

// Health levels.
const (
	LevelHealthy Level = iota
	LevelDegraded
	LevelUnhealthy
)

var levelNames = [...]string{"healthy", "degraded", "unhealthy"}

func (l Level) String() string {
	if l < 0 || int(l) >= len(levelNames) {
		return "unknown"
	}
	return levelNames[l]
}

// MarshalText renders the level by name in /health.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText parses a level name.
func (l *Level) UnmarshalText(b []byte) error {
	for i, name := range levelNames {
		if name == string(b) {
			*l = Level(i)
			return nil
		}
	}
	return fmt.Errorf("unknown health level %q", b)
}

// Status is the assessed health of one component, or of the whole monitor
// with one sub-status per component.
type Status struct {
	Component   string         `json:"component"`
	Kind        component.Kind `json:"kind,omitempty"`
	Healthy     bool           `json:"healthy"`
	Level       Level          `json:"status"`
	Message     string         `json:"message"`
	Timestamp   time.Time      `json:"timestamp"`
	SubStatuses []Status       `json:"sub_statuses,omitempty"`
	Metrics     *Metrics       `json:"metrics,omitempty"`
}

// Metrics are the figures a component reported alongside its health.
type Metrics struct {
	Uptime            time.Duration `json:"uptime"`
	ErrorCount        int           `json:"error_count"`
	NewErrors         int           `json:"new_errors,omitempty"`
	MessagesPerSecond float64       `json:"messages_per_second,omitempty"`
	Backlog           int           `json:"backlog,omitempty"`
	LastActivity      time.Time     `json:"last_activity,omitempty"`
}

// assess grades a component's report. newErrors is the growth of the error
// count since the previous check: a component that keeps failing is
// degraded, one that failed once an hour ago is not.
func assess(meta component.Metadata, h component.HealthStatus, flow component.FlowMetrics, newErrors int, now time.Time) Status {
	st := Status{
		Component: meta.Name,
		Kind:      meta.Type,
		Timestamp: now,
		Metrics: &Metrics{
			Uptime:            h.Uptime,
			ErrorCount:        h.ErrorCount,
			NewErrors:         newErrors,
			MessagesPerSecond: flow.MessagesPerSecond,
			Backlog:           flow.Backlog,
			LastActivity:      flow.LastActivity,
		},
	}

	switch {
	case !h.Healthy:
		st.Level = LevelUnhealthy
		st.Message = "not running"
		if h.LastError != "" {
			st.Message += ": " + sanitize(h.LastError)
		}
	case h.Warning != "":
		st.Level = LevelDegraded
		st.Message = h.Warning
	case newErrors > 0 && h.LastError != "":
		st.Level = LevelDegraded
		st.Message = fmt.Sprintf("%d new errors, last: %s", newErrors, sanitize(h.LastError))
	default:
		st.Level = LevelHealthy
		st.Message = "running"
	}
	st.Healthy = st.Level == LevelHealthy
	return st
}

// aggregate grades the monitor as its worst component.
func aggregate(system string, subs []Status, now time.Time) Status {
	st := Status{Component: system, Timestamp: now, SubStatuses: subs}

	var degraded, unhealthy int
	for _, sub := range subs {
		switch sub.Level {
		case LevelUnhealthy:
			unhealthy++
		case LevelDegraded:
			degraded++
		}
	}

	switch {
	case unhealthy > 0:
		st.Level = LevelUnhealthy
		st.Message = fmt.Sprintf("%d of %d components unhealthy", unhealthy, len(subs))
	case degraded > 0:
		st.Level = LevelDegraded
		st.Message = fmt.Sprintf("%d of %d components degraded", degraded, len(subs))
	default:
		st.Level = LevelHealthy
		st.Message = fmt.Sprintf("%d components healthy", len(subs))
	}
	st.Healthy = st.Level == LevelHealthy
	return st
}

// scrubbers replace addresses, paths and secrets in error text. URLs go
// before paths because they contain paths.
var scrubbers = []struct {
	re   *regexp.Regexp
	with string
}{
	{regexp.MustCompile(`(?:https?|wss?|nats|tcp|ssl|tls|mqtts?)://[^\s]+`), "[URL]"},
	{regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`), "[PATH]"},
	{regexp.MustCompile(`[A-Z]:\\[^:\s]+`), "[PATH]"},
	{regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`), "[IP]"},
	{regexp.MustCompile(`:\d{2,5}\b`), "[PORT]"},
	{regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`), "[REDACTED]"},
}

// sanitize strips broker addresses, file paths and credentials from an
// error before it is served on /health.
func sanitize(msg string) string {
	for _, s := range scrubbers {
		msg = s.re.ReplaceAllString(msg, s.with)
	}
	return msg
}

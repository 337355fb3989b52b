package component

import "time"

// Kind places a component in the monitor's pipeline.
type Kind string

// Pipeline positions reported in /health.
const (
	KindInput     Kind = "input"
	KindProcessor Kind = "processor"
	KindOutput    Kind = "output"
	KindGateway   Kind = "gateway"
)

// Discoverable is implemented by every part of the monitor that reports
// into /health: the session, the gateway and the event outputs.
type Discoverable interface {
	Meta() Metadata
	Health() HealthStatus
	DataFlow() FlowMetrics
}

// Metadata names a component.
type Metadata struct {
	Name        string `json:"name"`
	Type        Kind   `json:"type"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

// HealthStatus is a component's own report. Healthy means the component is
// running. Warning flags a running component that needs an operator's
// attention although nothing failed, such as overdue beacons on a live
// feed.
type HealthStatus struct {
	Healthy    bool          `json:"healthy"`
	LastCheck  time.Time     `json:"last_check"`
	ErrorCount int           `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
	Warning    string        `json:"warning,omitempty"`
	Uptime     time.Duration `json:"uptime"`
}

// FlowMetrics describes traffic through a component since it started.
type FlowMetrics struct {
	MessagesPerSecond float64   `json:"messages_per_second"`
	BytesPerSecond    float64   `json:"bytes_per_second"`
	ErrorRate         float64   `json:"error_rate"`
	LastActivity      time.Time `json:"last_activity"`
	// Backlog counts items accepted but not yet processed, e.g. batches
	// waiting for the session writer.
	Backlog int `json:"backlog,omitempty"`
}

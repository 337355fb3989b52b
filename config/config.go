package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/zamazir/THMmonitor/engine"
	"github.com/zamazir/THMmonitor/errors"
	"github.com/zamazir/THMmonitor/gateway"
	"github.com/zamazir/THMmonitor/input/feed"
	"github.com/zamazir/THMmonitor/input/file"
	"github.com/zamazir/THMmonitor/output/archive"
	"github.com/zamazir/THMmonitor/output/decodelog"
	"github.com/zamazir/THMmonitor/output/events"
	"github.com/zamazir/THMmonitor/output/httppost"
	"github.com/zamazir/THMmonitor/output/websocket"
	"github.com/zamazir/THMmonitor/pkg/tlsutil"
)

// Operating modes
const (
	ModeSimulation = "simulation" // Synthesized beacons, no ground station
	ModeTVAC       = "tvac"       // Thermal vacuum test with chamber ambient reference
	ModeEM         = "em"         // Engineering model on thm.em
	ModeFM         = "fm"         // Flight model on thm.fm
)

// Modes lists the accepted operating modes.
func Modes() []string {
	return []string{ModeSimulation, ModeTVAC, ModeEM, ModeFM}
}

// Config represents the complete application configuration
type Config struct {
	Mode string `json:"mode"`

	// Catalog is an optional YAML overlay merged over the built-in sensor table.
	Catalog string `json:"catalog,omitempty"`
	// Ambient is a TVAC chamber log loaded at startup. Only valid in tvac mode.
	Ambient string `json:"ambient,omitempty"`

	Log       LogConfig        `json:"log"`
	Feed      feed.Config      `json:"feed"`
	File      file.Config      `json:"file"`
	Engine    engine.Config    `json:"engine"`
	DecodeLog decodelog.Config `json:"decode_log"`
	WebSocket websocket.Config `json:"websocket"`
	HTTP      gateway.Config   `json:"http"`
	Events    EventsConfig     `json:"events"`
}

// LogConfig selects the application log handler.
type LogConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// EventsConfig configures the event bus and its NATS publisher.
type EventsConfig struct {
	QueueSize int `json:"queue_size"`
	// NATS publishes every event on <prefix>.events.<kind> when enabled.
	NATS   bool                 `json:"nats"`
	URL    string               `json:"url,omitempty"`
	Prefix string               `json:"prefix,omitempty"`
	TLS    tlsutil.ClientConfig `json:"tls"`
	// Webhook posts selected events over HTTP when set.
	Webhook *httppost.Config `json:"webhook,omitempty"`
	// Archive writes selected events to daily JSON Lines files when set.
	Archive *archive.Config `json:"archive,omitempty"`
}

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	return &Config{
		Mode:      ModeFM,
		Log:       LogConfig{Level: "info", Format: "json"},
		Feed:      feed.DefaultConfig(),
		File:      file.DefaultConfig(),
		Engine:    engine.DefaultConfig(),
		DecodeLog: decodelog.DefaultConfig(),
		WebSocket: websocket.DefaultConfig(),
		HTTP:      gateway.DefaultConfig(),
		Events: EventsConfig{
			QueueSize: events.DefaultQueueSize,
			URL:       "nats://localhost:4222",
		},
	}
}

// ApplyMode derives mode-dependent settings: the simulation transport for
// simulation mode and the subject prefix for em and fm.
func (c *Config) ApplyMode() {
	switch c.Mode {
	case ModeSimulation:
		c.Feed.Transport = feed.TransportSimulation
	case ModeEM, ModeFM:
		c.Feed.Prefix = "thm." + c.Mode
	}
	if c.Events.Prefix == "" {
		c.Events.Prefix = c.Feed.Prefix
	}
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if !isMode(c.Mode) {
		return invalid(fmt.Sprintf("mode %q must be one of %s", c.Mode, strings.Join(Modes(), ", ")))
	}
	if c.Ambient != "" && c.Mode != ModeTVAC {
		return invalid("ambient is only accepted in tvac mode")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalid(fmt.Sprintf("invalid log level %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return invalid(fmt.Sprintf("invalid log format %q", c.Log.Format))
	}

	if c.Events.QueueSize <= 0 {
		return invalid("events.queue_size must be positive")
	}
	if c.Events.NATS && c.Events.URL == "" {
		return invalid("events.url is required when events.nats is enabled")
	}
	if err := c.Events.TLS.Validate(); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "events.tls")
	}
	if c.Events.Webhook != nil {
		if err := c.Events.Webhook.Validate(); err != nil {
			return errors.WrapInvalid(err, "Config", "Validate", "events.webhook")
		}
	}
	if c.Events.Archive != nil {
		if err := c.Events.Archive.Validate(); err != nil {
			return errors.WrapInvalid(err, "Config", "Validate", "events.archive")
		}
	}

	sections := []struct {
		name     string
		validate func() error
	}{
		{"feed", c.Feed.Validate},
		{"file", c.File.Validate},
		{"engine", c.Engine.Validate},
		{"decode_log", c.DecodeLog.Validate},
		{"websocket", c.WebSocket.Validate},
		{"http", c.HTTP.Validate},
	}
	for _, s := range sections {
		if err := s.validate(); err != nil {
			return errors.WrapInvalid(err, "Config", "Validate", s.name)
		}
	}
	return nil
}

func isMode(mode string) bool {
	for _, m := range Modes() {
		if m == mode {
			return true
		}
	}
	return false
}

func invalid(reason string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, reason), "Config", "Validate", "check config")
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{
		config: cfg,
	}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically updates the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SafeConfig", "Update", "config cannot be nil")
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}

	// JSON round trip copies the slices
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}

	return &clone
}

// SaveToFile saves the configuration to a JSON file
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.WrapFatal(err, "Config", "SaveToFile", "marshal config")
	}

	return safeWriteFile(path, data)
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

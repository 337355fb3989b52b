package gateway

import (
	"time"

	"github.com/zamazir/THMmonitor/errors"
	"github.com/zamazir/THMmonitor/pkg/tlsutil"
)

// Config holds configuration for the HTTP gateway.
type Config struct {
	// Addr is the listen address (default ":8080").
	Addr string `json:"addr"`

	// EnableCORS enables CORS headers (default: false, requires explicit cors_origins)
	EnableCORS bool `json:"enable_cors"`

	// CORSOrigins lists allowed CORS origins (required when EnableCORS is true)
	// Use ["*"] for development only.
	CORSOrigins []string `json:"cors_origins,omitempty"`

	// MaxRequestSize limits request body size in bytes (default: 64KB)
	MaxRequestSize int64 `json:"max_request_size,omitempty"`

	// Compress gzips responses for clients that accept it.
	Compress bool `json:"compress"`

	// CommandRate limits the control endpoints (load, clear, ambient import,
	// feed start/stop) to this many requests per second, with bursts of
	// CommandBurst. Zero disables the limit.
	CommandRate  float64 `json:"command_rate"`
	CommandBurst int     `json:"command_burst"`

	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`

	// TLS serves HTTPS (and wss for /ws) when enabled.
	TLS tlsutil.ServerConfig `json:"tls"`
}

// Validate ensures the gateway configuration is valid. Zero limits are
// replaced by their defaults.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"addr cannot be empty")
	}

	if c.MaxRequestSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size cannot be negative")
	}
	if c.MaxRequestSize == 0 {
		c.MaxRequestSize = 64 * 1024
	}
	if c.MaxRequestSize > 10*1024*1024 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size cannot exceed 10MB")
	}

	if c.CommandRate < 0 || c.CommandBurst < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"command_rate and command_burst cannot be negative")
	}
	if c.CommandRate > 0 && c.CommandBurst == 0 {
		c.CommandBurst = 1
	}

	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.ShutdownTimeout < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"timeouts cannot be negative")
	}

	// CORS requires explicit origin configuration
	if c.EnableCORS && len(c.CORSOrigins) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"enable_cors requires explicit cors_origins configuration (use [\"*\"] for development only)")
	}

	return c.TLS.Validate()
}

// DefaultConfig returns default gateway configuration
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		EnableCORS:      false,
		CORSOrigins:     []string{},
		MaxRequestSize:  64 * 1024,
		Compress:        true,
		CommandRate:     2,
		CommandBurst:    5,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

package gateway_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/zamazir/THMmonitor/errors"
	"github.com/zamazir/THMmonitor/gateway"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*gateway.Config)
		expectError bool
	}{
		{"defaults", func(*gateway.Config) {}, false},
		{"empty addr", func(c *gateway.Config) { c.Addr = "" }, true},
		{"negative max request size", func(c *gateway.Config) { c.MaxRequestSize = -1 }, true},
		{"max request size too large", func(c *gateway.Config) { c.MaxRequestSize = 11 * 1024 * 1024 }, true},
		{"negative timeout", func(c *gateway.Config) { c.ReadTimeout = -time.Second }, true},
		{"negative command rate", func(c *gateway.Config) { c.CommandRate = -1 }, true},
		{"negative command burst", func(c *gateway.Config) { c.CommandBurst = -1 }, true},
		{"command limit disabled", func(c *gateway.Config) { c.CommandRate = 0 }, false},
		{"CORS without origins", func(c *gateway.Config) { c.EnableCORS = true }, true},
		{"TLS without certificate", func(c *gateway.Config) { c.TLS.Enabled = true }, true},
		{"TLS with certificate", func(c *gateway.Config) {
			c.TLS.Enabled = true
			c.TLS.CertFile = "/etc/thm/tls/cert.pem"
			c.TLS.KeyFile = "/etc/thm/tls/key.pem"
		}, false},
		{"CORS with wildcard", func(c *gateway.Config) {
			c.EnableCORS = true
			c.CORSOrigins = []string{"*"}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := gateway.DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.expectError {
				require.Error(t, err)
				assert.True(t, pkgerrors.IsInvalid(err))
				assert.ErrorIs(t, err, pkgerrors.ErrInvalidConfig)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestConfig_ValidateFillsMaxRequestSize(t *testing.T) {
	cfg := gateway.DefaultConfig()
	cfg.MaxRequestSize = 0
	require.NoError(t, cfg.Validate())
	assert.Equal(t, int64(64*1024), cfg.MaxRequestSize)
}

func TestDefaultConfig(t *testing.T) {
	cfg := gateway.DefaultConfig()
	assert.Equal(t, ":8080", cfg.Addr)
	assert.False(t, cfg.EnableCORS)
	assert.Empty(t, cfg.CORSOrigins)
	assert.True(t, cfg.Compress)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestConfig_ValidateFillsCommandBurst(t *testing.T) {
	cfg := gateway.DefaultConfig()
	cfg.CommandBurst = 0
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.CommandBurst)
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/zamazir/THMmonitor/errors"
	"github.com/zamazir/THMmonitor/output/archive"
	"github.com/zamazir/THMmonitor/output/httppost"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "THMMONITOR"

// durationKeys are the JSON keys holding time.Duration values. Files may
// write them as strings ("5s", "2m", "1d").
var durationKeys = map[string]struct{}{
	"retry_delay":      {},
	"interval":         {},
	"clock_validity":   {},
	"steady_window":    {},
	"tick_interval":    {},
	"threshold":        {},
	"read_timeout":     {},
	"write_timeout":    {},
	"shutdown_timeout": {},
	"ping_interval":    {},
	"keep_alive":       {},
	"poll_timeout":     {},
	"timeout":          {},
	"flush_interval":   {},
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	overrides  []func(*Config)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:     []string{},
		validation: true,
		envPrefix:  EnvPrefix,
	}
}

// AddLayer adds a configuration file layer. Later layers win.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// AddOverride registers fn to run after the environment overrides, before
// the mode settings are derived. Command-line flags use it.
func (l *Loader) AddOverride(fn func(*Config)) {
	l.overrides = append(l.overrides, fn)
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, every layer, the environment and the overrides,
// then derives the mode settings.
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(Default())
	if err != nil {
		return nil, errors.WrapFatal(err, "Loader", "Load", "encode defaults")
	}

	for _, path := range l.layers {
		raw, err := l.loadRawJSON(path)
		if err != nil {
			return nil, err
		}
		merged = deepMergeMaps(merged, raw)
	}

	cfg, err := fromMap(merged)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "Loader", "Load", "decode merged config")
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	for _, fn := range l.overrides {
		fn(cfg)
	}
	cfg.ApplyMode()

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// loadRawJSON loads a commented JSON file as a map
func (l *Loader) loadRawJSON(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "Loader", "loadRawJSON", "read "+path)
	}

	data = jsonc.ToJSON(data)

	if err := validateJSONDepth(data); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "Loader", "loadRawJSON", "check structure of "+path)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "Loader", "loadRawJSON", "parse "+path)
	}

	if err := parseDurations(raw); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "Loader", "loadRawJSON", "parse durations in "+path)
	}

	return raw, nil
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func fromMap(m map[string]any) (*Config, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))

	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}

		if baseMap, baseOk := base[k].(map[string]any); baseOk {
			if overrideMap, overrideOk := v.(map[string]any); overrideOk {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}

		result[k] = v
	}

	return result
}

// parseDurations converts duration strings under durationKeys to
// nanoseconds, at any depth.
func parseDurations(data map[string]any) error {
	for k, v := range data {
		switch val := v.(type) {
		case map[string]any:
			if err := parseDurations(val); err != nil {
				return err
			}
		case string:
			if _, ok := durationKeys[k]; !ok {
				continue
			}
			d, err := parseDurationWithDays(val)
			if err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
			data[k] = d.Nanoseconds()
		}
	}
	return nil
}

// parseDurationWithDays parses durations that may include days (e.g., "14d")
func parseDurationWithDays(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		days := strings.TrimSuffix(s, "d")
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"MODE", &cfg.Mode},
		{"CATALOG", &cfg.Catalog},
		{"AMBIENT", &cfg.Ambient},
		{"LOG_LEVEL", &cfg.Log.Level},
		{"LOG_FORMAT", &cfg.Log.Format},
		{"FEED_TRANSPORT", &cfg.Feed.Transport},
		{"FEED_PREFIX", &cfg.Feed.Prefix},
		{"NATS_URL", &cfg.Feed.NATS.URL},
		{"MQTT_BROKER", &cfg.Feed.MQTT.Broker},
		{"MQTT_USERNAME", &cfg.Feed.MQTT.Username},
		{"MQTT_PASSWORD", &cfg.Feed.MQTT.Password},
		{"KAFKA_TOPIC", &cfg.Feed.Kafka.Topic},
		{"DECODE_LOG", &cfg.DecodeLog.Path},
		{"HTTP_ADDR", &cfg.HTTP.Addr},
		{"EVENTS_URL", &cfg.Events.URL},
	}
	for _, s := range strs {
		val, err := l.env(s.key)
		if err != nil {
			return err
		}
		if val != "" {
			*s.dst = val
		}
	}

	val, err := l.env("KAFKA_BROKERS")
	if err != nil {
		return err
	}
	if val != "" {
		cfg.Feed.Kafka.Brokers = strings.Split(val, ",")
	}

	val, err = l.env("UDP_PORT")
	if err != nil {
		return err
	}
	if val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %s_UDP_PORT: %v", errors.ErrInvalidConfig, l.envPrefix, err),
				"Loader", "applyEnvOverrides", "parse port")
		}
		cfg.Feed.UDP.Port = port
	}

	val, err = l.env("EVENTS_NATS")
	if err != nil {
		return err
	}
	if val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %s_EVENTS_NATS: %v", errors.ErrInvalidConfig, l.envPrefix, err),
				"Loader", "applyEnvOverrides", "parse bool")
		}
		cfg.Events.NATS = enabled
	}

	val, err = l.env("WEBHOOK_URL")
	if err != nil {
		return err
	}
	if val != "" {
		if cfg.Events.Webhook == nil {
			wh := httppost.DefaultConfig()
			cfg.Events.Webhook = &wh
		}
		cfg.Events.Webhook.URL = val
	}

	val, err = l.env("ARCHIVE_DIR")
	if err != nil {
		return err
	}
	if val != "" {
		if cfg.Events.Archive == nil {
			ar := archive.DefaultConfig()
			cfg.Events.Archive = &ar
		}
		cfg.Events.Archive.Directory = val
	}

	return nil
}

func (l *Loader) env(key string) (string, error) {
	name := l.envPrefix + "_" + key
	val := os.Getenv(name)
	if err := validateEnvVar(name, val); err != nil {
		return "", errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "Loader", "applyEnvOverrides", "check "+name)
	}
	return val, nil
}

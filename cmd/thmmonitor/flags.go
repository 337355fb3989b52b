package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/zamazir/THMmonitor/config"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPaths     []string
	Mode            string
	LogLevel        string
	LogFormat       string
	Addr            string
	Ambient         string
	Load            []string
	NoFeed          bool
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool

	// set records the flags given on the command line; only those override
	// the loaded configuration.
	set map[string]bool
}

func newFlagSet(cfg *CLIConfig) *pflag.FlagSet {
	fs := pflag.NewFlagSet(appName, pflag.ContinueOnError)

	fs.StringSliceVarP(&cfg.ConfigPaths, "config", "c",
		getEnvList("THMMONITOR_CONFIG", nil),
		"Configuration file layers, later files win (env: THMMONITOR_CONFIG)")
	fs.StringVarP(&cfg.Mode, "mode", "m", "",
		"Operating mode: "+strings.Join(config.Modes(), ", ")+" (env: THMMONITOR_MODE)")
	fs.StringVar(&cfg.LogLevel, "log-level", "",
		"Log level: debug, info, warn, error (env: THMMONITOR_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format", "",
		"Log format: json, text (env: THMMONITOR_LOG_FORMAT)")
	fs.StringVar(&cfg.Addr, "addr", "",
		"HTTP listen address (env: THMMONITOR_HTTP_ADDR)")
	fs.StringVar(&cfg.Ambient, "ambient", "",
		"TVAC chamber log to load at startup, tvac mode only (env: THMMONITOR_AMBIENT)")
	fs.StringArrayVarP(&cfg.Load, "load", "l", nil,
		"Historical THM log to merge at startup, repeatable")
	fs.BoolVar(&cfg.NoFeed, "no-feed", getEnvBool("THMMONITOR_NO_FEED", false),
		"Do not start the live feed at startup (env: THMMONITOR_NO_FEED)")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("THMMONITOR_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: THMMONITOR_SHUTDOWN_TIMEOUT)")
	fs.BoolVarP(&cfg.ShowVersion, "version", "v", false, "Show version information")
	fs.BoolVarP(&cfg.ShowHelp, "help", "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	return fs
}

func parseFlags(args []string, out io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{set: make(map[string]bool)}
	fs := newFlagSet(cfg)
	fs.SetOutput(out)
	fs.Usage = func() { printDetailedHelp(out, fs) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(f *pflag.Flag) { cfg.set[f.Name] = true })

	if len(fs.Args()) > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if cfg.ShowHelp {
		fs.Usage()
	}
	return cfg, nil
}

// apply copies the flags given on the command line over cfg.
func (c *CLIConfig) apply(cfg *config.Config) {
	if c.set["mode"] {
		cfg.Mode = c.Mode
	}
	if c.set["log-level"] {
		cfg.Log.Level = c.LogLevel
	}
	if c.set["log-format"] {
		cfg.Log.Format = c.LogFormat
	}
	if c.set["addr"] {
		cfg.HTTP.Addr = c.Addr
	}
	if c.set["ambient"] {
		cfg.Ambient = c.Ambient
	}
}

func printDetailedHelp(out io.Writer, fs *pflag.FlagSet) {
	_, _ = fmt.Fprintf(out, `%s - thermal housekeeping monitor

Usage: %s [options]

Options:
%s
Examples:
  # Flight model feed with a local override
  %s -c configs/base.jsonc -c configs/local.jsonc --mode fm

  # Simulated beacons, text logs
  %s --mode simulation --log-format text

  # TVAC campaign: chamber reference plus two historical logs, no live feed
  %s --mode tvac --ambient chamber.txt -l day1.bin.zst -l day2.bin --no-feed

  # Validate configuration only
  %s -c configs/base.jsonc --validate

Version: %s
Build: %s
`, appName, os.Args[0], fs.FlagUsages(), os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Package main implements the entry point for the THM monitor, the ground
// tool that decodes thermal housekeeping beacons, merges them into
// per-sensor series and reports periodicity, steady state and alarms.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/zamazir/THMmonitor/config"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "thmmonitor"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cli, err := parseFlags(args, os.Stderr)
	if err != nil {
		if stderrors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cli.ShowVersion {
		fmt.Printf("%s version %s (build %s)\n", appName, Version, BuildTime)
		return nil
	}
	if cli.ShowHelp {
		return nil
	}

	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	logger := setupLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if cli.Validate {
		logger.Info("Configuration is valid", "mode", cfg.Mode, "layers", cli.ConfigPaths)
		return nil
	}

	logger.Info("Starting THM monitor",
		"version", Version,
		"build_time", BuildTime,
		"mode", cfg.Mode,
		"layers", cli.ConfigPaths)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(cfg, logger)
	if err != nil {
		return fmt.Errorf("build monitor: %w", err)
	}
	if err := a.run(ctx, cli); err != nil {
		return err
	}

	logger.Info("THM monitor shutdown complete")
	return nil
}

// loadConfig merges the config layers, the environment and the
// command-line flags.
func loadConfig(cli *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	for _, path := range cli.ConfigPaths {
		loader.AddLayer(path)
	}
	loader.AddOverride(cli.apply)

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

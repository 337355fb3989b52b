package main

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/zamazir/THMmonitor/telemetry"
)

func setupLogger(w io.Writer, level, format string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:       logLevel,
		AddSource:   logLevel == slog.LevelDebug,
		ReplaceAttr: replaceLevel,
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler).With(
		"service", appName,
		"version", Version,
		"pid", os.Getpid(),
	)
}

// replaceLevel names telemetry.LevelCritical, which slog would print as ERROR+4.
func replaceLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == telemetry.LevelCritical {
		a.Value = slog.StringValue("CRITICAL")
	}
	return a
}

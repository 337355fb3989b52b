// Package decodelog writes the append-only plain text trace of everything
// the monitor receives and decodes.
//
// The log is meant for offline inspection of raw telemetry. It is not
// queryable and is never read back by the monitor.
package decodelog

import (
	"context"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zamazir/THMmonitor/errors"
)

// Config holds configuration for the decode log.
type Config struct {
	Path string `json:"path"`
	// Append keeps earlier sessions; otherwise the file is truncated.
	Append bool `json:"append"`
	// Trace includes per-field decode output.
	Trace bool `json:"trace"`
}

// DefaultConfig returns the default decode log configuration.
func DefaultConfig() Config {
	return Config{
		Path:   "rawdata.log",
		Append: true,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Path == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "path is required")
	}
	return nil
}

// Log is an open decode log. The zero value is not usable; use Open or
// Discard.
type Log struct {
	mu     sync.Mutex
	file   *os.File
	logger *slog.Logger
	lines  atomic.Int64
	bytes  atomic.Int64
}

// Open creates or appends to the log file.
func Open(cfg Config) (*Log, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.WrapFatal(err, "Log", "Open", "create log directory")
		}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if cfg.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(cfg.Path, flags, 0o644)
	if err != nil {
		return nil, errors.WrapFatal(err, "Log", "Open", "open log file")
	}

	l := &Log{file: f}
	l.logger = slog.New(slog.NewTextHandler(&countingWriter{log: l, w: f}, &slog.HandlerOptions{
		Level: levelFor(cfg.Trace),
	}))
	return l, nil
}

// Discard returns a log that writes nowhere.
func Discard() *Log {
	l := &Log{}
	l.logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 100}))
	return l
}

func levelFor(trace bool) slog.Level {
	if trace {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// Tracing reports whether per-field decode output is recorded.
func (l *Log) Tracing() bool {
	return l.logger.Enabled(context.Background(), slog.LevelDebug)
}

// Logger returns the handler used for decode traces.
func (l *Log) Logger() *slog.Logger { return l.logger }

// Beacon records a parsed beacon with its keys in sorted order.
func (l *Log) Beacon(routingKey string, body map[string]any, received time.Time) {
	keys := make([]string, 0, len(body))
	for k := range body {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]any, 0, 2*len(keys)+4)
	attrs = append(attrs, "routing_key", routingKey, "received", received.UTC())
	for _, k := range keys {
		attrs = append(attrs, k, body[k])
	}
	l.logger.Info("beacon", attrs...)
}

// Frame records a raw binary frame as hex.
func (l *Log) Frame(routingKey string, frame []byte, received time.Time) {
	l.logger.Info("frame",
		"routing_key", routingKey,
		"received", received.UTC(),
		"size", len(frame),
		"hex", hex.EncodeToString(frame))
}

// File records the start of a historical file load.
func (l *Log) File(path string, size int) {
	l.logger.Info("file", "path", path, "size", size)
}

// Note records a free form line, used for status codes and warnings.
func (l *Log) Note(msg string, args ...any) {
	l.logger.Info(msg, args...)
}

// Stats returns the number of lines and bytes written.
func (l *Log) Stats() (lines, bytes int64) {
	return l.lines.Load(), l.bytes.Load()
}

// Close flushes and closes the file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	if err != nil {
		return errors.WrapTransient(err, "Log", "Close", "close log file")
	}
	return nil
}

type countingWriter struct {
	log *Log
	w   io.Writer
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.log.mu.Lock()
	defer c.log.mu.Unlock()

	if c.log.file == nil {
		return 0, errors.ErrShuttingDown
	}
	n, err := c.w.Write(p)
	c.log.bytes.Add(int64(n))
	c.log.lines.Add(int64(strings.Count(string(p[:n]), "\n")))
	return n, err
}

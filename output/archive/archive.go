// Package archive writes monitor events to disk as JSON Lines, one file per
// UTC day, optionally zstd compressed.
package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/zamazir/THMmonitor/component"
	"github.com/zamazir/THMmonitor/errors"
	"github.com/zamazir/THMmonitor/output/events"
)

// Config holds configuration for the event archive
type Config struct {
	Directory  string `json:"directory"`
	FilePrefix string `json:"file_prefix"`
	// Kinds restricts the archived events. Empty archives every kind.
	Kinds         []events.Kind `json:"kinds,omitempty"`
	Compress      bool          `json:"compress"`
	BufferSize    int           `json:"buffer_size"`
	FlushInterval time.Duration `json:"flush_interval"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Directory == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "directory is required")
	}
	if c.FilePrefix == "" || filepath.Base(c.FilePrefix) != c.FilePrefix {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"file_prefix must be a plain file name")
	}
	if c.BufferSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"buffer_size cannot be negative")
	}
	if c.FlushInterval < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"flush_interval cannot be negative")
	}

	known := make(map[events.Kind]bool)
	for _, k := range events.Kinds() {
		known[k] = true
	}
	for _, k := range c.Kinds {
		if !known[k] {
			return errors.WrapInvalid(fmt.Errorf("%w: unknown event kind %q", errors.ErrInvalidConfig, k),
				"Config", "Validate", "check kinds")
		}
	}
	return nil
}

// DefaultConfig archives everything but the periodic status lines.
func DefaultConfig() Config {
	return Config{
		Directory:  "events",
		FilePrefix: "thm-events",
		Kinds: []events.Kind{
			events.KindSteadyState, events.KindBeaconGap, events.KindDuplicate,
			events.KindOverdue, events.KindAlarm, events.KindFeedError,
		},
		BufferSize:    64,
		FlushInterval: time.Second,
	}
}

// Archive buffers events and appends them to the file of the event's UTC
// day. It implements events.Sink and component.LifecycleComponent.
type Archive struct {
	name          string
	directory     string
	prefix        string
	kinds         map[events.Kind]bool
	compress      bool
	bufferSize    int
	flushInterval time.Duration
	logger        *slog.Logger
	now           func() time.Time

	buffer   []events.Event
	bufferMu sync.Mutex

	// current file, guarded by fileMu
	fileMu  sync.Mutex
	day     string
	file    *os.File
	writer  *bufio.Writer
	encoder *zstd.Encoder

	lifecycleMu sync.Mutex
	running     atomic.Bool
	shutdown    chan struct{}
	wg          sync.WaitGroup
	startTime   time.Time

	written      atomic.Int64
	bytesWritten atomic.Int64
	errorCount   atomic.Int64
	lastActivity atomic.Int64 // unix nanos
}

// New creates an archive. Initialize creates the directory.
func New(cfg Config, logger *slog.Logger) (*Archive, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	bufferSize := cfg.BufferSize
	if bufferSize == 0 {
		bufferSize = 64
	}
	interval := cfg.FlushInterval
	if interval == 0 {
		interval = time.Second
	}

	var kinds map[events.Kind]bool
	if len(cfg.Kinds) > 0 {
		kinds = make(map[events.Kind]bool, len(cfg.Kinds))
		for _, k := range cfg.Kinds {
			kinds[k] = true
		}
	}

	return &Archive{
		name:          "event-archive",
		directory:     cfg.Directory,
		prefix:        cfg.FilePrefix,
		kinds:         kinds,
		compress:      cfg.Compress,
		bufferSize:    bufferSize,
		flushInterval: interval,
		logger:        logger.With("component", "event-archive"),
		now:           time.Now,
		buffer:        make([]events.Event, 0, bufferSize),
	}, nil
}

// Name implements events.Sink.
func (a *Archive) Name() string { return a.name }

// Initialize creates the output directory
func (a *Archive) Initialize() error {
	if err := os.MkdirAll(a.directory, 0755); err != nil {
		return errors.WrapFatal(err, "Archive", "Initialize", "create output directory")
	}
	return nil
}

// Start begins the periodic flush.
func (a *Archive) Start(ctx context.Context) error {
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()

	if a.running.Load() {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Archive", "Start", "check running state")
	}

	a.shutdown = make(chan struct{})
	a.startTime = a.now()
	a.running.Store(true)

	a.wg.Add(1)
	go a.flushLoop(ctx)

	a.logger.Info("Event archive started",
		"directory", a.directory,
		"file_prefix", a.prefix,
		"compress", a.compress,
		"buffer_size", a.bufferSize)
	return nil
}

// Stop flushes the buffer and closes the current file.
func (a *Archive) Stop(timeout time.Duration) error {
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()

	if !a.running.Load() {
		return nil
	}
	a.running.Store(false)
	close(a.shutdown)

	waitCh := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("shutdown timeout after %v", timeout), "Archive", "Stop", "shutdown")
	}

	a.flush()

	a.fileMu.Lock()
	defer a.fileMu.Unlock()
	return a.closeFile()
}

// Handle implements events.Sink. Events of other kinds are skipped.
func (a *Archive) Handle(_ context.Context, e events.Event) error {
	if a.kinds != nil && !a.kinds[e.Kind] {
		return nil
	}
	if !a.running.Load() {
		a.errorCount.Add(1)
		return errors.WrapTransient(errors.ErrNotStarted, "Archive", "Handle", "archive event")
	}

	a.bufferMu.Lock()
	a.buffer = append(a.buffer, e)
	full := len(a.buffer) >= a.bufferSize
	a.bufferMu.Unlock()

	if full {
		a.flush()
	}
	return nil
}

func (a *Archive) flushLoop(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.shutdown:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.flush()
		}
	}
}

// flush writes the buffered events to their day files.
func (a *Archive) flush() {
	a.bufferMu.Lock()
	if len(a.buffer) == 0 {
		a.bufferMu.Unlock()
		return
	}
	pending := a.buffer
	a.buffer = make([]events.Event, 0, a.bufferSize)
	a.bufferMu.Unlock()

	a.fileMu.Lock()
	defer a.fileMu.Unlock()

	for _, e := range pending {
		if err := a.write(e); err != nil {
			a.errorCount.Add(1)
			a.logger.Error("Failed to archive event", "kind", e.Kind, "id", e.ID, "error", err)
		}
	}
	if err := a.sync(); err != nil {
		a.errorCount.Add(1)
		a.logger.Error("Failed to flush event archive", "error", err)
	}
}

// write appends one event. Callers hold fileMu.
func (a *Archive) write(e events.Event) error {
	day := e.Time.UTC().Format("20060102")
	if day != a.day || a.writer == nil {
		if err := a.closeFile(); err != nil {
			a.logger.Warn("Failed to close archive file", "day", a.day, "error", err)
		}
		if err := a.openFile(day); err != nil {
			return err
		}
	}

	line, err := json.Marshal(e)
	if err != nil {
		return errors.WrapInvalid(err, "Archive", "write", "marshal event")
	}
	line = append(line, '\n')
	n, err := a.writer.Write(line)
	if err != nil {
		return errors.WrapTransient(err, "Archive", "write", "write event")
	}

	a.written.Add(1)
	a.bytesWritten.Add(int64(n))
	a.lastActivity.Store(a.now().UnixNano())
	return nil
}

// Path returns the archive file for a UTC day in yyyymmdd form.
func (a *Archive) Path(day string) string {
	name := fmt.Sprintf("%s-%s.jsonl", a.prefix, day)
	if a.compress {
		name += ".zst"
	}
	return filepath.Join(a.directory, name)
}

func (a *Archive) openFile(day string) error {
	f, err := os.OpenFile(a.Path(day), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return errors.WrapTransient(err, "Archive", "openFile", "open archive file")
	}

	var w io.Writer = f
	if a.compress {
		// Each open starts a new zstd frame; concatenated frames decode as one stream.
		enc, err := zstd.NewWriter(f)
		if err != nil {
			_ = f.Close()
			return errors.WrapFatal(err, "Archive", "openFile", "create zstd encoder")
		}
		a.encoder = enc
		w = enc
	}

	a.file = f
	a.writer = bufio.NewWriter(w)
	a.day = day
	return nil
}

// sync pushes buffered bytes to the file. Callers hold fileMu.
func (a *Archive) sync() error {
	if a.writer == nil {
		return nil
	}
	if err := a.writer.Flush(); err != nil {
		return err
	}
	if a.encoder != nil {
		return a.encoder.Flush()
	}
	return nil
}

// closeFile flushes and closes the current file. Callers hold fileMu.
func (a *Archive) closeFile() error {
	if a.file == nil {
		return nil
	}
	var errs []error
	if a.writer != nil {
		errs = append(errs, a.writer.Flush())
	}
	if a.encoder != nil {
		errs = append(errs, a.encoder.Close())
	}
	errs = append(errs, a.file.Close())

	a.file, a.writer, a.encoder, a.day = nil, nil, nil, ""
	for _, err := range errs {
		if err != nil {
			return errors.WrapTransient(err, "Archive", "closeFile", "close archive file")
		}
	}
	return nil
}

// Meta returns component metadata
func (a *Archive) Meta() component.Metadata {
	return component.Metadata{
		Name:        a.name,
		Type:        component.KindOutput,
		Description: "Archives monitor events as daily JSON Lines files",
		Version:     "0.1.0",
	}
}

// Health returns the current health status
func (a *Archive) Health() component.HealthStatus {
	hs := component.HealthStatus{
		Healthy:    a.running.Load(),
		LastCheck:  a.now(),
		ErrorCount: int(a.errorCount.Load()),
	}
	if hs.Healthy {
		hs.Uptime = time.Since(a.startTime)
	}
	return hs
}

// DataFlow returns current data flow metrics
func (a *Archive) DataFlow() component.FlowMetrics {
	written := a.written.Load()
	failed := a.errorCount.Load()

	var errorRate float64
	if total := written + failed; total > 0 {
		errorRate = float64(failed) / float64(total)
	}

	fm := component.FlowMetrics{ErrorRate: errorRate}
	if ns := a.lastActivity.Load(); ns > 0 {
		fm.LastActivity = time.Unix(0, ns)
	}
	return fm
}

// Written returns the number of archived events.
func (a *Archive) Written() int64 {
	return a.written.Load()
}

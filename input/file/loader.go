// Package file loads historical THM logs: files of concatenated binary
// records, optionally zstd or lz4 compressed.
package file

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zamazir/THMmonitor/errors"
	"github.com/zamazir/THMmonitor/metric"
	"github.com/zamazir/THMmonitor/pkg/worker"
	"github.com/zamazir/THMmonitor/processor/decoder"
	"github.com/zamazir/THMmonitor/telemetry"
)

// Compression of a log file.
type Compression string

// Supported compressions.
const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

var (
	zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}
	lz4Magic  = []byte{0x04, 0x22, 0x4D, 0x18}
)

// DetectCompression inspects the frame magic of head, then the file
// extension of path.
func DetectCompression(path string, head []byte) Compression {
	switch {
	case bytes.HasPrefix(head, zstdMagic):
		return CompressionZstd
	case bytes.HasPrefix(head, lz4Magic):
		return CompressionLZ4
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zst", ".zstd":
		return CompressionZstd
	case ".lz4":
		return CompressionLZ4
	}
	return CompressionNone
}

// Config bounds and parallelizes loading.
type Config struct {
	// MaxSize bounds the file size and the decompressed size in bytes.
	MaxSize int64 `json:"max_size"`
	// ChunkRecords is the number of records decoded per work item.
	ChunkRecords int `json:"chunk_records"`
	Workers      int `json:"workers"`
}

// DefaultConfig returns a 256 MiB bound and one worker per CPU.
func DefaultConfig() Config {
	return Config{
		MaxSize:      256 << 20,
		ChunkRecords: 4096,
		Workers:      runtime.NumCPU(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxSize <= 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: max_size must be positive", errors.ErrInvalidConfig), "Config", "Validate", "check max size")
	}
	if c.ChunkRecords <= 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: chunk_records must be positive", errors.ErrInvalidConfig), "Config", "Validate", "check chunk size")
	}
	return nil
}

// LoadResult is the decoded content of one file in file order.
type LoadResult struct {
	Path        string              `json:"path"`
	Compression Compression         `json:"compression"`
	Bytes       int                 `json:"bytes"`
	Chunks      int                 `json:"chunks"`
	Sequential  bool                `json:"sequential"`
	Readings    []telemetry.Reading `json:"-"`
	Stats       decoder.Stats       `json:"stats"`
	Partial     bool                `json:"partial"`
	LastTime    time.Time           `json:"last_time"`
	Duration    time.Duration       `json:"duration"`
}

type chunkJob struct {
	ctx     context.Context
	data    []byte
	out     *decoder.Result
	err     *error
	pending *sync.WaitGroup
}

// Loader decodes log files on a shared worker pool. Clean files are split
// into chunks of whole records and decoded in parallel. If any chunk hits a
// framing or conversion problem the whole buffer is decoded again in one
// pass, so resynchronization and logging match a sequential decode.
type Loader struct {
	layout  *decoder.Layout
	cfg     Config
	logger  *slog.Logger
	trace   *slog.Logger
	quiet   *decoder.Decoder
	pool    *worker.Pool[chunkJob]
	metrics *loaderMetrics
}

// Option configures a Loader.
type Option func(*loaderOptions)

type loaderOptions struct {
	logger   *slog.Logger
	trace    *slog.Logger
	registry *metric.MetricsRegistry
}

// WithLogger sets the logger for decode errors.
func WithLogger(logger *slog.Logger) Option {
	return func(o *loaderOptions) { o.logger = logger }
}

// WithTraceLogger sets the field-level decode log. Tracing forces a
// sequential decode.
func WithTraceLogger(logger *slog.Logger) Option {
	return func(o *loaderOptions) { o.trace = logger }
}

// WithMetricsRegistry enables loader and worker pool metrics.
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(o *loaderOptions) { o.registry = registry }
}

// NewLoader creates a loader and starts its worker pool. Close stops it.
func NewLoader(layout *decoder.Layout, cfg Config, opts ...Option) (*Loader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	o := loaderOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	m, err := newLoaderMetrics(o.registry)
	if err != nil {
		return nil, err
	}

	l := &Loader{
		layout:  layout,
		cfg:     cfg,
		logger:  o.logger.With("component", "file-loader"),
		trace:   o.trace,
		quiet:   decoder.New(layout, decoder.WithLogger(slog.New(discardHandler{}))),
		metrics: m,
	}

	var poolOpts []worker.Option[chunkJob]
	if o.registry != nil {
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[chunkJob](o.registry, "file_decode"))
	}
	pool, err := worker.NewPool(cfg.Workers, 4*cfg.Workers, l.decodeChunk, poolOpts...)
	if err != nil {
		return nil, errors.WrapFatal(err, "Loader", "NewLoader", "create worker pool")
	}
	if err := pool.Start(context.Background()); err != nil {
		return nil, errors.WrapFatal(err, "Loader", "NewLoader", "start worker pool")
	}
	l.pool = pool
	return l, nil
}

// Close stops the worker pool.
func (l *Loader) Close() error {
	return l.pool.Stop(5 * time.Second)
}

// Load reads, decompresses and decodes the file at path.
func (l *Loader) Load(ctx context.Context, path string) (LoadResult, error) {
	start := time.Now()

	buf, comp, err := l.read(path)
	if err != nil {
		if l.metrics != nil {
			l.metrics.failed.Inc()
		}
		return LoadResult{Path: path}, err
	}

	res, err := l.Decode(ctx, buf)
	res.Path = path
	res.Compression = comp
	res.Duration = time.Since(start)
	if err != nil {
		return res, err
	}

	if l.metrics != nil {
		l.metrics.loaded.Inc()
		l.metrics.bytes.Add(float64(len(buf)))
		l.metrics.duration.Observe(res.Duration.Seconds())
	}
	l.logger.Info("Loaded file",
		"path", path,
		"compression", comp,
		"bytes", len(buf),
		"records", res.Stats.Records,
		"readings", res.Stats.Readings,
		"discarded", res.Stats.Discarded,
		"chunks", res.Chunks,
		"sequential", res.Sequential,
		"duration", res.Duration)
	return res, nil
}

func (l *Loader) read(path string) ([]byte, Compression, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", errors.WrapInvalid(err, "Loader", "Load", "open file")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, "", errors.WrapInvalid(err, "Loader", "Load", "stat file")
	}
	if info.IsDir() {
		return nil, "", errors.WrapInvalid(fmt.Errorf("%s is a directory", path), "Loader", "Load", "check file")
	}
	if info.Size() > l.cfg.MaxSize {
		return nil, "", errors.WrapInvalid(fmt.Errorf("%w: file is %d bytes, limit %d", errors.ErrResourceExhausted, info.Size(), l.cfg.MaxSize),
			"Loader", "Load", "check file size")
	}

	head := make([]byte, 4)
	n, _ := io.ReadFull(f, head)
	comp := DetectCompression(path, head[:n])
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, "", errors.WrapInvalid(err, "Loader", "Load", "rewind file")
	}

	var r io.Reader = f
	switch comp {
	case CompressionZstd:
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, "", errors.WrapInvalid(err, "Loader", "Load", "open zstd stream")
		}
		defer zr.Close()
		r = zr
	case CompressionLZ4:
		r = lz4.NewReader(f)
	}

	buf, err := io.ReadAll(io.LimitReader(r, l.cfg.MaxSize+1))
	if err != nil {
		return nil, "", errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrDecodeFailed, err), "Loader", "Load", "read "+string(comp)+" data")
	}
	if int64(len(buf)) > l.cfg.MaxSize {
		return nil, "", errors.WrapInvalid(fmt.Errorf("%w: decompressed data exceeds %d bytes", errors.ErrResourceExhausted, l.cfg.MaxSize),
			"Loader", "Load", "check decompressed size")
	}
	return buf, comp, nil
}

// Decode decodes buf, in parallel when it is clean.
func (l *Loader) Decode(ctx context.Context, buf []byte) (LoadResult, error) {
	res := LoadResult{Bytes: len(buf)}
	chunks := l.split(buf)
	res.Chunks = len(chunks)

	if l.trace == nil && len(chunks) > 1 {
		results, err := l.decodeParallel(ctx, chunks)
		if err != nil {
			return res, err
		}
		if clean(results) {
			for _, r := range results {
				res.Readings = append(res.Readings, r.Readings...)
				res.Stats.Records += r.Stats.Records
				res.Stats.Readings += r.Stats.Readings
				res.LastTime = r.LastTime
			}
			return res, nil
		}
		l.logger.Debug("Chunked decode hit damaged data, decoding sequentially", "chunks", len(chunks))
	}

	opts := []decoder.Option{decoder.WithLogger(l.logger)}
	if l.trace != nil {
		opts = append(opts, decoder.WithTraceLogger(l.trace))
	}
	r := decoder.New(l.layout, opts...).Decode(buf)
	res.Sequential = true
	res.Readings = r.Readings
	res.Stats = r.Stats
	res.Partial = r.Partial
	res.LastTime = r.LastTime
	return res, ctx.Err()
}

// split cuts buf into chunks of ChunkRecords whole records. The last chunk
// takes any remainder.
func (l *Loader) split(buf []byte) [][]byte {
	size := l.layout.RecordSize() * l.cfg.ChunkRecords
	var chunks [][]byte
	for len(buf) > size {
		chunks = append(chunks, buf[:size])
		buf = buf[size:]
	}
	if len(buf) > 0 {
		chunks = append(chunks, buf)
	}
	return chunks
}

func (l *Loader) decodeParallel(ctx context.Context, chunks [][]byte) ([]decoder.Result, error) {
	results := make([]decoder.Result, len(chunks))
	errs := make([]error, len(chunks))
	var pending sync.WaitGroup

	for i, c := range chunks {
		job := chunkJob{ctx: ctx, data: c, out: &results[i], err: &errs[i], pending: &pending}
		pending.Add(1)
		if err := l.pool.Submit(job); err != nil {
			// Queue full or pool stopped: decode on the caller.
			_ = l.decodeChunk(ctx, job)
		}
	}
	pending.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, errors.Wrap(err, "Loader", "Decode", "decode chunks")
		}
	}
	return results, nil
}

func (l *Loader) decodeChunk(_ context.Context, job chunkJob) error {
	defer job.pending.Done()
	if err := job.ctx.Err(); err != nil {
		*job.err = err
		return err
	}
	*job.out = l.quiet.Decode(job.data)
	return nil
}

func clean(results []decoder.Result) bool {
	for _, r := range results {
		if r.Partial || r.Stats.Discarded > 0 || r.Stats.ConversionErrors > 0 {
			return false
		}
	}
	return true
}

type loaderMetrics struct {
	loaded   prometheus.Counter
	failed   prometheus.Counter
	bytes    prometheus.Counter
	duration prometheus.Histogram
}

func newLoaderMetrics(registry *metric.MetricsRegistry) (*loaderMetrics, error) {
	if registry == nil {
		return nil, nil
	}
	m := &loaderMetrics{
		loaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace, Subsystem: "file", Name: "loaded_total",
			Help: "Historical files loaded",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace, Subsystem: "file", Name: "failed_total",
			Help: "Historical files that could not be read",
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace, Subsystem: "file", Name: "bytes_total",
			Help: "Decompressed bytes decoded from files",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace, Subsystem: "file", Name: "load_duration_seconds",
			Help:    "Time to read and decode one file",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}),
	}
	if err := registry.RegisterCounter("file", "loaded_total", m.loaded); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("file", "failed_total", m.failed); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("file", "bytes_total", m.bytes); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram("file", "load_duration_seconds", m.duration); err != nil {
		return nil, err
	}
	return m, nil
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (h discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h discardHandler) WithGroup(string) slog.Handler           { return h }

package file

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zamazir/THMmonitor/errors"
	"github.com/zamazir/THMmonitor/metric"
	"github.com/zamazir/THMmonitor/processor/conversion"
	"github.com/zamazir/THMmonitor/processor/decoder"
	"github.com/zamazir/THMmonitor/telemetry"
)

var t0 = time.Date(2017, 7, 14, 2, 40, 0, 0, time.UTC)

func testLayout(t *testing.T) *decoder.Layout {
	t.Helper()
	l, err := decoder.NewLayout([]decoder.FieldSpec{
		{Name: telemetry.FieldTimestamp, Width: 4},
		{Name: "Board", Width: 2, Kind: conversion.NoChange},
		{Name: "Panel", Width: 2, Kind: conversion.DS18B20},
		{Name: telemetry.FieldStatus, Width: 1},
		{Name: telemetry.FieldTerminator, Width: 1},
	})
	require.NoError(t, err)
	return l
}

func encodeRecords(t *testing.T, l *decoder.Layout, n int) []byte {
	t.Helper()
	records := make([]decoder.Record, n)
	for i := range records {
		records[i] = decoder.Record{
			Time:   t0.Add(time.Duration(i) * time.Second),
			Values: map[string]float64{"Board": float64(i), "Panel": 20 + float64(i%16)/16},
		}
	}
	buf, err := decoder.Encode(l, records)
	require.NoError(t, err)
	return buf
}

func newTestLoader(t *testing.T, l *decoder.Layout, opts ...Option) *Loader {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ChunkRecords = 3
	cfg.Workers = 2
	loader, err := NewLoader(l, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = loader.Close() })
	return loader
}

func newDebugLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestDetectCompression(t *testing.T) {
	tests := []struct {
		name string
		path string
		head []byte
		want Compression
	}{
		{"zstd magic", "log.bin", []byte{0x28, 0xB5, 0x2F, 0xFD}, CompressionZstd},
		{"lz4 magic", "log.bin", []byte{0x04, 0x22, 0x4D, 0x18}, CompressionLZ4},
		{"zst extension", "log.ZST", []byte{1, 2}, CompressionZstd},
		{"lz4 extension", "log.lz4", nil, CompressionLZ4},
		{"raw", "log.bin", []byte{0x59, 0x68, 0x00, 0x00}, CompressionNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectCompression(tt.path, tt.head))
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.MaxSize = 0
	assert.ErrorIs(t, cfg.Validate(), errors.ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.ChunkRecords = -1
	assert.True(t, errors.IsInvalid(cfg.Validate()))
}

func TestDecode_ParallelMatchesSequential(t *testing.T) {
	l := testLayout(t)
	buf := encodeRecords(t, l, 20)
	loader := newTestLoader(t, l)

	res, err := loader.Decode(context.Background(), buf)
	require.NoError(t, err)

	want := decoder.New(l).Decode(buf)
	assert.False(t, res.Sequential)
	assert.Equal(t, 7, res.Chunks)
	assert.Equal(t, want.Readings, res.Readings)
	assert.Equal(t, want.Stats, res.Stats)
	assert.Equal(t, want.LastTime, res.LastTime)
	assert.Equal(t, t0.Add(19*time.Second), res.LastTime)
}

func TestDecode_DamagedFallsBackToSequential(t *testing.T) {
	l := testLayout(t)
	buf := encodeRecords(t, l, 12)
	// Corrupt the terminator of record 4.
	buf[4*l.RecordSize()+l.RecordSize()-1] = 'X'
	loader := newTestLoader(t, l)

	res, err := loader.Decode(context.Background(), buf)
	require.NoError(t, err)

	want := decoder.New(l).Decode(buf)
	assert.True(t, res.Sequential)
	assert.Equal(t, want.Stats, res.Stats)
	assert.Equal(t, want.Readings, res.Readings)
	assert.Positive(t, res.Stats.Discarded)
}

func TestDecode_TruncatedTail(t *testing.T) {
	l := testLayout(t)
	buf := encodeRecords(t, l, 7)
	buf = buf[:len(buf)-3]
	loader := newTestLoader(t, l)

	res, err := loader.Decode(context.Background(), buf)
	require.NoError(t, err)
	assert.True(t, res.Partial)
	assert.True(t, res.Sequential)
	assert.Equal(t, 6, res.Stats.Records)
}

func TestDecode_TraceForcesSequential(t *testing.T) {
	l := testLayout(t)
	var trace bytes.Buffer
	loader := newTestLoader(t, l, WithTraceLogger(newDebugLogger(&trace)))

	res, err := loader.Decode(context.Background(), encodeRecords(t, l, 9))
	require.NoError(t, err)
	assert.True(t, res.Sequential)
	assert.Equal(t, 9, res.Stats.Records)
	assert.NotEmpty(t, trace.String())
}

func TestDecode_CancelledContext(t *testing.T) {
	l := testLayout(t)
	loader := newTestLoader(t, l)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := loader.Decode(ctx, encodeRecords(t, l, 20))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoad_Compressions(t *testing.T) {
	l := testLayout(t)
	raw := encodeRecords(t, l, 10)

	var zbuf bytes.Buffer
	zw, err := zstd.NewWriter(&zbuf)
	require.NoError(t, err)
	_, err = zw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	var lbuf bytes.Buffer
	lw := lz4.NewWriter(&lbuf)
	_, err = lw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, lw.Close())

	tests := []struct {
		name string
		file string
		data []byte
		want Compression
	}{
		{"raw", "thm.bin", raw, CompressionNone},
		{"zstd", "thm.bin.zst", zbuf.Bytes(), CompressionZstd},
		{"zstd without extension", "thm.bin", zbuf.Bytes(), CompressionZstd},
		{"lz4", "thm.lz4", lbuf.Bytes(), CompressionLZ4},
	}

	loader := newTestLoader(t, l)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tt.file, tt.data)
			res, err := loader.Load(context.Background(), path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Compression)
			assert.Equal(t, path, res.Path)
			assert.Equal(t, len(raw), res.Bytes)
			assert.Equal(t, 10, res.Stats.Records)
			assert.Len(t, res.Readings, 20)
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	l := testLayout(t)
	loader := newTestLoader(t, l)

	_, err := loader.Load(context.Background(), filepath.Join(t.TempDir(), "missing.bin"))
	assert.True(t, errors.IsInvalid(err))

	_, err = loader.Load(context.Background(), t.TempDir())
	assert.True(t, errors.IsInvalid(err))

	path := writeFile(t, "broken.zst", []byte{0x28, 0xB5, 0x2F, 0xFD, 0xFF, 0xFF, 0xFF})
	_, err = loader.Load(context.Background(), path)
	assert.Error(t, err)
}

func TestLoad_SizeLimit(t *testing.T) {
	l := testLayout(t)
	raw := encodeRecords(t, l, 10)

	cfg := DefaultConfig()
	cfg.MaxSize = int64(len(raw) - 1)
	loader, err := NewLoader(l, cfg)
	require.NoError(t, err)
	defer loader.Close()

	_, err = loader.Load(context.Background(), writeFile(t, "big.bin", raw))
	assert.ErrorIs(t, err, errors.ErrResourceExhausted)

	// Small compressed input that expands past the limit.
	var zbuf bytes.Buffer
	zw, err := zstd.NewWriter(&zbuf)
	require.NoError(t, err)
	_, err = zw.Write(make([]byte, 4*len(raw)))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.Less(t, zbuf.Len(), len(raw))

	_, err = loader.Load(context.Background(), writeFile(t, "big.zst", zbuf.Bytes()))
	assert.ErrorIs(t, err, errors.ErrResourceExhausted)
}

func TestLoad_Metrics(t *testing.T) {
	l := testLayout(t)
	registry := metric.NewMetricsRegistry()
	loader := newTestLoader(t, l, WithMetricsRegistry(registry))

	raw := encodeRecords(t, l, 4)
	_, err := loader.Load(context.Background(), writeFile(t, "thm.bin", raw))
	require.NoError(t, err)
	_, err = loader.Load(context.Background(), filepath.Join(t.TempDir(), "missing.bin"))
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(loader.metrics.loaded))
	assert.Equal(t, 1.0, testutil.ToFloat64(loader.metrics.failed))
	assert.Equal(t, float64(len(raw)), testutil.ToFloat64(loader.metrics.bytes))
}

package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zamazir/THMmonitor/errors"
	"github.com/zamazir/THMmonitor/output/events"
)

func newArchive(t *testing.T, mutate func(*Config)) *Archive {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Directory = filepath.Join(t.TempDir(), "events")
	cfg.FlushInterval = time.Hour
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, a.Initialize())
	require.NoError(t, a.Start(context.Background()))
	return a
}

func readLines(t *testing.T, r io.Reader) []events.Event {
	t.Helper()
	var out []events.Event
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		var e events.Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		out = append(out, e)
	}
	require.NoError(t, sc.Err())
	return out
}

func readFile(t *testing.T, path string) []events.Event {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	return readLines(t, f)
}

func TestArchive_WritesDayFiles(t *testing.T) {
	a := newArchive(t, nil)

	day1 := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	day2 := day1.Add(2 * time.Minute)
	ctx := context.Background()
	require.NoError(t, a.Handle(ctx, events.BeaconGap(day1.Add(-time.Hour), time.Hour, day1)))
	require.NoError(t, a.Handle(ctx, events.Overdue(true, "overdue", day1)))
	require.NoError(t, a.Handle(ctx, events.Overdue(false, "resumed", day2)))
	require.NoError(t, a.Stop(time.Second))

	first := readFile(t, a.Path("20260301"))
	require.Len(t, first, 2)
	assert.Equal(t, events.KindBeaconGap, first[0].Kind)
	assert.Equal(t, events.KindOverdue, first[1].Kind)

	second := readFile(t, a.Path("20260302"))
	require.Len(t, second, 1)
	assert.Equal(t, "resumed", second[0].Message)
	assert.Equal(t, int64(3), a.Written())
}

func TestArchive_SkipsUnselectedKinds(t *testing.T) {
	a := newArchive(t, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, a.Handle(context.Background(), events.FeedStatus(false, "ok", now)))
	require.NoError(t, a.Stop(time.Second))

	_, err := os.Stat(a.Path("20260301"))
	assert.True(t, os.IsNotExist(err))
	assert.Zero(t, a.Written())
}

func TestArchive_FlushesWhenBufferFull(t *testing.T) {
	a := newArchive(t, func(c *Config) { c.BufferSize = 2 })
	defer a.Stop(time.Second)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	require.NoError(t, a.Handle(ctx, events.Overdue(true, "a", now)))
	assert.Zero(t, a.Written())
	require.NoError(t, a.Handle(ctx, events.Overdue(false, "b", now)))
	assert.Equal(t, int64(2), a.Written())

	assert.Len(t, readFile(t, a.Path("20260301")), 2)
}

func TestArchive_PeriodicFlush(t *testing.T) {
	a := newArchive(t, func(c *Config) { c.FlushInterval = 10 * time.Millisecond })
	defer a.Stop(time.Second)

	require.NoError(t, a.Handle(context.Background(), events.Overdue(true, "a", time.Now())))
	require.Eventually(t, func() bool { return a.Written() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, a.DataFlow().LastActivity.IsZero())
}

func TestArchive_Compressed(t *testing.T) {
	a := newArchive(t, func(c *Config) {
		c.Compress = true
		c.BufferSize = 1
	})

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	require.NoError(t, a.Handle(ctx, events.Overdue(true, "a", now)))
	require.NoError(t, a.Stop(time.Second))

	// A restarted archive appends a second frame to the same file.
	require.NoError(t, a.Start(ctx))
	require.NoError(t, a.Handle(ctx, events.Overdue(false, "b", now)))
	require.NoError(t, a.Stop(time.Second))

	path := a.Path("20260301")
	assert.Equal(t, ".zst", filepath.Ext(path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	zr, err := zstd.NewReader(f)
	require.NoError(t, err)
	defer zr.Close()

	got := readLines(t, zr)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Message)
	assert.Equal(t, "b", got[1].Message)
}

func TestArchive_Lifecycle(t *testing.T) {
	a := newArchive(t, nil)
	assert.True(t, a.Health().Healthy)

	err := a.Start(context.Background())
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)

	require.NoError(t, a.Stop(time.Second))
	require.NoError(t, a.Stop(time.Second))
	assert.False(t, a.Health().Healthy)

	err = a.Handle(context.Background(), events.Overdue(true, "late", time.Now()))
	assert.ErrorIs(t, err, errors.ErrNotStarted)
	assert.Equal(t, 1, a.Health().ErrorCount)
}

func TestArchive_OnBus(t *testing.T) {
	a := newArchive(t, func(c *Config) { c.BufferSize = 1 })

	bus, err := events.NewBus(8, nil, nil)
	require.NoError(t, err)
	require.NoError(t, bus.Register(a))

	bus.Publish(events.BeaconGap(time.Now().Add(-time.Minute), time.Minute, time.Now()))
	require.Eventually(t, func() bool { return a.Written() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, bus.Close(time.Second))
	require.NoError(t, a.Stop(time.Second))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"no directory", func(c *Config) { c.Directory = "" }, true},
		{"prefix with path", func(c *Config) { c.FilePrefix = "../escape" }, true},
		{"empty prefix", func(c *Config) { c.FilePrefix = "" }, true},
		{"negative buffer", func(c *Config) { c.BufferSize = -1 }, true},
		{"negative interval", func(c *Config) { c.FlushInterval = -time.Second }, true},
		{"unknown kind", func(c *Config) { c.Kinds = []events.Kind{"heartbeat"} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, errors.ErrInvalidConfig)
				return
			}
			assert.NoError(t, err)
		})
	}
}

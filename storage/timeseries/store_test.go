package timeseries

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zamazir/THMmonitor/metric"
	"github.com/zamazir/THMmonitor/telemetry"
)

var t0 = time.Date(2017, 7, 14, 2, 40, 0, 0, time.UTC)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(nil)
	require.NoError(t, err)
	return s
}

func reading(sensor string, offset time.Duration, v float64) telemetry.Reading {
	return telemetry.Reading{Sensor: sensor, Time: t0.Add(offset), Value: v}
}

func TestAppend_ConflictKeepsEarlierValue(t *testing.T) {
	s := newStore(t)

	assert.Empty(t, s.Append([]telemetry.Reading{reading("EPS Board Temperature", 0, 5.0)}))
	dups := s.Append([]telemetry.Reading{reading("EPS Board Temperature", 0, 7.0)})

	require.Len(t, dups, 1)
	assert.Equal(t, "EPS Board Temperature", dups[0].Sensor)
	assert.Equal(t, t0, dups[0].Time)
	assert.Equal(t, 5.0, dups[0].Kept)
	assert.Equal(t, 7.0, dups[0].Rejected)

	points, ok := s.Series("EPS Board Temperature")
	require.True(t, ok)
	assert.Equal(t, []telemetry.Point{{Time: t0, Value: 5.0}}, points)
	assert.Len(t, s.Duplicates(), 1)
}

func TestAppend_ConflictWithinBatch(t *testing.T) {
	s := newStore(t)

	dups := s.Append([]telemetry.Reading{
		reading("A", 0, 1.0),
		reading("A", 0, 2.0),
		reading("B", 0, 2.0),
	})

	require.Len(t, dups, 1)
	assert.Equal(t, "A", dups[0].Sensor)
	points, _ := s.Series("B")
	assert.Len(t, points, 1)
}

func TestAppend_Idempotent(t *testing.T) {
	batch := []telemetry.Reading{
		reading("A", 0, 1.0),
		reading("A", time.Second, 1.5),
		reading("A", time.Second, 9.0),
		reading("B", 0, 3.0),
	}

	once := newStore(t)
	firstCount := len(once.Append(batch))

	twice := newStore(t)
	twice.Append(batch)
	secondCount := len(twice.Append(batch))

	assert.Equal(t, 1, firstCount)
	assert.Equal(t, firstCount, secondCount)

	a1, _ := once.Series("A")
	a2, _ := twice.Series("A")
	assert.Equal(t, a1, a2)
	assert.Equal(t, once.Len(), twice.Len())
}

func TestAppend_TimesBeforeUnixNanoRange(t *testing.T) {
	s := newStore(t)

	// Readings decoded before any timestamp carry the zero time. A time
	// 2^64 ns later has the same wrapped UnixNano but is a different sample.
	var zero time.Time
	later := zero
	for i := 0; i < 4; i++ {
		later = later.Add(time.Duration(1) << 62)
	}
	require.Equal(t, zero.UnixNano(), later.UnixNano())

	dups := s.Append([]telemetry.Reading{
		{Sensor: "Board", Time: zero, Value: 1.0},
		{Sensor: "Board", Time: later, Value: 2.0},
	})
	assert.Empty(t, dups)
	points, _ := s.Series("Board")
	require.Len(t, points, 2)

	dups = s.Append([]telemetry.Reading{{Sensor: "Board", Time: zero, Value: 3.0}})
	require.Len(t, dups, 1)
	assert.Equal(t, 1.0, dups[0].Kept)
}

func TestAppend_OrderingInvariant(t *testing.T) {
	s := newStore(t)
	rng := rand.New(rand.NewSource(7))

	for batch := 0; batch < 20; batch++ {
		var readings []telemetry.Reading
		for i := 0; i < 50; i++ {
			sensor := []string{"A", "B", "C"}[rng.Intn(3)]
			readings = append(readings, reading(sensor, time.Duration(rng.Intn(500))*time.Second, rng.Float64()))
		}
		s.Append(readings)

		for _, name := range s.Sensors() {
			points, _ := s.Series(name)
			for i := 1; i < len(points); i++ {
				require.False(t, points[i].Time.Before(points[i-1].Time), "%s out of order at %d", name, i)
				require.False(t, points[i].Time.Equal(points[i-1].Time), "%s holds two samples at one time", name)
			}
		}
	}
}

func TestAppend_StableForOutOfOrderBatches(t *testing.T) {
	s := newStore(t)
	s.Append([]telemetry.Reading{reading("A", 10*time.Second, 1), reading("A", 20*time.Second, 2)})
	s.Append([]telemetry.Reading{reading("A", 5*time.Second, 0.5), reading("A", 15*time.Second, 1.5)})

	points, _ := s.Series("A")
	var values []float64
	for _, p := range points {
		values = append(values, p.Value)
	}
	assert.Equal(t, []float64{0.5, 1, 1.5, 2}, values)

	latest, ok := s.Latest("A")
	require.True(t, ok)
	assert.Equal(t, 2.0, latest.Value)
}

func TestWindow(t *testing.T) {
	s := newStore(t)
	for i := 0; i < 10; i++ {
		s.Append([]telemetry.Reading{reading("A", time.Duration(i)*time.Minute, float64(i))})
	}

	w := s.Window("A", t0.Add(6*time.Minute), t0.Add(9*time.Minute))
	require.Len(t, w, 3)
	assert.Equal(t, 7.0, w[0].Value)
	assert.Equal(t, 9.0, w[2].Value)

	assert.Nil(t, s.Window("missing", t0, t0.Add(time.Hour)))
	assert.Equal(t, 10, s.Count("A"))
	assert.Zero(t, s.Count("missing"))
}

func TestSnapshotsAreCopies(t *testing.T) {
	s := newStore(t)
	s.Append([]telemetry.Reading{reading("A", 0, 1)})

	points, _ := s.Series("A")
	points[0].Value = 99

	again, _ := s.Series("A")
	assert.Equal(t, 1.0, again[0].Value)
}

func TestClear(t *testing.T) {
	s := newStore(t)
	s.Append([]telemetry.Reading{reading("A", 0, 1), reading("A", 0, 2)})
	require.Len(t, s.Duplicates(), 1)

	s.Clear()

	assert.Empty(t, s.Sensors())
	assert.Empty(t, s.Duplicates())
	assert.Zero(t, s.Len())

	assert.Empty(t, s.Append([]telemetry.Reading{reading("A", 0, 2)}))
}

func TestConcurrentReaders(t *testing.T) {
	s := newStore(t)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			s.Append([]telemetry.Reading{reading("A", time.Duration(i)*time.Second, float64(i))})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_, _ = s.Series("A")
			_ = s.Sensors()
		}
	}()
	wg.Wait()

	assert.Equal(t, 500, s.Len())
}

func TestMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	s, err := New(registry)
	require.NoError(t, err)

	s.Append([]telemetry.Reading{reading("A", 0, 1), reading("A", 0, 2), reading("B", 0, 1)})

	assert.Equal(t, 3.0, testutil.ToFloat64(s.metrics.readings))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.metrics.inserted))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.duplicates))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.metrics.series))
}

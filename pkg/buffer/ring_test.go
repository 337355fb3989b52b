package buffer

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zamazir/THMmonitor/metric"
)

func TestNewRing_InvalidCapacity(t *testing.T) {
	_, err := NewRing[int](0)
	assert.Error(t, err)
}

func TestRing_DropOldest(t *testing.T) {
	var dropped []int
	r, err := NewRing(3, WithDropCallback[int](func(v int) { dropped = append(dropped, v) }))
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		assert.True(t, r.Write(i))
	}

	assert.Equal(t, []int{3, 4, 5}, r.Snapshot())
	assert.Equal(t, []int{1, 2}, dropped)

	last, ok := r.Last()
	require.True(t, ok)
	assert.Equal(t, 5, last)

	stats := r.Stats()
	assert.Equal(t, int64(5), stats.Writes())
	assert.Equal(t, int64(2), stats.Drops())
	assert.Equal(t, int64(2), stats.Overflows())
	assert.Equal(t, int64(3), stats.MaxSize())
}

func TestRing_DropNewest(t *testing.T) {
	r, err := NewRing(2, WithOverflowPolicy[string](DropNewest))
	require.NoError(t, err)

	assert.True(t, r.Write("a"))
	assert.True(t, r.Write("b"))
	assert.False(t, r.Write("c"))
	assert.Equal(t, []string{"a", "b"}, r.Snapshot())
}

func TestRing_Clear(t *testing.T) {
	r, err := NewRing[int](4)
	require.NoError(t, err)

	r.Write(1)
	r.Write(2)
	r.Clear()

	assert.Equal(t, 0, r.Len())
	_, ok := r.Last()
	assert.False(t, ok)
	assert.Empty(t, r.Snapshot())

	r.Write(9)
	assert.Equal(t, []int{9}, r.Snapshot())
}

func TestRing_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	r, err := NewRing(2, WithMetrics[int](registry, "arrivals"))
	require.NoError(t, err)

	r.Write(1)
	r.Write(2)
	r.Write(3)

	assert.Equal(t, 3.0, testutil.ToFloat64(r.metrics.writes))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.drops))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.utilization))

	_, err = NewRing(2, WithMetrics[int](registry, "arrivals"))
	assert.Error(t, err)
}

func TestRing_Concurrent(t *testing.T) {
	r, err := NewRing[int](100)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				r.Write(i)
				_ = r.Snapshot()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, r.Len())
	assert.Equal(t, int64(8000), r.Stats().Writes())
}

package steadystate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zamazir/THMmonitor/telemetry"
)

var t0 = time.Date(2017, 7, 14, 2, 40, 0, 0, time.UTC)

func series(values ...float64) []telemetry.Point {
	points := make([]telemetry.Point, len(values))
	for i, v := range values {
		points[i] = telemetry.Point{Time: t0.Add(time.Duration(i) * time.Minute), Value: v}
	}
	return points
}

func TestEvaluate_FlipsOnce(t *testing.T) {
	d := New()
	const sensor = "EPS Board Temperature"

	tr, changed := d.Evaluate(sensor, series(20.0, 20.3, 20.1), 0.5, 5*time.Minute)
	require.True(t, changed)
	assert.Equal(t, Transition{Sensor: sensor, Steady: true, At: t0.Add(2 * time.Minute)}, tr)
	assert.True(t, d.State(sensor))

	_, changed = d.Evaluate(sensor, series(20.0, 20.3, 20.1), 0.5, 5*time.Minute)
	assert.False(t, changed, "unchanged classification must not emit")

	tr, changed = d.Evaluate(sensor, series(20.0, 20.3, 20.1, 21.0), 0.5, 5*time.Minute)
	require.True(t, changed)
	assert.False(t, tr.Steady)

	_, changed = d.Evaluate(sensor, series(20.0, 20.3, 20.1, 21.0), 0.5, 5*time.Minute)
	assert.False(t, changed)
}

func TestEvaluate_Window(t *testing.T) {
	d := New()

	// Points at 0..6 minutes; a 3 minute window keeps minutes 4, 5, 6.
	points := series(10, 30, 30, 30, 20.0, 20.1, 20.2)
	tr, changed := d.Evaluate("A", points, 0.5, 3*time.Minute)
	require.True(t, changed)
	assert.True(t, tr.Steady)

	// The lower bound is exclusive: minute 3 sits exactly on it.
	d.Reset()
	points = series(10, 30, 30, 99, 20.0, 20.1, 20.2)
	_, changed = d.Evaluate("A", points, 0.5, 3*time.Minute)
	assert.True(t, changed)
}

func TestEvaluate_ThresholdIsStrict(t *testing.T) {
	d := New()
	_, changed := d.Evaluate("A", series(20.0, 20.5), 0.5, time.Hour)
	assert.False(t, changed)
	assert.False(t, d.State("A"))
}

func TestEvaluate_EmptyAndSystemState(t *testing.T) {
	d := New()

	_, changed := d.Evaluate("A", nil, 0.5, time.Minute)
	assert.False(t, changed)

	_, changed = d.Evaluate("THM System State", series(0, 0, 0), 0.5, time.Hour)
	assert.False(t, changed)
	assert.Empty(t, d.States())

	d.Evaluate("A", series(1, 1), 0.5, time.Hour)
	_, changed = d.Evaluate("A", nil, 0.5, time.Minute)
	assert.False(t, changed)
	assert.True(t, d.State("A"), "empty series retains the state")
}

func TestStatesAndReset(t *testing.T) {
	d := New()
	d.Evaluate("B", series(1, 1), 0.5, time.Hour)
	d.Evaluate("A", series(1, 1), 0.5, time.Hour)
	d.Evaluate("C", series(1, 9), 0.5, time.Hour)

	assert.Equal(t, []string{"A", "B"}, d.States())

	d.Reset()
	assert.Empty(t, d.States())
	assert.False(t, d.State("A"))
}

package beacon

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zamazir/THMmonitor/errors"
	"github.com/zamazir/THMmonitor/telemetry"
)

var arrival = time.Date(2017, 7, 14, 3, 0, 0, 0, time.UTC)

func newParser(t *testing.T) *Parser {
	t.Helper()
	p, err := NewParser()
	require.NoError(t, err)
	return p
}

func quietNormalizer() (*Normalizer, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewNormalizer(time.Minute, slog.New(slog.NewTextHandler(&buf, nil))), &buf
}

func TestDetect(t *testing.T) {
	cborBody, err := cbor.Marshal(map[string]any{"a": 1})
	require.NoError(t, err)

	assert.Equal(t, FormatJSON, Detect([]byte(` {"a":1}`)))
	assert.Equal(t, FormatCBOR, Detect(cborBody))
	assert.Equal(t, FormatRaw, Detect([]byte{0x59, 0x68, 0x2f, 0x00}))
	assert.Equal(t, FormatRaw, Detect(nil))
}

func TestParse_JSON(t *testing.T) {
	p := newParser(t)

	m, err := p.Parse([]byte(`{"Beacon Timestamp":"2017-07-14T02:40:00","Beacon Version":3,"Source":"FM","Source ID":7,"EPS Board Temperature":21.5,"Panel":null}`))
	require.NoError(t, err)
	assert.Equal(t, 21.5, m["EPS Board Temperature"])
	assert.Nil(t, m["Panel"])
}

func TestParse_CBOR(t *testing.T) {
	p := newParser(t)
	body, err := cbor.Marshal(map[string]any{
		"Beacon Timestamp":  "2017-07-14T02:40:00",
		"THM System State":  1,
		"Radiator Top Temp": -12.25,
	})
	require.NoError(t, err)

	m, err := p.Parse(body)
	require.NoError(t, err)
	assert.EqualValues(t, 1, m["THM System State"])
	assert.Equal(t, -12.25, m["Radiator Top Temp"])
}

func TestParse_Malformed(t *testing.T) {
	p := newParser(t)

	tests := []struct {
		name string
		body []byte
	}{
		{"empty", nil},
		{"broken json", []byte(`{"a":`)},
		{"string sensor value", []byte(`{"EPS Board Temperature":"hot"}`)},
		{"array", []byte(`[1,2]`)},
		{"raw frame", []byte{0x59, 0x68, 0x2f, 0x00, '\n'}},
		{"bad source type", []byte(`{"Source":5}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Parse(tt.body)
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
			assert.ErrorIs(t, err, errors.ErrMalformedBeacon)
		})
	}
}

func TestNormalize_BeaconTimestamp(t *testing.T) {
	n, _ := quietNormalizer()

	res, err := n.Normalize(map[string]any{
		KeyTimestamp:       "2017-07-14T02:40:00",
		KeyVersion:         3.0,
		KeySource:          "FM",
		KeySourceID:        7.0,
		"B sensor":         2.0,
		"A sensor":         1.0,
		"Skipped":          nil,
		"THM System State": 2.0,
	}, arrival)
	require.NoError(t, err)

	want := time.Date(2017, 7, 14, 2, 40, 0, 0, time.UTC)
	assert.Equal(t, TimeFromBeacon, res.TimeSource)
	assert.Equal(t, []telemetry.Reading{
		{Sensor: "A sensor", Time: want, Value: 1},
		{Sensor: "B sensor", Time: want, Value: 2},
	}, res.Readings)
	assert.Equal(t, []telemetry.StateReading{
		{Sensor: "THM System State", Time: want, State: telemetry.StateCritical},
	}, res.States)
}

func TestNormalize_ClockFallback(t *testing.T) {
	n, _ := quietNormalizer()
	clock := time.Date(2017, 7, 14, 2, 59, 30, 0, time.UTC)

	_, err := n.UpdateClock(map[string]any{KeyTimestamp: "2017-07-14T02:59:30"}, arrival.Add(-30*time.Second))
	require.NoError(t, err)

	res, err := n.Normalize(map[string]any{"A": 1.0}, arrival)
	require.NoError(t, err)
	assert.Equal(t, TimeFromClock, res.TimeSource)
	assert.Equal(t, clock, res.Readings[0].Time)

	// Past the validity window the arrival time wins.
	res, err = n.Normalize(map[string]any{"A": 1.0}, arrival.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, TimeFromArrival, res.TimeSource)
	assert.Equal(t, arrival.Add(2*time.Minute), res.Time)
}

func TestNormalize_ArrivalFallback(t *testing.T) {
	n, logs := quietNormalizer()

	res, err := n.Normalize(map[string]any{KeyTimestamp: "yesterday", "A": 1.0}, arrival)
	require.NoError(t, err)
	assert.Equal(t, TimeFromArrival, res.TimeSource)
	assert.Equal(t, arrival, res.Time)
	assert.Contains(t, logs.String(), "Unparseable beacon timestamp")
}

func TestNormalize_NonNumeric(t *testing.T) {
	n, _ := quietNormalizer()

	_, err := n.Normalize(map[string]any{"A": "warm"}, arrival)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestUpdateClock_Errors(t *testing.T) {
	n, _ := quietNormalizer()

	_, err := n.UpdateClock(map[string]any{}, arrival)
	assert.ErrorIs(t, err, errors.ErrMalformedBeacon)

	_, err = n.UpdateClock(map[string]any{KeyTimestamp: "garbage"}, arrival)
	assert.ErrorIs(t, err, errors.ErrMalformedBeacon)

	n.Reset()
	clock, _ := n.Clock()
	assert.True(t, clock.IsZero())
}

func TestRouter(t *testing.T) {
	r := NewRouter("", "")

	assert.Equal(t, ClassTelemetry, r.Classify("THM"))
	assert.Equal(t, ClassTelemetry, r.Classify("thm"))
	assert.Equal(t, ClassClock, r.Classify("CDH"))
	assert.Equal(t, ClassOther, r.Classify("EPS"))
	assert.Equal(t, "telemetry", ClassTelemetry.String())

	custom := NewRouter("TCS", "OBC")
	assert.Equal(t, ClassTelemetry, custom.Classify("TCS"))
	assert.Equal(t, ClassOther, custom.Classify("THM"))
}

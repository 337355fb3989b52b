package decoder

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zamazir/THMmonitor/catalog"
	"github.com/zamazir/THMmonitor/errors"
	"github.com/zamazir/THMmonitor/processor/conversion"
	"github.com/zamazir/THMmonitor/telemetry"
)

var t0 = time.Date(2017, 7, 14, 2, 40, 0, 0, time.UTC)

func smallLayout(t *testing.T) *Layout {
	t.Helper()
	l, err := NewLayout([]FieldSpec{
		{Name: telemetry.FieldTimestamp, Width: 4},
		{Name: "Board", Width: 2, Kind: conversion.NoChange},
		{Name: "Panel", Width: 2, Kind: conversion.DS18B20},
		{Name: telemetry.FieldStatus, Width: 1},
		{Name: telemetry.FieldTerminator, Width: 1},
	})
	require.NoError(t, err)
	return l
}

func quietDecoder(l *Layout) (*Decoder, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(l, WithLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))), &buf
}

func smallRecords(n int) []Record {
	records := make([]Record, n)
	for i := range records {
		records[i] = Record{
			Time:   t0.Add(time.Duration(i) * time.Minute),
			Values: map[string]float64{"Board": 20.5 + float64(i), "Panel": 25.0 + float64(i)/16},
		}
	}
	return records
}

func sensorTimes(readings []telemetry.Reading, sensor string) []time.Time {
	var out []time.Time
	for _, r := range readings {
		if r.Sensor == sensor {
			out = append(out, r.Time)
		}
	}
	return out
}

func TestNewLayout_Validation(t *testing.T) {
	tests := []struct {
		name   string
		fields []FieldSpec
	}{
		{"empty", nil},
		{"bad width", []FieldSpec{{Name: telemetry.FieldTimestamp, Width: 3}, {Name: telemetry.FieldTerminator, Width: 1}}},
		{"terminator not last", []FieldSpec{{Name: telemetry.FieldTimestamp, Width: 4}, {Name: telemetry.FieldTerminator, Width: 1}, {Name: "A", Width: 2}}},
		{"no terminator", []FieldSpec{{Name: telemetry.FieldTimestamp, Width: 4}, {Name: "A", Width: 2}}},
		{"no timestamp", []FieldSpec{{Name: telemetry.FieldStatus, Width: 1}, {Name: telemetry.FieldTerminator, Width: 1}}},
		{"duplicate name", []FieldSpec{{Name: telemetry.FieldTimestamp, Width: 4}, {Name: "A", Width: 2}, {Name: "A", Width: 2}, {Name: telemetry.FieldTerminator, Width: 1}}},
		{"unknown kind", []FieldSpec{{Name: telemetry.FieldTimestamp, Width: 4}, {Name: "A", Width: 2, Kind: "PT100"}, {Name: telemetry.FieldTerminator, Width: 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLayout(tt.fields)
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestTHMLayout(t *testing.T) {
	l, err := THMLayout(catalog.New(nil).Entries())
	require.NoError(t, err)

	assert.Equal(t, 84, l.RecordSize())
	assert.Len(t, l.Sensors(), 39)
	assert.NotContains(t, l.Sensors(), telemetry.FieldStatus)
}

func TestDecode_RoundTripAllConversions(t *testing.T) {
	entries := catalog.New(nil).Entries()
	l, err := THMLayout(entries)
	require.NoError(t, err)

	// Physical values produced from a spread of raw words so every family
	// gets values it can represent.
	values := make(map[string]float64, len(entries))
	for i, e := range entries {
		raw, err := conversion.Raw(int64(i*613 - 9000))
		require.NoError(t, err)
		v, err := conversion.Convert(e.Kind, raw)
		require.NoError(t, err)
		values[e.Name] = v
	}

	records := []Record{
		{Time: t0, Status: 0, Values: values},
		{Time: t0.Add(30 * time.Second), Status: 2, Values: values},
	}
	frame, err := Encode(l, records)
	require.NoError(t, err)
	require.Len(t, frame, 2*84)

	d, _ := quietDecoder(l)
	res := d.Decode(frame)

	assert.False(t, res.Partial)
	assert.Equal(t, 2, res.Stats.Records)
	require.Len(t, res.Readings, 2*39)
	assert.Equal(t, t0.Add(30*time.Second), res.LastTime)

	for i, r := range res.Readings {
		want := t0
		if i >= 39 {
			want = t0.Add(30 * time.Second)
		}
		assert.Equal(t, want, r.Time, r.Sensor)
		assert.InDelta(t, values[r.Sensor], r.Value, 1e-9, r.Sensor)
		assert.False(t, reserved(r.Sensor))
	}
}

func TestDecode_ResyncAfterCorruptTerminator(t *testing.T) {
	l := smallLayout(t)
	frame, err := Encode(l, smallRecords(4))
	require.NoError(t, err)

	size := l.RecordSize()
	frame[2*size-1] = 'X'
	// The scan after record 2 must land on record 3's terminator.
	require.Equal(t, -1, bytes.IndexByte(frame[size:3*size-1], Terminator))

	d, logs := quietDecoder(l)
	res := d.Decode(frame)

	assert.False(t, res.Partial)
	assert.Equal(t, 2, res.Stats.Records)
	assert.Equal(t, 1, res.Stats.Discarded)
	assert.Equal(t, []time.Time{t0, t0.Add(3 * time.Minute)}, sensorTimes(res.Readings, "Board"))
	assert.Equal(t, []time.Time{t0, t0.Add(3 * time.Minute)}, sensorTimes(res.Readings, "Panel"))
	assert.Contains(t, logs.String(), "framing error")

	for _, r := range res.Readings {
		if r.Sensor == "Board" && r.Time.Equal(t0.Add(3*time.Minute)) {
			assert.Equal(t, 23.5, r.Value)
		}
	}
}

func TestDecode_ResyncAfterMissingTerminator(t *testing.T) {
	l := smallLayout(t)
	frame, err := Encode(l, smallRecords(4))
	require.NoError(t, err)

	size := l.RecordSize()
	corrupted := append(append([]byte{}, frame[:2*size-1]...), frame[2*size:]...)

	d, _ := quietDecoder(l)
	res := d.Decode(corrupted)

	times := sensorTimes(res.Readings, "Board")
	require.NotEmpty(t, times)
	assert.Equal(t, t0, times[0])
	assert.Equal(t, t0.Add(3*time.Minute), times[len(times)-1])
	assert.NotContains(t, times, t0.Add(time.Minute))
}

func TestDecode_NoTerminatorAfterCorruption(t *testing.T) {
	l := smallLayout(t)
	frame, err := Encode(l, smallRecords(2))
	require.NoError(t, err)
	frame[len(frame)-1] = 'X'

	d, _ := quietDecoder(l)
	res := d.Decode(frame)

	assert.Equal(t, 1, res.Stats.Records)
	assert.Equal(t, 1, res.Stats.Discarded)
	assert.Len(t, res.Readings, 2)
}

func TestDecode_TruncatedRecord(t *testing.T) {
	l := smallLayout(t)
	frame, err := Encode(l, smallRecords(2))
	require.NoError(t, err)

	// Second record keeps its timestamp and Board, loses Panel onwards.
	truncated := frame[:l.RecordSize()+4+2+1]

	d, logs := quietDecoder(l)
	res := d.Decode(truncated)

	assert.True(t, res.Partial)
	assert.Equal(t, 1, res.Stats.Records)
	assert.Equal(t, t0, res.LastTime)
	require.Len(t, res.Readings, 3)
	assert.Equal(t, telemetry.Reading{Sensor: "Board", Time: t0.Add(time.Minute), Value: 21.5}, res.Readings[2])
	assert.Contains(t, logs.String(), "last_good_time")
}

func TestDecode_IdentityField(t *testing.T) {
	l, err := NewLayout([]FieldSpec{
		{Name: telemetry.FieldTimestamp, Width: 4},
		{Name: "Raw", Width: 2},
		{Name: telemetry.FieldTerminator, Width: 1},
	})
	require.NoError(t, err)

	frame, err := Encode(l, []Record{{Time: t0, Values: map[string]float64{"Raw": 513}}})
	require.NoError(t, err)

	d, _ := quietDecoder(l)
	res := d.Decode(frame)
	require.Len(t, res.Readings, 1)
	assert.Equal(t, 513.0, res.Readings[0].Value)
}

func TestDecode_SensorBeforeTimestamp(t *testing.T) {
	l, err := NewLayout([]FieldSpec{
		{Name: "Early", Width: 2},
		{Name: telemetry.FieldTimestamp, Width: 4},
		{Name: telemetry.FieldTerminator, Width: 1},
	})
	require.NoError(t, err)

	frame, err := Encode(l, []Record{
		{Time: t0, Values: map[string]float64{"Early": 1}},
		{Time: t0.Add(time.Minute), Values: map[string]float64{"Early": 2}},
	})
	require.NoError(t, err)

	d, logs := quietDecoder(l)
	res := d.Decode(frame)

	assert.Contains(t, logs.String(), "level=ERROR+4")
	require.Len(t, res.Readings, 2)
	assert.True(t, res.Readings[0].Time.IsZero())
	assert.Equal(t, t0, res.Readings[1].Time)
}

func TestDecode_Trace(t *testing.T) {
	l := smallLayout(t)
	frame, err := Encode(l, smallRecords(1))
	require.NoError(t, err)

	var trace bytes.Buffer
	d := New(l,
		WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))),
		WithTraceLogger(slog.New(slog.NewTextHandler(&trace, &slog.HandlerOptions{Level: slog.LevelDebug}))))
	d.Decode(frame)

	assert.Contains(t, trace.String(), "name=Board")
	assert.Contains(t, trace.String(), "status=OK")
}

func TestEncode_Errors(t *testing.T) {
	l := smallLayout(t)

	_, err := Encode(l, []Record{{Time: t0, Values: map[string]float64{"Board": 1}}})
	assert.Error(t, err)

	_, err = Encode(l, []Record{{Time: t0, Values: map[string]float64{"Board": 1e9, "Panel": 0}}})
	assert.ErrorIs(t, err, errors.ErrOutOfRange)

	_, err = Encode(l, []Record{{Time: t0, Status: 300, Values: map[string]float64{"Board": 1, "Panel": 0}}})
	assert.ErrorIs(t, err, errors.ErrOutOfRange)
}

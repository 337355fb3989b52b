// Package decoder turns binary telemetry records into readings.
//
// A buffer holds any number of records laid out by a Layout. Records that are
// truncated or carry a bad terminator are dropped without aborting the rest of
// the buffer. Every field can be traced to a separate decode log.
package decoder

import (
	"bytes"
	"context"
	"encoding/binary"
	"log/slog"
	"time"

	"github.com/zamazir/THMmonitor/errors"
	"github.com/zamazir/THMmonitor/pkg/timestamp"
	"github.com/zamazir/THMmonitor/processor/conversion"
	"github.com/zamazir/THMmonitor/telemetry"
)

// Stats counts what happened during one Decode call.
type Stats struct {
	Records          int `json:"records"`
	Discarded        int `json:"discarded"`
	Readings         int `json:"readings"`
	ConversionErrors int `json:"conversion_errors"`
}

// Result is the outcome of one Decode call. Partial is set when the buffer
// ended inside a record.
type Result struct {
	Readings []telemetry.Reading
	Partial  bool
	Stats    Stats
	// LastTime is the timestamp of the last record that decoded completely.
	LastTime time.Time
}

// Decoder decodes buffers for one layout. It holds no per-call state and is
// safe for concurrent use.
type Decoder struct {
	layout *Layout
	logger *slog.Logger
	trace  *slog.Logger
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithLogger sets the logger for decode problems.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Decoder) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithTraceLogger sets the logger receiving one debug entry per field.
func WithTraceLogger(logger *slog.Logger) Option {
	return func(d *Decoder) {
		d.trace = logger
	}
}

// New creates a Decoder for layout.
func New(layout *Layout, opts ...Option) *Decoder {
	d := &Decoder{
		layout: layout,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "decoder")
	return d
}

// Layout returns the decoder layout.
func (d *Decoder) Layout() *Layout {
	return d.layout
}

// Decode walks buf record by record.
func (d *Decoder) Decode(buf []byte) Result {
	var (
		res        Result
		recordTime time.Time
		haveTime   bool
		warnedTime bool
		cursor     int
	)

	ctx := context.Background()
	tracing := d.trace != nil && d.trace.Enabled(ctx, slog.LevelDebug)

records:
	for cursor < len(buf) {
		var pending []telemetry.Reading

		for _, f := range d.layout.fields {
			end := cursor + f.Width
			if end > len(buf) {
				err := errors.WrapInvalid(errors.ErrDecodeFailed, "decoder", "Decode", "unpack "+f.Name)
				d.logger.Error("Failed to unpack raw value",
					"sensor", f.Name,
					"available", len(buf)-cursor,
					"expected", f.Width,
					"last_good_time", res.LastTime,
					"error", err)
				res.Readings = append(res.Readings, pending...)
				res.Stats.Readings += len(pending)
				res.Partial = true
				return res
			}

			raw := unpack(buf[cursor:end])
			if tracing {
				d.trace.Debug("field", "name", f.Name, "start", cursor, "end", end-1, "raw", raw)
			}

			switch f.Name {
			case telemetry.FieldTerminator:
				if raw != Terminator {
					err := errors.WrapInvalid(errors.ErrFraming, "decoder", "Decode", "check terminator")
					next := bytes.IndexByte(buf[end:], Terminator)
					d.logger.Error("Expected line break, discarding record",
						"start", cursor,
						"got", raw,
						"discarded_readings", len(pending),
						"resync", next >= 0,
						"error", err)
					res.Stats.Discarded++
					if next < 0 {
						return res
					}
					cursor = end + next + 1
					continue records
				}
				cursor = end
				res.Stats.Records++
				res.LastTime = recordTime
				res.Readings = append(res.Readings, pending...)
				res.Stats.Readings += len(pending)
				continue records

			case telemetry.FieldTimestamp:
				recordTime = timestamp.FromEpochSeconds(raw)
				haveTime = true
				cursor = end
				continue

			case telemetry.FieldStatus:
				if tracing {
					d.trace.Debug("status", "code", raw, "status", conversion.StatusString(int64(raw)))
				}
				cursor = end
				continue
			}

			cursor = end
			if !haveTime && !warnedTime {
				warnedTime = true
				d.logger.Log(ctx, telemetry.LevelCritical,
					"Sensor data decoded before any timestamp, readings may carry wrong times",
					"sensor", f.Name)
			}

			value := float64(raw)
			if f.Convert != nil {
				v, err := f.Convert(int64(raw))
				if err != nil {
					res.Stats.ConversionErrors++
					d.logger.Warn("Conversion failed", "sensor", f.Name, "raw", raw, "error", err)
					continue
				}
				value = v
			}
			if tracing {
				d.trace.Debug("value", "name", f.Name, "time", recordTime, "value", value)
			}

			pending = append(pending, telemetry.Reading{Sensor: f.Name, Time: recordTime, Value: value})
		}
	}

	return res
}

// unpack reads an unsigned big-endian integer of 1, 2, 4, or 8 bytes.
func unpack(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.BigEndian.Uint16(b))
	case 4:
		return uint64(binary.BigEndian.Uint32(b))
	default:
		return binary.BigEndian.Uint64(b)
	}
}

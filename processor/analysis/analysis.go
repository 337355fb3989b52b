// Package analysis reduces sensor series for display: bin averaging and
// threshold markers.
package analysis

import (
	"fmt"
	"math"
	"time"

	"github.com/zamazir/THMmonitor/errors"
	"github.com/zamazir/THMmonitor/telemetry"
)

// Average bins consecutive points into groups of n and reduces each bin to
// its mean time and mean value. A trailing partial bin is kept. n of one or
// less returns a copy of points.
func Average(points []telemetry.Point, n int) []telemetry.Point {
	if n <= 1 {
		out := make([]telemetry.Point, len(points))
		copy(out, points)
		return out
	}

	out := make([]telemetry.Point, 0, (len(points)+n-1)/n)
	for start := 0; start < len(points); start += n {
		end := min(start+n, len(points))
		out = append(out, mean(points[start:end]))
	}
	return out
}

func mean(bin []telemetry.Point) telemetry.Point {
	base := bin[0].Time
	var offset time.Duration
	var sum float64
	for _, p := range bin {
		offset += p.Time.Sub(base)
		sum += p.Value
	}
	count := len(bin)
	return telemetry.Point{
		Time:  base.Add(offset / time.Duration(count)),
		Value: sum / float64(count),
	}
}

// Thresholds bounds the normal range of a sensor. A nil bound is derived
// from the other one by negating its magnitude.
type Thresholds struct {
	Max *float64 `json:"max,omitempty"`
	Min *float64 `json:"min,omitempty"`
}

// Resolve fills in a missing bound. Both bounds missing is an error.
func (t Thresholds) Resolve() (hi, lo float64, err error) {
	switch {
	case t.Max != nil && t.Min != nil:
		hi, lo = *t.Max, *t.Min
	case t.Max != nil:
		hi = math.Abs(*t.Max)
		lo = -hi
	case t.Min != nil:
		lo = -math.Abs(*t.Min)
		hi = -lo
	default:
		return 0, 0, errors.WrapInvalid(fmt.Errorf("%w: no spike threshold", errors.ErrInvalidConfig),
			"analysis", "Resolve", "resolve thresholds")
	}
	if lo > hi {
		return 0, 0, errors.WrapInvalid(fmt.Errorf("%w: min %v above max %v", errors.ErrInvalidConfig, lo, hi),
			"analysis", "Resolve", "resolve thresholds")
	}
	return hi, lo, nil
}

// Spikes returns the times of points at or beyond the thresholds, in series
// order.
func Spikes(points []telemetry.Point, th Thresholds) ([]time.Time, error) {
	hi, lo, err := th.Resolve()
	if err != nil {
		return nil, err
	}

	var out []time.Time
	for _, p := range points {
		if p.Value >= hi || p.Value <= lo {
			out = append(out, p.Time)
		}
	}
	return out, nil
}

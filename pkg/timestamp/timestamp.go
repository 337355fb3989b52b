// Package timestamp converts between the time encodings found in satellite
// telemetry and time.Time.
//
// All returned times are UTC. Binary records carry epoch seconds, beacons carry
// "2006-01-02T15:04:05" strings, and TVAC chamber logs carry day-first dates.
package timestamp

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Layouts used by the telemetry sources.
const (
	BeaconLayout  = "2006-01-02T15:04:05"
	TVACLayout    = "02.01.2006 15:04:05"
	DisplayLayout = "2006-01-02 15:04:05"
)

// FromEpochSeconds converts a satellite epoch-seconds counter to UTC time.
func FromEpochSeconds(secs uint64) time.Time {
	if secs > math.MaxInt64 {
		secs = math.MaxInt64
	}
	return time.Unix(int64(secs), 0).UTC()
}

// ToEpochSeconds converts t to whole epoch seconds.
func ToEpochSeconds(t time.Time) uint64 {
	s := t.Unix()
	if s < 0 {
		return 0
	}
	return uint64(s)
}

// ParseBeacon parses a beacon timestamp value. Strings may use the beacon
// layout, RFC 3339, or a numeric epoch. Numbers above 1e12 are treated as
// milliseconds, others as seconds.
func ParseBeacon(v any) (time.Time, error) {
	switch val := v.(type) {
	case nil:
		return time.Time{}, fmt.Errorf("timestamp: missing value")
	case time.Time:
		return val.UTC(), nil
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return time.Time{}, fmt.Errorf("timestamp: empty string")
		}
		if t, err := time.ParseInLocation(BeaconLayout, s, time.UTC); err == nil {
			return t, nil
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UTC(), nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromNumber(f)
		}
		return time.Time{}, fmt.Errorf("timestamp: unrecognised format %q", s)
	case float64:
		return fromNumber(val)
	case float32:
		return fromNumber(float64(val))
	case int:
		return fromNumber(float64(val))
	case int64:
		return fromNumber(float64(val))
	case uint64:
		return fromNumber(float64(val))
	default:
		return time.Time{}, fmt.Errorf("timestamp: unsupported type %T", v)
	}
}

func fromNumber(f float64) (time.Time, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return time.Time{}, fmt.Errorf("timestamp: invalid epoch %v", f)
	}
	if f > 1e12 {
		return time.UnixMilli(int64(f)).UTC(), nil
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
}

// FormatBeacon renders t in the beacon layout.
func FormatBeacon(t time.Time) string {
	return t.UTC().Format(BeaconLayout)
}

// ParseTVAC parses a chamber log date and clock column pair such as
// "24.03.2017" and "13:45:02.5". Fractional seconds are optional.
func ParseTVAC(date, clock string) (time.Time, error) {
	whole, frac, hasFrac := strings.Cut(clock, ".")
	t, err := time.ParseInLocation(TVACLayout, date+" "+whole, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	if hasFrac && frac != "" {
		f, err := strconv.ParseFloat("0."+frac, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("timestamp: bad fraction %q: %w", frac, err)
		}
		t = t.Add(time.Duration(f * float64(time.Second)))
	}
	return t, nil
}

// Seconds renders d as fractional seconds with one decimal.
func Seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 1, 64)
}

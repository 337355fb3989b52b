// Package conversion turns raw sensor words into physical values.
//
// Every sensor family has a fixed formula. The raw value is the field as
// unpacked big-endian from a record; its two bytes are swapped and read as a
// signed 16-bit integer before the formula is applied. Integer divisions floor
// towards negative infinity.
package conversion

import (
	"fmt"
	"math"

	"github.com/zamazir/THMmonitor/errors"
)

// Kind identifies a sensor family.
type Kind string

// Sensor families.
const (
	DS18B20         Kind = "DS18B20"
	EMC1701         Kind = "EMC1701"
	LT55599         Kind = "LT55599"
	MCP9802         Kind = "MCP9802"
	UnknownCOM      Kind = "UnknownCOM"
	KelvinToCelsius Kind = "KelvinToCelsius"
	BMX055          Kind = "BMX055"
	NoChange        Kind = "NoChange"
)

// Empirical calibration constants.
const (
	comNumerator   = 1000
	comDenominator = 1140
	bmxOffset      = 23
	kelvinOffset   = 27315
	lt55599Offset  = 3
	lt55599Scale   = 10
)

// Func converts a raw field value to a physical value.
type Func func(raw int64) (float64, error)

var table = map[Kind]func(s int64) float64{
	DS18B20:         func(s int64) float64 { return float64(s) / 16.0 },
	EMC1701:         func(s int64) float64 { return float64(s>>5) * 0.125 },
	LT55599:         func(s int64) float64 { return float64((s - lt55599Offset) * lt55599Scale) },
	MCP9802:         func(s int64) float64 { return float64(s>>4) * 0.0625 },
	UnknownCOM:      func(s int64) float64 { return float64(floorDiv(s*comNumerator, comDenominator)) },
	KelvinToCelsius: func(s int64) float64 { return float64(s-kelvinOffset) / 100.0 },
	BMX055:          func(s int64) float64 { return float64((s&0xFF)/2 + bmxOffset) },
	NoChange:        func(s int64) float64 { return float64(s) / 100.0 },
}

// Kinds returns every known sensor family.
func Kinds() []Kind {
	return []Kind{DS18B20, EMC1701, LT55599, MCP9802, UnknownCOM, KelvinToCelsius, BMX055, NoChange}
}

// Lookup returns the conversion for kind.
func Lookup(kind Kind) (Func, error) {
	formula, ok := table[kind]
	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("unknown sensor kind %q", kind),
			"conversion", "Lookup", "resolve conversion")
	}
	return func(raw int64) (float64, error) {
		s, err := Word(raw)
		if err != nil {
			return 0, err
		}
		return formula(s), nil
	}, nil
}

// Convert applies the formula of kind to raw.
func Convert(kind Kind, raw int64) (float64, error) {
	fn, err := Lookup(kind)
	if err != nil {
		return 0, err
	}
	return fn(raw)
}

// Word swaps the two bytes of raw and reads them as a signed 16-bit value.
// Raw values outside the signed or unsigned 16-bit range are rejected.
func Word(raw int64) (int64, error) {
	if raw < math.MinInt16 || raw > math.MaxUint16 {
		return 0, errors.WrapInvalid(fmt.Errorf("%w: %d", errors.ErrOutOfRange, raw),
			"conversion", "Word", "reinterpret raw value")
	}
	u := uint16(raw)
	return int64(int16(u<<8 | u>>8)), nil
}

// Raw is the inverse of Word for a signed 16-bit value.
func Raw(s int64) (int64, error) {
	if s < math.MinInt16 || s > math.MaxInt16 {
		return 0, errors.WrapInvalid(fmt.Errorf("%w: %d", errors.ErrOutOfRange, s),
			"conversion", "Raw", "pack word")
	}
	u := uint16(int16(s))
	return int64(u<<8 | u>>8), nil
}

// Inverse returns a raw value that converts back to value under kind.
// Values the formula cannot produce are rejected.
func Inverse(kind Kind, value float64) (int64, error) {
	s, err := signedWord(kind, value, "Inverse")
	if err != nil {
		return 0, err
	}
	if table[kind](s) != value {
		return 0, errors.WrapInvalid(fmt.Errorf("%w: %v not representable as %s", errors.ErrOutOfRange, value, kind),
			"conversion", "Inverse", "encode value")
	}
	return Raw(s)
}

// Quantize returns the value kind produces for the word closest to value.
// The result is accepted by Inverse.
func Quantize(kind Kind, value float64) (float64, error) {
	s, err := signedWord(kind, value, "Quantize")
	if err != nil {
		return 0, err
	}
	return table[kind](s), nil
}

func signedWord(kind Kind, value float64, method string) (int64, error) {
	if _, ok := table[kind]; !ok {
		return 0, errors.WrapInvalid(fmt.Errorf("unknown sensor kind %q", kind),
			"conversion", method, "resolve conversion")
	}

	var s int64
	switch kind {
	case DS18B20:
		s = int64(math.Round(value * 16))
	case EMC1701:
		s = int64(math.Floor(value/0.125)) << 5
	case LT55599:
		s = int64(math.Round(value/lt55599Scale)) + lt55599Offset
	case MCP9802:
		s = int64(math.Floor(value/0.0625)) << 4
	case UnknownCOM:
		s = int64(math.Ceil(value * comDenominator / comNumerator))
	case KelvinToCelsius:
		s = int64(math.Round(value*100)) + kelvinOffset
	case BMX055:
		s = int64(math.Round((value - bmxOffset) * 2))
	case NoChange:
		s = int64(math.Round(value * 100))
	}

	if s < math.MinInt16 || s > math.MaxInt16 {
		return 0, errors.WrapInvalid(fmt.Errorf("%w: %v not representable as %s", errors.ErrOutOfRange, value, kind),
			"conversion", method, "encode value")
	}
	return s, nil
}

// StatusString renders a record status code.
func StatusString(code int64) string {
	switch code {
	case 0:
		return "OK"
	case 1:
		return "WARNING"
	case 2:
		return "ALARM"
	default:
		return fmt.Sprintf("UNKNOWN THM STATUS (%d)", code)
	}
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

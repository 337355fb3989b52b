package decoder

import (
	"fmt"

	"github.com/zamazir/THMmonitor/catalog"
	"github.com/zamazir/THMmonitor/errors"
	"github.com/zamazir/THMmonitor/processor/conversion"
	"github.com/zamazir/THMmonitor/telemetry"
)

// Terminator ends every record.
const Terminator = '\n'

// FieldSpec describes one fixed-width field of a record. Convert may be nil,
// in which case the raw integer is emitted unchanged.
//
// Sensor fields placed before the Timestamp field carry the time of the
// previous record.
type FieldSpec struct {
	Name    string
	Width   int
	Kind    conversion.Kind
	Convert conversion.Func
}

// Layout is the ordered, validated field list of one record.
type Layout struct {
	fields     []FieldSpec
	recordSize int
}

// NewLayout validates fields and resolves conversions from their Kind.
func NewLayout(fields []FieldSpec) (*Layout, error) {
	if len(fields) == 0 {
		return nil, invalidLayout("no fields")
	}

	l := &Layout{fields: make([]FieldSpec, len(fields))}
	seenTimestamp := false
	seenName := make(map[string]bool, len(fields))

	for i, f := range fields {
		switch f.Width {
		case 1, 2, 4, 8:
		default:
			return nil, invalidLayout(fmt.Sprintf("field %q has unsupported width %d", f.Name, f.Width))
		}
		if f.Name == "" {
			return nil, invalidLayout(fmt.Sprintf("field %d has no name", i))
		}
		if seenName[f.Name] {
			return nil, invalidLayout(fmt.Sprintf("field %q appears twice", f.Name))
		}
		seenName[f.Name] = true

		switch f.Name {
		case telemetry.FieldTimestamp:
			seenTimestamp = true
		case telemetry.FieldTerminator:
			if i != len(fields)-1 || f.Width != 1 {
				return nil, invalidLayout("line terminator must be the last field and one byte wide")
			}
		case telemetry.FieldStatus:
		default:
			if f.Convert == nil && f.Kind != "" {
				fn, err := conversion.Lookup(f.Kind)
				if err != nil {
					return nil, err
				}
				f.Convert = fn
			}
		}

		l.fields[i] = f
		l.recordSize += f.Width
	}

	if fields[len(fields)-1].Name != telemetry.FieldTerminator {
		return nil, invalidLayout("missing line terminator")
	}
	if !seenTimestamp {
		return nil, invalidLayout("missing timestamp")
	}

	return l, nil
}

// THMLayout is the thermal housekeeping record: a 4 byte timestamp, one
// 2 byte word per catalog sensor, a status byte, and the terminator.
func THMLayout(entries []catalog.Entry) (*Layout, error) {
	fields := make([]FieldSpec, 0, len(entries)+3)
	fields = append(fields, FieldSpec{Name: telemetry.FieldTimestamp, Width: 4})
	for _, e := range entries {
		fields = append(fields, FieldSpec{Name: e.Name, Width: 2, Kind: e.Kind})
	}
	fields = append(fields,
		FieldSpec{Name: telemetry.FieldStatus, Width: 1},
		FieldSpec{Name: telemetry.FieldTerminator, Width: 1},
	)
	return NewLayout(fields)
}

// RecordSize returns the size of one record in bytes.
func (l *Layout) RecordSize() int { return l.recordSize }

// Fields returns a copy of the field list.
func (l *Layout) Fields() []FieldSpec {
	out := make([]FieldSpec, len(l.fields))
	copy(out, l.fields)
	return out
}

// Sensors returns the names of fields that produce readings.
func (l *Layout) Sensors() []string {
	var out []string
	for _, f := range l.fields {
		if !reserved(f.Name) {
			out = append(out, f.Name)
		}
	}
	return out
}

func reserved(name string) bool {
	return name == telemetry.FieldTimestamp || name == telemetry.FieldTerminator || name == telemetry.FieldStatus
}

func invalidLayout(reason string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, reason),
		"decoder", "NewLayout", "validate layout")
}

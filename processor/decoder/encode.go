package decoder

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/zamazir/THMmonitor/errors"
	"github.com/zamazir/THMmonitor/pkg/timestamp"
	"github.com/zamazir/THMmonitor/processor/conversion"
	"github.com/zamazir/THMmonitor/telemetry"
)

// Record is the physical content of one binary record.
type Record struct {
	Time   time.Time
	Status int
	Values map[string]float64
}

// Encode packs records into a buffer using layout. Every sensor of the
// layout needs a value that its conversion can produce.
func Encode(layout *Layout, records []Record) ([]byte, error) {
	buf := make([]byte, 0, layout.RecordSize()*len(records))

	for i, rec := range records {
		for _, f := range layout.fields {
			var raw uint64

			switch f.Name {
			case telemetry.FieldTimestamp:
				raw = timestamp.ToEpochSeconds(rec.Time)
			case telemetry.FieldStatus:
				raw = uint64(rec.Status)
			case telemetry.FieldTerminator:
				raw = Terminator
			default:
				value, ok := rec.Values[f.Name]
				if !ok {
					return nil, errors.WrapInvalid(fmt.Errorf("record %d has no value for %q", i, f.Name),
						"decoder", "Encode", "look up value")
				}
				r, err := encodeValue(f, value)
				if err != nil {
					return nil, errors.Wrap(err, "decoder", "Encode", fmt.Sprintf("encode %q in record %d", f.Name, i))
				}
				raw = r
			}

			if f.Width < 8 && raw >= 1<<(8*f.Width) {
				return nil, errors.WrapInvalid(fmt.Errorf("%w: %d does not fit %d bytes", errors.ErrOutOfRange, raw, f.Width),
					"decoder", "Encode", "pack "+f.Name)
			}
			buf = pack(buf, raw, f.Width)
		}
	}

	return buf, nil
}

func encodeValue(f FieldSpec, value float64) (uint64, error) {
	if f.Kind == "" {
		if value < 0 {
			return 0, fmt.Errorf("%w: %v", errors.ErrOutOfRange, value)
		}
		return uint64(value), nil
	}
	raw, err := conversion.Inverse(f.Kind, value)
	if err != nil {
		return 0, err
	}
	return uint64(raw), nil
}

func pack(buf []byte, v uint64, width int) []byte {
	switch width {
	case 1:
		return append(buf, byte(v))
	case 2:
		return binary.BigEndian.AppendUint16(buf, uint16(v))
	case 4:
		return binary.BigEndian.AppendUint32(buf, uint32(v))
	default:
		return binary.BigEndian.AppendUint64(buf, v)
	}
}

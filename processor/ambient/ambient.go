// Package ambient reads thermal vacuum chamber logs that serve as the
// reference temperature during TVAC testing.
//
// A chamber log has one header line followed by whitespace separated rows
//
//	DD.MM.YYYY HH:MM:SS[.frac] setpoint actual
//
// where numbers may use a comma as decimal separator.
package ambient

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/zamazir/THMmonitor/errors"
	"github.com/zamazir/THMmonitor/pkg/timestamp"
	"github.com/zamazir/THMmonitor/telemetry"
)

// Names under which the reference series are exposed.
const (
	SeriesActual   = "TVAC Ambient"
	SeriesSetpoint = "TVAC Setpoint"
)

// Reference is a parsed chamber log.
type Reference struct {
	Actual []telemetry.Point `json:"actual"`
	// Setpoint holds the first and last point of every constant setpoint
	// run.
	Setpoint []telemetry.Point `json:"setpoint"`
}

// LoadFile parses the chamber log at path.
func LoadFile(path string) (*Reference, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "ambient", "LoadFile", "open chamber log")
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a chamber log.
func Parse(r io.Reader) (*Reference, error) {
	scanner := bufio.NewScanner(r)
	var setpoints []telemetry.Point
	ref := &Reference{}

	line := 0
	for scanner.Scan() {
		line++
		if line == 1 {
			continue
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		cols := strings.Fields(strings.ReplaceAll(text, ",", "."))
		if len(cols) < 4 {
			return nil, badLine(line, "expected 4 columns")
		}
		t, err := timestamp.ParseTVAC(cols[0], cols[1])
		if err != nil {
			return nil, badLine(line, err.Error())
		}
		set, err := strconv.ParseFloat(cols[2], 64)
		if err != nil {
			return nil, badLine(line, err.Error())
		}
		actual, err := strconv.ParseFloat(cols[3], 64)
		if err != nil {
			return nil, badLine(line, err.Error())
		}

		ref.Actual = append(ref.Actual, telemetry.Point{Time: t, Value: actual})
		setpoints = append(setpoints, telemetry.Point{Time: t, Value: set})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.WrapInvalid(err, "ambient", "Parse", "read chamber log")
	}

	ref.Setpoint = setpointEdges(setpoints)
	return ref, nil
}

// setpointEdges keeps the two points around every setpoint change.
func setpointEdges(points []telemetry.Point) []telemetry.Point {
	var out []telemetry.Point
	for i := 0; i+1 < len(points); i++ {
		if points[i+1].Value != points[i].Value {
			out = append(out, points[i], points[i+1])
		}
	}
	return out
}

func badLine(line int, reason string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: line %d: %s", errors.ErrDecodeFailed, line, reason),
		"ambient", "Parse", "parse chamber log")
}

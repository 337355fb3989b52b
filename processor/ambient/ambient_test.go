package ambient

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zamazir/THMmonitor/errors"
)

const chamberLog = `Datum Zeit Soll Ist
14.07.2017 02:40:00.25 20,0 19,8
14.07.2017 02:41:00 20,0 19,9
14.07.2017 02:42:00 -40,0 15,1

14.07.2017 02:43:00 -40,0 2,5
14.07.2017 02:44:00 -40,0 -10,0
14.07.2017 02:45:00 80,0 -20,0
`

func TestParse(t *testing.T) {
	ref, err := Parse(strings.NewReader(chamberLog))
	require.NoError(t, err)

	require.Len(t, ref.Actual, 6)
	assert.Equal(t, time.Date(2017, 7, 14, 2, 40, 0, 250_000_000, time.UTC), ref.Actual[0].Time)
	assert.Equal(t, 19.8, ref.Actual[0].Value)
	assert.Equal(t, -20.0, ref.Actual[5].Value)

	var values []float64
	var minutes []int
	for _, p := range ref.Setpoint {
		values = append(values, p.Value)
		minutes = append(minutes, p.Time.Minute())
	}
	assert.Equal(t, []float64{20, -40, -40, 80}, values)
	assert.Equal(t, []int{41, 42, 44, 45}, minutes)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"too few columns", "header\n14.07.2017 02:40:00 20,0\n"},
		{"bad date", "header\n2017-07-14 02:40:00 20,0 19,8\n"},
		{"bad number", "header\n14.07.2017 02:40:00 warm 19,8\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.body))
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tvac.txt")
	require.NoError(t, os.WriteFile(path, []byte(chamberLog), 0o600))

	ref, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, ref.Actual, 6)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestParse_HeaderOnly(t *testing.T) {
	ref, err := Parse(strings.NewReader("header only\n"))
	require.NoError(t, err)
	assert.Empty(t, ref.Actual)
	assert.Empty(t, ref.Setpoint)
}

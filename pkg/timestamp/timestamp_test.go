package timestamp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEpochSeconds(t *testing.T) {
	ts := FromEpochSeconds(1500000000)
	assert.Equal(t, time.Date(2017, 7, 14, 2, 40, 0, 0, time.UTC), ts)
	assert.Equal(t, uint64(1500000000), ToEpochSeconds(ts))
	assert.Equal(t, uint64(0), ToEpochSeconds(time.Unix(-5, 0)))
}

func TestParseBeacon(t *testing.T) {
	want := time.Date(2017, 7, 14, 2, 40, 0, 0, time.UTC)

	tests := []struct {
		name  string
		input any
	}{
		{"beacon layout", "2017-07-14T02:40:00"},
		{"rfc3339", "2017-07-14T04:40:00+02:00"},
		{"epoch seconds float", float64(1500000000)},
		{"epoch seconds string", "1500000000"},
		{"epoch millis", int64(1500000000000)},
		{"time value", want},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBeacon(tt.input)
			require.NoError(t, err)
			assert.True(t, want.Equal(got), "got %v", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestParseBeacon_Invalid(t *testing.T) {
	for _, input := range []any{nil, "", "yesterday", -1.0, true} {
		_, err := ParseBeacon(input)
		assert.Error(t, err, "input %v", input)
	}
}

func TestParseTVAC(t *testing.T) {
	got, err := ParseTVAC("24.03.2017", "13:45:02.5")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2017, 3, 24, 13, 45, 2, 500000000, time.UTC), got)

	got, err = ParseTVAC("24.03.2017", "13:45:02")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2017, 3, 24, 13, 45, 2, 0, time.UTC), got)

	_, err = ParseTVAC("2017-03-24", "13:45:02")
	assert.Error(t, err)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "2017-07-14T02:40:00", FormatBeacon(time.Date(2017, 7, 14, 2, 40, 0, 0, time.UTC)))
	assert.Equal(t, "12.5", Seconds(12500*time.Millisecond))
}

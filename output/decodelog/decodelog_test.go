package decodelog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zamazir/THMmonitor/errors"
)

var received = time.Date(2017, 7, 14, 2, 40, 0, 0, time.UTC)

func TestConfig_Validate(t *testing.T) {
	cfg := Config{}
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	cfg = DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestOpen_AppendsAcrossSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "rawdata.log")
	cfg := Config{Path: path, Append: true}

	first, err := Open(cfg)
	require.NoError(t, err)
	first.Beacon("THM", map[string]any{"B": 2.0, "A": 1.0}, received)
	require.NoError(t, first.Close())

	second, err := Open(cfg)
	require.NoError(t, err)
	second.Frame("THM", []byte{0x59, 0x68, '\n'}, received)
	lines, _ := second.Stats()
	assert.Equal(t, int64(1), lines)
	require.NoError(t, second.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "msg=beacon routing_key=THM")
	assert.Regexp(t, `A=1 B=2`, text)
	assert.Contains(t, text, "hex=59680a")
}

func TestOpen_Truncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rawdata.log")
	require.NoError(t, os.WriteFile(path, []byte("old session\n"), 0o600))

	l, err := Open(Config{Path: path})
	require.NoError(t, err)
	l.File("/data/thm.bin", 84)
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "old session")
	assert.Contains(t, string(data), "size=84")
}

func TestTraceLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rawdata.log")

	l, err := Open(Config{Path: path, Trace: false})
	require.NoError(t, err)
	assert.False(t, l.Tracing())
	l.Logger().Debug("field", "name", "Board")
	l.Note("status", "code", 0)
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "name=Board")
	assert.Contains(t, string(data), "code=0")

	traced, err := Open(Config{Path: filepath.Join(t.TempDir(), "trace.log"), Trace: true})
	require.NoError(t, err)
	defer traced.Close()
	assert.True(t, traced.Tracing())
	assert.False(t, Discard().Tracing())
}

func TestDiscardAndDoubleClose(t *testing.T) {
	l := Discard()
	l.Beacon("THM", map[string]any{"A": 1.0}, received)
	lines, bytes := l.Stats()
	assert.Zero(t, lines)
	assert.Zero(t, bytes)
	assert.NoError(t, l.Close())

	path := filepath.Join(t.TempDir(), "rawdata.log")
	f, err := Open(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.NoError(t, f.Close())
}

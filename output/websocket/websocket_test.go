package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zamazir/THMmonitor/errors"
	"github.com/zamazir/THMmonitor/metric"
	"github.com/zamazir/THMmonitor/output/events"
	"github.com/zamazir/THMmonitor/telemetry"
)

func newTestBroadcaster(t *testing.T, cfg Config, registry *metric.MetricsRegistry) (*Broadcaster, *httptest.Server) {
	t.Helper()
	b, err := NewBroadcaster(cfg, nil, registry)
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))

	srv := httptest.NewServer(b)
	t.Cleanup(func() {
		srv.Close()
		_ = b.Stop(time.Second)
	})
	return b, srv
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.WriteTimeout = 0
	err := cfg.Validate()
	assert.True(t, errors.IsInvalid(err))

	_, err = NewBroadcaster(Config{WriteTimeout: time.Second}, nil, nil)
	assert.Error(t, err)
}

func TestBroadcast(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	b, srv := newTestBroadcaster(t, DefaultConfig(), registry)

	c1 := dial(t, srv, nil)
	c2 := dial(t, srv, nil)
	require.Eventually(t, func() bool { return b.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	e := events.Alarm(telemetry.StateReading{Sensor: "THM System State", State: telemetry.StateWarning}, time.Now())
	require.NoError(t, b.Handle(context.Background(), e))

	for _, c := range []*websocket.Conn{c1, c2} {
		require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := c.ReadMessage()
		require.NoError(t, err)

		var env MessageEnvelope
		require.NoError(t, json.Unmarshal(data, &env))
		assert.Equal(t, "event", env.Type)
		assert.Equal(t, e.ID, env.ID)

		var got events.Event
		require.NoError(t, json.Unmarshal(env.Payload, &got))
		assert.Equal(t, events.KindAlarm, got.Kind)
		require.NotNil(t, got.State)
		assert.Equal(t, telemetry.StateWarning, *got.State)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(b.metrics.messagesSent.WithLabelValues(string(events.KindAlarm))))
	assert.Equal(t, 2.0, testutil.ToFloat64(b.metrics.connectionTotal))
}

func TestClosedClientRemoved(t *testing.T) {
	b, srv := newTestBroadcaster(t, DefaultConfig(), nil)

	c := dial(t, srv, nil)
	require.Eventually(t, func() bool { return b.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Close())
	require.Eventually(t, func() bool { return b.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)

	assert.NoError(t, b.Handle(context.Background(), events.FeedStatus(false, "ok", time.Now())))
}

func TestAllowedOrigins(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowedOrigins = []string{"http://ops.example"}
	_, srv := newTestBroadcaster(t, cfg, nil)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	dial(t, srv, http.Header{"Origin": {"http://ops.example"}})
}

func TestStop(t *testing.T) {
	b, err := NewBroadcaster(DefaultConfig(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	assert.ErrorIs(t, b.Start(context.Background()), errors.ErrAlreadyStarted)

	srv := httptest.NewServer(b)
	defer srv.Close()
	c := dial(t, srv, nil)
	require.Eventually(t, func() bool { return b.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, b.Stop(2*time.Second))
	assert.Zero(t, b.ClientCount())

	require.NoError(t, c.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err = c.ReadMessage()
	assert.Error(t, err)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

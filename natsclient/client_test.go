package natsclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zamazir/THMmonitor/errors"
	"github.com/zamazir/THMmonitor/metric"
)

func TestNewClient(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", client.URL())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())
	assert.Equal(t, -1, client.MaxReconnects())
	assert.Equal(t, 2*time.Second, client.ReconnectWait())
	assert.NotEmpty(t, client.ConnectionOptions())
}

func TestConnectionStatus_String(t *testing.T) {
	tests := map[ConnectionStatus]string{
		StatusDisconnected:   "disconnected",
		StatusConnecting:     "connecting",
		StatusConnected:      "connected",
		StatusReconnecting:   "reconnecting",
		StatusCircuitOpen:    "circuit_open",
		ConnectionStatus(42): "unknown",
	}
	for status, want := range tests {
		assert.Equal(t, want, status.String())
	}
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	client, err := NewClient("nats://invalid:4222")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		client.recordFailure()
	}
	assert.NotEqual(t, StatusCircuitOpen, client.Status())

	client.recordFailure()
	assert.Equal(t, StatusCircuitOpen, client.Status())
	assert.Equal(t, int32(5), client.Failures())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	require.Equal(t, StatusCircuitOpen, client.Status())

	client.resetCircuit()
	assert.Zero(t, client.Failures())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.Equal(t, time.Second, client.Backoff())
}

func TestCircuitBreaker_ExponentialBackoff(t *testing.T) {
	client, err := NewClient("nats://localhost:4222", WithMaxBackoff(4*time.Second))
	require.NoError(t, err)
	assert.Equal(t, time.Second, client.Backoff())

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 2*time.Second, client.Backoff())

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 4*time.Second, client.Backoff())

	// Capped by WithMaxBackoff.
	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 4*time.Second, client.Backoff())
}

func TestCircuitBreaker_Threshold(t *testing.T) {
	client, err := NewClient("nats://localhost:4222", WithCircuitBreakerThreshold(2))
	require.NoError(t, err)

	client.recordFailure()
	client.recordFailure()
	assert.Equal(t, StatusCircuitOpen, client.Status())

	// Invalid thresholds fall back to the default.
	client, err = NewClient("nats://localhost:4222", WithCircuitBreakerThreshold(0))
	require.NoError(t, err)
	assert.Equal(t, int32(5), client.circuitThreshold)
}

func TestConnect_CircuitOpenFailsFast(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		client.recordFailure()
	}

	err = client.Connect(context.Background())
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, errors.IsTransient(err))
}

func TestConnect_Unreachable(t *testing.T) {
	client, err := NewClient("nats://127.0.0.1:1",
		WithTimeout(100*time.Millisecond),
		WithMaxReconnects(0),
		WithHealthInterval(0),
	)
	require.NoError(t, err)

	err = client.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, int32(1), client.Failures())
	assert.Equal(t, StatusDisconnected, client.Status())
}

func TestNotConnected(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	ctx := context.Background()

	assert.ErrorIs(t, client.Publish(ctx, "a", nil), ErrNotConnected)
	assert.ErrorIs(t, client.Subscribe(ctx, "a", func(context.Context, string, []byte) {}), ErrNotConnected)
	assert.ErrorIs(t, client.PublishToStream(ctx, "a", nil), ErrNotConnected)
	assert.ErrorIs(t, client.ConsumeStream(ctx, "S", "a", "", func(context.Context, string, []byte) {}), ErrNotConnected)

	_, err = client.RTT()
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = client.JetStream()
	assert.Error(t, err)
}

func TestWaitForConnection(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err = client.WaitForConnection(ctx)
	assert.ErrorIs(t, err, errors.ErrConnectionTimeout)

	client.setStatus(StatusConnected)
	assert.NoError(t, client.WaitForConnection(context.Background()))
}

func TestClose_Idempotent(t *testing.T) {
	client, err := NewClient("nats://localhost:4222", WithCredentials("u", "p"), WithToken("tok"))
	require.NoError(t, err)

	require.NoError(t, client.Close(context.Background()))
	require.NoError(t, client.Close(context.Background()))
	assert.Empty(t, client.username)
	assert.Empty(t, client.token)

	err = client.Connect(context.Background())
	assert.ErrorIs(t, err, errors.ErrShuttingDown)
}

func TestGetStatus(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		client.recordFailure()
	}
	status := client.GetStatus()
	assert.Equal(t, int32(3), status.FailureCount)
	assert.Equal(t, StatusDisconnected, status.Status)
	assert.NotZero(t, status.LastFailureTime)

	client.resetCircuit()
	assert.Zero(t, client.GetStatus().FailureCount)
}

func TestMetricsReporting(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	client, err := NewClient("nats://localhost:4222", WithMetrics(registry))
	require.NoError(t, err)
	core := registry.CoreMetrics()

	client.setStatus(StatusConnected)
	assert.Equal(t, 1.0, testutil.ToFloat64(core.NATSConnected))

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(core.NATSCircuitBreaker))
	assert.Equal(t, 0.0, testutil.ToFloat64(core.NATSConnected))

	client.testCircuit()
	assert.Equal(t, 2.0, testutil.ToFloat64(core.NATSCircuitBreaker))

	client.handleReconnect(nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(core.NATSReconnects))
	assert.Equal(t, int32(1), client.GetStatus().Reconnects)
}

func TestHealthCallbacks(t *testing.T) {
	var mu sync.Mutex
	var got []bool
	done := make(chan struct{}, 2)

	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	client.OnHealthChange(func(healthy bool) {
		mu.Lock()
		got = append(got, healthy)
		mu.Unlock()
		done <- struct{}{}
	})

	client.handleDisconnect(nil, assert.AnError)
	<-done
	assert.Equal(t, StatusReconnecting, client.Status())

	client.handleReconnect(nil)
	<-done
	assert.Equal(t, StatusConnected, client.Status())

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []bool{false, true}, got)
}

func TestConcurrentFailures(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client.recordFailure()
			_ = client.Status()
			_ = client.GetStatus()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(50), client.Failures())
	assert.Equal(t, StatusCircuitOpen, client.Status())
}

package component

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	stderrors "errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zamazir/THMmonitor/errors"
)

// LifecycleFactory creates a new instance of a LifecycleComponent for testing
type LifecycleFactory func() LifecycleComponent

// StandardLifecycleTests runs the lifecycle contract every component of the
// monitor must honor:
//   - Stop is safe before Start and idempotent after it
//   - a second Start reports ErrAlreadyStarted
//   - Start with a done context fails with the context error
//   - concurrent Start and Stop never panic and leave the component stoppable
//   - repeated create/start/stop cycles leak no goroutines
func StandardLifecycleTests(t *testing.T, factory LifecycleFactory) {
	t.Run("Compliance", func(t *testing.T) {
		testLifecycleCompliance(t, factory)
	})
	t.Run("ErrorPaths", func(t *testing.T) {
		testErrorPaths(t, factory)
	})
	t.Run("Concurrent", func(t *testing.T) {
		testConcurrentStartStop(t, factory)
	})
	t.Run("NoLeaks", func(t *testing.T) {
		testNoResourceLeaks(t, factory)
	})
}

// testLifecycleCompliance tests standard lifecycle state transitions
func testLifecycleCompliance(t *testing.T, factory LifecycleFactory) {
	tests := []struct {
		name string
		test func(t *testing.T, comp LifecycleComponent)
	}{
		{"Start", testStart},
		{"DoubleStart", testDoubleStart},
		{"DoubleStop", testDoubleStop},
		{"StopWithoutStart", testStopWithoutStart},
		{"StartAfterStop", testStartAfterStop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			comp := factory()
			require.NotNil(t, comp, "Component factory returned nil")
			tt.test(t, comp)
		})
	}
}

func startComponent(t *testing.T, comp LifecycleComponent) {
	t.Helper()
	require.NoError(t, comp.Initialize(), "Initialize must succeed on a fresh component")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	require.NoError(t, comp.Start(ctx), "Start should succeed after Initialize")
}

func testStart(t *testing.T, comp LifecycleComponent) {
	startComponent(t, comp)
	assert.True(t, comp.Health().Healthy, "Started component should report healthy")

	assert.NoError(t, comp.Stop(5*time.Second), "Stop should succeed after Start")
	assert.False(t, comp.Health().Healthy, "Stopped component should report unhealthy")
}

func testDoubleStart(t *testing.T, comp LifecycleComponent) {
	startComponent(t, comp)

	err := comp.Start(context.Background())
	assert.True(t, stderrors.Is(err, errors.ErrAlreadyStarted), "Second Start should report ErrAlreadyStarted, got %v", err)

	assert.NoError(t, comp.Stop(5*time.Second), "Stop should succeed")
}

func testDoubleStop(t *testing.T, comp LifecycleComponent) {
	startComponent(t, comp)

	assert.NoError(t, comp.Stop(5*time.Second), "First Stop should succeed")
	assert.NoError(t, comp.Stop(5*time.Second), "Second Stop should be idempotent")
}

func testStopWithoutStart(t *testing.T, comp LifecycleComponent) {
	assert.NoError(t, comp.Stop(5*time.Second), "Stop should be safe to call without Start")
}

func testStartAfterStop(t *testing.T, comp LifecycleComponent) {
	startComponent(t, comp)
	require.NoError(t, comp.Stop(5*time.Second), "Stop should succeed")

	// Restart support is component specific; either way the component must
	// stay stoppable.
	if err := comp.Start(context.Background()); err != nil {
		t.Logf("Restart refused: %v", err)
	}
	assert.NoError(t, comp.Stop(5*time.Second), "Final Stop should succeed")
}

// testErrorPaths tests error scenarios and edge cases
func testErrorPaths(t *testing.T, factory LifecycleFactory) {
	tests := []struct {
		name string
		ctx  func() (context.Context, context.CancelFunc)
		want error
	}{
		{
			name: "cancelled_context_on_start",
			ctx: func() (context.Context, context.CancelFunc) {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx, cancel
			},
			want: context.Canceled,
		},
		{
			name: "expired_context_on_start",
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
			},
			want: context.DeadlineExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			comp := factory()
			require.NotNil(t, comp, "Component factory returned nil")
			require.NoError(t, comp.Initialize())

			ctx, cancel := tt.ctx()
			defer cancel()
			err := comp.Start(ctx)
			assert.ErrorIs(t, err, tt.want)

			assert.NoError(t, comp.Stop(5*time.Second), "Component should be stoppable after error test")
		})
	}
}

func testConcurrentStartStop(t *testing.T, factory LifecycleFactory) {
	comp := factory()
	require.NotNil(t, comp, "Component factory returned nil")
	require.NoError(t, comp.Initialize(), "Initialize must succeed")

	var wg sync.WaitGroup
	errs := make([]error, 20)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			errs[idx] = comp.Start(ctx)
		}(i)
	}
	for i := 10; i < 20; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			time.Sleep(10 * time.Millisecond) // Give starts a chance
			errs[idx] = comp.Stop(5 * time.Second)
		}(i)
	}
	wg.Wait()

	starts := 0
	for _, err := range errs[:10] {
		if err == nil {
			starts++
		}
	}
	assert.LessOrEqual(t, starts, 1, "At most one concurrent Start may succeed")

	assert.NoError(t, comp.Stop(5*time.Second))
}

// testNoResourceLeaks tests for goroutine leaks
func testNoResourceLeaks(t *testing.T, factory LifecycleFactory) {
	if testing.Short() {
		t.Skip("Skipping resource leak test in short mode")
	}

	runtime.GC()
	time.Sleep(100 * time.Millisecond)
	initialGoroutines := runtime.NumGoroutine()

	const iterations = 100
	for i := 0; i < iterations; i++ {
		comp := factory()
		require.NotNil(t, comp, "Component factory returned nil")

		if i%2 == 0 {
			// Never started
			assert.NoError(t, comp.Stop(time.Second))
			continue
		}
		require.NoError(t, comp.Initialize())
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := comp.Start(ctx); err != nil {
			t.Logf("Start failed on iteration %d: %v", i, err)
		}
		assert.NoError(t, comp.Stop(5*time.Second))
		cancel()
	}

	// Goroutines exit asynchronously after Stop returns
	assert.Eventually(t, func() bool {
		runtime.GC()
		return runtime.NumGoroutine()-initialGoroutines <= 5
	}, 2*time.Second, 50*time.Millisecond,
		"Goroutine count grew (initial: %d, final: %d)", initialGoroutines, runtime.NumGoroutine())
}

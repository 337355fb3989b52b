package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry_Success(t *testing.T) {
	cfg := Config{
		MaxAttempts:  3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
	}

	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("broker unavailable")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_AllAttemptsFail(t *testing.T) {
	cfg := Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		return errors.New("down")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry failed after 3 attempts")
	assert.Equal(t, 3, attempts)
}

func TestRetry_NonRetryable(t *testing.T) {
	attempts := 0
	base := errors.New("bad credentials")
	err := Do(context.Background(), Fixed(time.Millisecond), func() error {
		attempts++
		return NonRetryable(base)
	})

	assert.True(t, IsNonRetryable(err))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, 1, attempts)
}

func TestRetry_FixedUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var delays []time.Duration
	cfg := Fixed(2 * time.Millisecond)
	cfg.OnRetry = func(attempt int, _ error, delay time.Duration) {
		delays = append(delays, delay)
		if attempt == 5 {
			cancel()
		}
	}

	attempts := 0
	err := Do(ctx, cfg, func() error {
		attempts++
		return errors.New("connection refused")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 5, attempts)
	for _, d := range delays {
		assert.Equal(t, 2*time.Millisecond, d)
	}
}

func TestRetry_InvalidConfig(t *testing.T) {
	noop := func() error { return nil }

	assert.Error(t, Do(context.Background(), Config{InitialDelay: -1}, noop))
	assert.Error(t, Do(context.Background(), Config{MaxDelay: -1}, noop))
	assert.Error(t, Do(context.Background(), Config{Multiplier: -1}, noop))
	assert.Error(t, Do(context.Background(), Config{InitialDelay: time.Second, MaxDelay: time.Millisecond}, noop))
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	v, err := DoWithResult(context.Background(), Quick(), func() (int, error) {
		attempts++
		if attempts == 1 {
			return 0, errors.New("temporary")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastConfig keeps test runtimes short and, with jitter off, predictable.
func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
		AddJitter:    false,
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoExhaustsAttempts(t *testing.T) {
	boom := errors.New("still broken")
	attempts := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		attempts++
		return boom
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	boom := errors.New("bad request")
	attempts := 0
	err := Do(context.Background(), fastConfig(5), func() error {
		attempts++
		return NonRetryable(boom)
	})

	require.Error(t, err)
	assert.True(t, IsNonRetryable(err))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts, "non-retryable errors must not be retried")
}

func TestNonRetryableNilStaysNil(t *testing.T) {
	assert.NoError(t, NonRetryable(nil))
	assert.False(t, IsNonRetryable(errors.New("plain")))
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}

	attempts := 0
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, cfg, func() error {
		attempts++
		return errors.New("fail")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry cancelled")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, attempts, 5)
}

func TestDoCancelledBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := Do(ctx, fastConfig(3), func() error {
		attempts++
		return nil
	})

	require.Error(t, err)
	assert.Zero(t, attempts)
}

func TestDoBackoffTiming(t *testing.T) {
	start := time.Now()
	attempts := 0

	_ = Do(context.Background(), fastConfig(4), func() error {
		attempts++
		return errors.New("fail")
	})

	elapsed := time.Since(start)

	// Delays without jitter: 10ms + 20ms + 40ms = 70ms.
	assert.GreaterOrEqual(t, elapsed, 70*time.Millisecond)
	assert.Less(t, elapsed, 300*time.Millisecond)
	assert.Equal(t, 4, attempts)
}

func TestDoCapsDelayAtMax(t *testing.T) {
	cfg := Config{
		MaxAttempts:  4,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     25 * time.Millisecond,
		Multiplier:   10.0,
	}

	start := time.Now()
	_ = Do(context.Background(), cfg, func() error {
		return errors.New("fail")
	})
	elapsed := time.Since(start)

	// Delays: 10ms, then 25ms capped twice = 60ms.
	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
	assert.Less(t, elapsed, 300*time.Millisecond)
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	value, err := DoWithResult(context.Background(), fastConfig(3), func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("not ready")
		}
		return "ready", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ready", value)
	assert.Equal(t, 3, attempts)
}

func TestDoWithResultReturnsZeroOnFailure(t *testing.T) {
	value, err := DoWithResult(context.Background(), fastConfig(2), func() (int, error) {
		return 42, errors.New("fail")
	})

	require.Error(t, err)
	assert.Zero(t, value)
}

func TestPresetConfigs(t *testing.T) {
	tests := []struct {
		name         string
		cfg          Config
		attempts     int
		initialDelay time.Duration
		maxDelay     time.Duration
	}{
		{"default", DefaultConfig(), 3, 100 * time.Millisecond, 5 * time.Second},
		{"quick", Quick(), 10, 50 * time.Millisecond, time.Second},
		{"persistent", Persistent(), 30, 200 * time.Millisecond, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.attempts, tt.cfg.MaxAttempts)
			assert.Equal(t, tt.initialDelay, tt.cfg.InitialDelay)
			assert.Equal(t, tt.maxDelay, tt.cfg.MaxDelay)
			assert.True(t, tt.cfg.AddJitter)
		})
	}
}

func TestDoZeroConfigRunsOnce(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Config{}, func() error {
		attempts++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDoRejectsNegativeDelays(t *testing.T) {
	err := Do(context.Background(), Config{InitialDelay: -time.Second}, func() error {
		t.Fatal("operation must not run with an invalid config")
		return nil
	})

	require.Error(t, err)
}

func TestNormalizeRaisesMaxDelayToInitial(t *testing.T) {
	cfg, err := Config{
		InitialDelay: time.Second,
		MaxDelay:     time.Millisecond,
	}.normalize()

	require.NoError(t, err)
	assert.Equal(t, time.Second, cfg.MaxDelay)
}

//go:build unit

package backoff

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponential(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		base     time.Duration
		attempt  int
		expected time.Duration
	}{
		{"attempt 0 returns base", 100 * time.Millisecond, 0, 100 * time.Millisecond},
		{"attempt 3 is 8x base", 100 * time.Millisecond, 3, 800 * time.Millisecond},
		{"negative attempt treated as 0", 100 * time.Millisecond, -5, 100 * time.Millisecond},
		{"zero base returns 0", 0, 5, 0},
		{"overflow saturates", time.Hour, 200, time.Duration(math.MaxInt64)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, Exponential(tt.base, tt.attempt))
		})
	}
}

func TestFullJitter_Range(t *testing.T) {
	t.Parallel()

	assert.Zero(t, FullJitter(0))
	assert.Zero(t, FullJitter(-time.Second))

	for i := 0; i < 100; i++ {
		d := FullJitter(10 * time.Millisecond)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, 10*time.Millisecond)
	}
}

func TestPolicy_DelayCapped(t *testing.T) {
	t.Parallel()

	p := Policy{Base: time.Second, Max: 50 * time.Millisecond, Attempts: 3}
	for i := 0; i < 20; i++ {
		assert.Less(t, p.Delay(10), 50*time.Millisecond)
	}
}

func TestSleepWithContext_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := SleepWithContext(ctx, time.Hour)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, SleepWithContext(ctx, 0))
}

func TestRetry(t *testing.T) {
	t.Parallel()

	fast := Policy{Base: time.Microsecond, Max: time.Millisecond, Attempts: 4}
	boom := errors.New("boom")

	t.Run("succeeds after transient failures", func(t *testing.T) {
		t.Parallel()

		calls := 0
		err := Retry(context.Background(), fast, func(context.Context) error {
			calls++
			if calls < 3 {
				return boom
			}

			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("exhausts attempts", func(t *testing.T) {
		t.Parallel()

		calls := 0
		err := Retry(context.Background(), fast, func(context.Context) error {
			calls++
			return boom
		})

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAttemptsExhausted)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 4, calls)
	})

	t.Run("permanent error stops immediately", func(t *testing.T) {
		t.Parallel()

		calls := 0
		err := Retry(context.Background(), fast, func(context.Context) error {
			calls++
			return Permanent(boom)
		})

		assert.Same(t, boom, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("zero attempts still calls once", func(t *testing.T) {
		t.Parallel()

		calls := 0
		_ = Retry(context.Background(), Policy{}, func(context.Context) error {
			calls++
			return boom
		})

		assert.Equal(t, 1, calls)
	})
}

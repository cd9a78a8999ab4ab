package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(max int) Policy {
	return Policy{
		MaxAttempts:    max,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	calls := 0
	retries, err := Do(context.Background(), fastPolicy(3), func(_ context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, retries)
}

func TestDo_TwoTransientFailuresThenSuccess(t *testing.T) {
	calls := 0
	retries, err := Do(context.Background(), fastPolicy(3), func(_ context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("connection reset"), 0)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, retries)
}

func TestDo_AttemptsNeverExceedMax(t *testing.T) {
	for _, max := range []int{1, 2, 3, 5} {
		calls := 0
		retries, err := Do(context.Background(), fastPolicy(max), func(_ context.Context) error {
			calls++
			return NewTransientError(errors.New("503"), 503)
		})
		require.Error(t, err)
		assert.Equal(t, max, calls)
		assert.Equal(t, max-1, retries)
	}
}

func TestDo_PermanentErrorNotRetried(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(3), func(_ context.Context) error {
		calls++
		return &StatusError{StatusCode: 404, URL: "http://x"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_CustomRetryable(t *testing.T) {
	calls := 0
	p := fastPolicy(3).WithRetryable(func(err error) bool { return err.Error() == "again" })
	_, err := Do(context.Background(), p, func(_ context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("again")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_CancelStopsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := fastPolicy(5)
	p.Sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}
	calls := 0
	_, err := Do(ctx, p, func(_ context.Context) error {
		calls++
		return NewTransientError(errors.New("fail"), 500)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := Do(ctx, fastPolicy(3), func(_ context.Context) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestDo_OnRetryDelaysGrowAndCap(t *testing.T) {
	var delays []time.Duration
	p := Policy{
		MaxAttempts:    5,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     25 * time.Millisecond,
		Multiplier:     2.0,
		OnRetry:        func(_ int, _ error, d time.Duration) { delays = append(delays, d) },
		Sleep:          func(context.Context, time.Duration) error { return nil },
	}
	_, _ = Do(context.Background(), p, func(_ context.Context) error {
		return NewTransientError(errors.New("fail"), 502)
	})
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 25 * time.Millisecond, 25 * time.Millisecond}, delays)
}

func TestComputeBackoff_JitterBounds(t *testing.T) {
	p := applyDefaults(Policy{InitialBackoff: 100 * time.Millisecond, JitterFraction: 0.5, MaxBackoff: time.Second})
	for i := 0; i < 100; i++ {
		d := computeBackoff(0, p)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestDoVal_ReturnsValue(t *testing.T) {
	calls := 0
	val, retries, err := DoVal(context.Background(), fastPolicy(3), func(_ context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", NewTransientError(errors.New("fail"), 500)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", val)
	assert.Equal(t, 1, retries)
}

func TestFromConfig(t *testing.T) {
	p := FromConfig(4, 200, 1000, 0)
	assert.Equal(t, 4, p.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, p.InitialBackoff)
	assert.Equal(t, time.Second, p.MaxBackoff)
	assert.Zero(t, p.JitterFraction)

	d := FromConfig(0, 0, 0, -1)
	assert.Equal(t, DefaultPolicy().MaxAttempts, d.MaxAttempts)
	assert.Equal(t, DefaultPolicy().JitterFraction, d.JitterFraction)
}

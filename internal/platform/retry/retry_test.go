package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JannisRoesner/PICARD-sub000/internal/platform/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastPolicy = retry.Policy{
	MaxAttempts:      3,
	InitialBackoff:   time.Millisecond,
	RateLimitBackoff: 2 * time.Millisecond,
}

var errTransient = errors.New("transient")

func TestDo_SuccessFirstAttempt(t *testing.T) {
	calls := 0
	val, err := retry.Do(context.Background(), fastPolicy, retry.Always, func(context.Context) (int, error) {
		calls++
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, val)
	assert.Equal(t, 1, calls)
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	calls := 0
	var backoffs []time.Duration
	p := fastPolicy
	p.OnRetry = func(_ int, _ error, b time.Duration) { backoffs = append(backoffs, b) }

	err := retry.DoVoid(context.Background(), p, retry.Always, func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, backoffs)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := retry.DoVoid(context.Background(), fastPolicy, retry.Always, func(context.Context) error {
		calls++
		return errTransient
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errTransient)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, calls)
}

func TestDo_StopIsPermanent(t *testing.T) {
	calls := 0
	err := retry.DoVoid(context.Background(), fastPolicy, func(error) retry.Action { return retry.Stop }, func(context.Context) error {
		calls++
		return errTransient
	})
	var perm *retry.PermanentError
	require.ErrorAs(t, err, &perm)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, calls)
}

func TestDo_AfterUsesLongerBackoff(t *testing.T) {
	var got []time.Duration
	p := fastPolicy
	p.MaxAttempts = 2
	p.OnRetry = func(_ int, _ error, b time.Duration) { got = append(got, b) }

	_ = retry.DoVoid(context.Background(), p, func(error) retry.Action { return retry.After }, func(context.Context) error {
		return errTransient
	})
	assert.Equal(t, []time.Duration{2 * time.Millisecond}, got)
}

func TestDo_MaxBackoffCaps(t *testing.T) {
	var got []time.Duration
	p := retry.Policy{
		MaxAttempts:    5,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		OnRetry:        func(_ int, _ error, b time.Duration) { got = append(got, b) },
	}

	_ = retry.DoVoid(context.Background(), p, retry.Always, func(context.Context) error { return errTransient })
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 2 * time.Millisecond, 2 * time.Millisecond}, got)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := retry.Policy{InitialBackoff: time.Hour}

	calls := 0
	err := retry.DoVoid(ctx, p, retry.Always, func(context.Context) error {
		calls++
		cancel()
		return errTransient
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

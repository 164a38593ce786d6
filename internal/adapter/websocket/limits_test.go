package websocket

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestConnectionLimits_Global(t *testing.T) {
	l := NewConnectionLimits(clockwork.NewFakeClock(), 2, 10, 100, 100)

	ok, _ := l.Acquire("10.0.0.1")
	assert.True(t, ok)
	ok, _ = l.Acquire("10.0.0.2")
	assert.True(t, ok)

	ok, reason := l.Acquire("10.0.0.3")
	assert.False(t, ok)
	assert.Equal(t, LimitReasonGlobal, reason)

	l.Release("10.0.0.1")
	ok, _ = l.Acquire("10.0.0.3")
	assert.True(t, ok)
}

func TestConnectionLimits_PerIPRollsBackGlobal(t *testing.T) {
	l := NewConnectionLimits(clockwork.NewFakeClock(), 10, 1, 100, 100)

	ok, _ := l.Acquire("10.0.0.1")
	assert.True(t, ok)

	ok, reason := l.Acquire("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, LimitReasonPerIP, reason)
	assert.Equal(t, int64(1), l.Current())

	l.Release("10.0.0.1")
	assert.Equal(t, 0, l.CountIP("10.0.0.1"))
	assert.Equal(t, int64(0), l.Current())
}

func TestConnectionLimits_RateRefillsWithClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewConnectionLimits(clock, 100, 100, 1, 2)

	for range 2 {
		ok, _ := l.Acquire("10.0.0.1")
		assert.True(t, ok)
	}
	ok, reason := l.Acquire("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, LimitReasonRate, reason)

	ok, _ = l.Acquire("10.0.0.2")
	assert.True(t, ok, "rate is tracked per IP")

	clock.Advance(time.Second)
	ok, _ = l.Acquire("10.0.0.1")
	assert.True(t, ok)
}

func TestConnectionLimits_ForgetsIdleRateLimiters(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewConnectionLimits(clock, 100, 100, 1, 1)

	l.Acquire("10.0.0.1")
	clock.Advance(rateLimiterIdleTTL + rateLimiterCleanupEvery)
	l.Acquire("10.0.0.2")

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.limiters, "10.0.0.1")
	assert.Contains(t, l.limiters, "10.0.0.2")
}

func TestConnectionLimits_ConcurrentAcquire(t *testing.T) {
	l := NewConnectionLimits(clockwork.NewFakeClock(), 50, 1000, 10000, 10000)

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Acquire("10.0.0.1"); ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, granted)
	assert.Equal(t, int64(50), l.Current())
}

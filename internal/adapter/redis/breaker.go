package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/JannisRoesner/PICARD-sub000/internal/adapter/metrics"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	goredis "github.com/redis/go-redis/v9"
)

const breakerFailureThreshold = 5

// Breaker is a go-redis hook that stops talking to Redis after repeated
// failures. While it is open every dial, command and pipeline fails with an
// error matched by IsOpen, and the relay and the pointer cache fall back to
// this instance alone.
type Breaker struct {
	cb circuitbreaker.CircuitBreaker[any]
}

var _ goredis.Hook = (*Breaker)(nil)

// NewBreaker opens after five consecutive failures and lets a probe through
// after delay. One good probe closes it again. m may be nil.
func NewBreaker(delay time.Duration, m *metrics.RedisMetrics) *Breaker {
	cb := circuitbreaker.NewBuilder[any]().
		WithFailureThreshold(breakerFailureThreshold).
		WithDelay(delay).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Redis breaker changed state", "from", e.OldState.String(), "to", e.NewState.String())
			if m == nil {
				return
			}
			m.BreakerStateChanges.WithLabelValues(e.NewState.String()).Inc()
			m.BreakerState.Set(breakerGauge[e.NewState])
		}).
		Build()
	return &Breaker{cb: cb}
}

// Gauge values for picard_redis_circuit_breaker_state.
var breakerGauge = map[circuitbreaker.State]float64{
	circuitbreaker.ClosedState:   0,
	circuitbreaker.HalfOpenState: 1,
	circuitbreaker.OpenState:     2,
}

// guard runs call when the breaker admits it and records the outcome. A nil
// reply from Redis counts as success.
func (b *Breaker) guard(what string, call func() error) error {
	if !b.cb.TryAcquirePermit() {
		return fmt.Errorf("redis %s rejected: %w", what, circuitbreaker.ErrOpen)
	}
	err := call()
	if err != nil && !errors.Is(err, goredis.Nil) {
		b.cb.RecordError(err)
	} else {
		b.cb.RecordSuccess()
	}
	return err
}

func (b *Breaker) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		var conn net.Conn
		err := b.guard("dial", func() error {
			var err error
			conn, err = next(ctx, network, addr)
			return err
		})
		return conn, err
	}
}

func (b *Breaker) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		err := b.guard(cmd.Name(), func() error { return next(ctx, cmd) })
		if IsOpen(err) {
			cmd.SetErr(err)
		}
		return err
	}
}

func (b *Breaker) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		return b.guard("pipeline", func() error { return next(ctx, cmds) })
	}
}

func (b *Breaker) State() circuitbreaker.State {
	return b.cb.State()
}

// IsOpen reports whether err is a rejection by an open Breaker.
func IsOpen(err error) bool {
	return errors.Is(err, circuitbreaker.ErrOpen)
}

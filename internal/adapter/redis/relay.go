package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/JannisRoesner/PICARD-sub000/internal/adapter/metrics"
	"github.com/JannisRoesner/PICARD-sub000/internal/domain"
	"github.com/JannisRoesner/PICARD-sub000/internal/platform/retry"
	goredis "github.com/redis/go-redis/v9"
)

const eventChannel = "picard:events"

// EventRelay publishes events to a Redis channel and feeds every event it
// receives from that channel into the local publisher, so each instance's hub
// sees the mutations of all instances. While this instance is not subscribed,
// or Redis is unreachable, its own events are delivered locally as well.
type EventRelay struct {
	rdb        *goredis.Client
	local      domain.EventPublisher
	metrics    *metrics.EventMetrics
	policy     retry.Policy
	subscribed atomic.Bool
}

var _ domain.EventPublisher = (*EventRelay)(nil)

func NewEventRelay(rdb *goredis.Client, local domain.EventPublisher, m *metrics.EventMetrics) *EventRelay {
	return &EventRelay{
		rdb:     rdb,
		local:   local,
		metrics: m,
		policy: retry.Policy{
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     10 * time.Second,
			OnRetry: func(attempt int, err error, backoff time.Duration) {
				slog.Warn("Redis event subscription failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
			},
		},
	}
}

func (r *EventRelay) Publish(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	// Read before publishing: a subscription that starts in between may
	// deliver the event twice, but never zero times.
	subscribed := r.subscribed.Load()

	start := time.Now()
	err = r.rdb.Publish(ctx, eventChannel, payload).Err()
	if r.metrics != nil {
		r.metrics.RelayDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if r.metrics != nil {
			r.metrics.RelayFailures.Inc()
		}
		slog.WarnContext(ctx, "Redis relay unavailable, delivering locally",
			"event_type", event.Type, "breaker_open", IsOpen(err), "error", err)
		return r.local.Publish(ctx, event)
	}
	if !subscribed {
		return r.local.Publish(ctx, event)
	}
	return nil
}

// Subscribed reports whether the relay currently receives the event channel.
func (r *EventRelay) Subscribed() bool {
	return r.subscribed.Load()
}

// Run keeps the relay subscribed until ctx is cancelled, resubscribing with
// backoff whenever the subscription fails or drops. ready, if not nil, is
// closed after the first successful subscription. Run returns once ctx is done.
func (r *EventRelay) Run(ctx context.Context, ready chan<- struct{}) {
	for {
		pubsub, err := retry.Do(ctx, r.policy, retry.Always, r.subscribe)
		if err != nil {
			return
		}
		r.subscribed.Store(true)
		if ready != nil {
			close(ready)
			ready = nil
		}

		r.listen(ctx, pubsub)
		if ctx.Err() != nil {
			return
		}
		slog.Warn("Redis event subscription lost, resubscribing", "channel", eventChannel)
	}
}

func (r *EventRelay) subscribe(ctx context.Context) (*goredis.PubSub, error) {
	pubsub := r.rdb.Subscribe(ctx, eventChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", eventChannel, err)
	}
	return pubsub, nil
}

func (r *EventRelay) listen(ctx context.Context, pubsub *goredis.PubSub) {
	defer r.subscribed.Store(false)
	defer func() { _ = pubsub.Close() }()
	slog.Info("Redis event relay subscribed", "channel", eventChannel)

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.deliver(ctx, msg.Payload)
		case <-ctx.Done():
			return
		}
	}
}

func (r *EventRelay) deliver(ctx context.Context, payload string) {
	var event domain.Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		slog.Warn("Dropping malformed relayed event", "error", err)
		return
	}
	if err := r.local.Publish(ctx, event); err != nil {
		slog.Warn("Failed to deliver relayed event", "event_type", event.Type, "error", err)
	}
}

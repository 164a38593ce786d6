package redis

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JannisRoesner/PICARD-sub000/internal/adapter/memory"
	"github.com/JannisRoesner/PICARD-sub000/internal/adapter/metrics"
	"github.com/JannisRoesner/PICARD-sub000/internal/adapter/storetest"
	"github.com/JannisRoesner/PICARD-sub000/internal/domain"
	"github.com/JannisRoesner/PICARD-sub000/internal/platform/retry"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/redis"
)

var testRedisURL string

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}
	os.Exit(runWithContainer(m))
}

func runWithContainer(m *testing.M) int {
	ctx := context.Background()

	container, err := redis.Run(ctx, "redis:7-alpine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start redis container: %v\n", err)
		return 1
	}
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "failed to terminate redis container: %v\n", err)
		}
	}()

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get redis endpoint: %v\n", err)
		return 1
	}
	testRedisURL = "redis://" + endpoint

	return m.Run()
}

func setupTestClient(t *testing.T, hooks ...goredis.Hook) *goredis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	client, err := NewClient(ctx, testRedisURL, hooks...)
	require.NoError(t, err)
	require.NoError(t, client.FlushAll(ctx).Err())

	t.Cleanup(func() { _ = client.Close() })
	return client
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) snapshot() []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Event(nil), p.events...)
}

func TestNewClient_Connects(t *testing.T) {
	client := setupTestClient(t)
	require.NoError(t, client.Ping(context.Background()).Err())
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestEventRelay_DeliversAcrossInstances(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	localA, localB := &recordingPublisher{}, &recordingPublisher{}
	relayA := NewEventRelay(setupTestClient(t), localA, nil)
	relayB := NewEventRelay(setupTestClient(t), localB, nil)

	readyA, readyB := make(chan struct{}), make(chan struct{})
	go relayA.Run(ctx, readyA)
	go relayB.Run(ctx, readyB)
	<-readyA
	<-readyB

	event, err := domain.NewEvent(domain.EventItemDeleted, uuid.New(), map[string]string{"itemId": "x"})
	require.NoError(t, err)
	event.Origin = "client-1"
	require.NoError(t, relayA.Publish(ctx, event))

	for _, local := range []*recordingPublisher{localA, localB} {
		require.Eventually(t, func() bool { return len(local.snapshot()) == 1 }, 5*time.Second, 10*time.Millisecond)
		got := local.snapshot()[0]
		assert.Equal(t, event.Type, got.Type)
		assert.Equal(t, event.SessionID, got.SessionID)
		assert.Equal(t, "client-1", got.Origin)
		assert.JSONEq(t, string(event.Data), string(got.Data))
	}
}

func TestEventRelay_FallsBackToLocalDelivery(t *testing.T) {
	client := setupTestClient(t)
	require.NoError(t, client.Close())

	local := &recordingPublisher{}
	m := metrics.NewEventMetrics(prometheus.NewRegistry())
	relay := NewEventRelay(client, local, m)

	event, err := domain.NewEvent(domain.EventSessionListChanged, uuid.Nil, map[string]string{"change": "created"})
	require.NoError(t, err)
	require.NoError(t, relay.Publish(context.Background(), event))

	require.Len(t, local.snapshot(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RelayFailures))
}

func TestCachedStore_PassesStoreSuite(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.Store {
		return NewCachedStore(memory.NewStore(), setupTestClient(t), nil)
	})
}

func TestCachedStore_ReadThroughAndInvalidate(t *testing.T) {
	ctx := context.Background()
	client := setupTestClient(t)
	m := metrics.NewCacheMetrics(prometheus.NewRegistry())
	backing := memory.NewStore()
	store := NewCachedStore(backing, client, m)

	session := storetest.NewSession("Gala")
	_, err := store.CreateSession(ctx, session)
	require.NoError(t, err)

	id, err := store.GetActiveSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, id)

	cached, err := client.Get(ctx, activeSessionKey).Result()
	require.NoError(t, err)
	assert.Equal(t, noActiveSession, cached)

	require.NoError(t, store.SetActiveSession(ctx, &session.ID))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Invalidations))

	id, err = store.GetActiveSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, session.ID, *id)

	id, err = store.GetActiveSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Lookups.WithLabelValues(metrics.CacheHit)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Lookups.WithLabelValues(metrics.CacheMiss)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Fills))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RedisErrors.WithLabelValues("get")))

	wasActive, err := store.DeleteSession(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, wasActive)

	id, err = store.GetActiveSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, id)
}

func TestCachedStore_FallsBackWhenRedisIsDown(t *testing.T) {
	ctx := context.Background()
	client := setupTestClient(t)
	require.NoError(t, client.Close())

	backing := memory.NewStore()
	session := storetest.NewSession("Prunksitzung")
	_, err := backing.CreateSession(ctx, session)
	require.NoError(t, err)
	require.NoError(t, backing.SetActiveSession(ctx, &session.ID))

	m := metrics.NewCacheMetrics(prometheus.NewRegistry())
	store := NewCachedStore(backing, client, m)
	id, err := store.GetActiveSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, session.ID, *id)
	// The cached read and the generation read both fail; nothing is filled.
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RedisErrors.WithLabelValues("get")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RedisErrors.WithLabelValues("eval")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Fills))
}

// pausingStore holds its first GetActiveSession after reading the pointer
// until resume is closed.
type pausingStore struct {
	domain.Store
	once   sync.Once
	read   chan struct{}
	resume chan struct{}
}

func (s *pausingStore) GetActiveSession(ctx context.Context) (*uuid.UUID, error) {
	id, err := s.Store.GetActiveSession(ctx)
	s.once.Do(func() {
		close(s.read)
		<-s.resume
	})
	return id, err
}

func TestCachedStore_FillRacingAWriteIsDiscarded(t *testing.T) {
	ctx := context.Background()
	client := setupTestClient(t)

	backing := memory.NewStore()
	gala, kappen := storetest.NewSession("Gala"), storetest.NewSession("Kappensitzung")
	for _, s := range []domain.Session{gala, kappen} {
		_, err := backing.CreateSession(ctx, s)
		require.NoError(t, err)
	}
	require.NoError(t, backing.SetActiveSession(ctx, &gala.ID))

	paused := &pausingStore{Store: backing, read: make(chan struct{}), resume: make(chan struct{})}
	m := metrics.NewCacheMetrics(prometheus.NewRegistry())
	store := NewCachedStore(paused, client, m)

	stale := make(chan *uuid.UUID, 1)
	go func() {
		id, err := store.GetActiveSession(ctx)
		assert.NoError(t, err)
		stale <- id
	}()

	// The reader holds the old pointer while the switch to Kappensitzung commits.
	<-paused.read
	require.NoError(t, store.SetActiveSession(ctx, &kappen.ID))
	close(paused.resume)

	old := <-stale
	require.NotNil(t, old)
	assert.Equal(t, gala.ID, *old)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Fills))

	id, err := store.GetActiveSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, kappen.ID, *id)

	cached, err := client.Get(ctx, activeSessionKey).Result()
	require.NoError(t, err)
	assert.Equal(t, kappen.ID.String(), cached)
}

func TestEventRelay_DeliversLocallyWhileUnsubscribed(t *testing.T) {
	local := &recordingPublisher{}
	relay := NewEventRelay(setupTestClient(t), local, nil)
	event, err := domain.NewEvent(domain.EventItemAdded, uuid.New(), map[string]string{"name": "Garde"})
	require.NoError(t, err)

	// Redis accepts the publish, but nobody on this instance is listening.
	require.False(t, relay.Subscribed())
	require.NoError(t, relay.Publish(context.Background(), event))
	require.Len(t, local.snapshot(), 1)

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan struct{})
	go func() {
		relay.Run(ctx, ready)
		close(done)
	}()
	<-ready
	require.True(t, relay.Subscribed())

	require.NoError(t, relay.Publish(ctx, event))
	require.Eventually(t, func() bool { return len(local.snapshot()) == 2 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	assert.False(t, relay.Subscribed())

	require.NoError(t, relay.Publish(context.Background(), event))
	assert.Len(t, local.snapshot(), 3)
}

func TestEventRelay_KeepsRetryingSubscription(t *testing.T) {
	client := setupTestClient(t)
	require.NoError(t, client.Close())

	relay := NewEventRelay(client, &recordingPublisher{}, nil)
	var attempts atomic.Int32
	relay.policy = retry.Policy{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		OnRetry:        func(int, error, time.Duration) { attempts.Add(1) },
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Run(ctx, nil)
		close(done)
	}()

	require.Eventually(t, func() bool { return attempts.Load() >= 3 }, 5*time.Second, 5*time.Millisecond)
	assert.False(t, relay.Subscribed())

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop after cancel")
	}
}

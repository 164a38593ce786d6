package redis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/JannisRoesner/PICARD-sub000/internal/adapter/metrics"
	"github.com/JannisRoesner/PICARD-sub000/internal/domain"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	activeSessionKey = "picard:active_session"
	activeSessionTTL = time.Minute

	// activeSessionGenKey counts invalidations. A fill only lands when the
	// generation it read before the store read is still current.
	activeSessionGenKey = "picard:active_session:gen"

	// noActiveSession caches the absence of a pointer.
	noActiveSession = "none"
)

// CachedStore decorates a domain.Store with a Redis read-through cache for the
// active-session pointer, which every view polls on load. Writes go to the
// store first and then invalidate the cache. A fill that raced with a write
// is discarded, so the cache never holds a pointer older than the last write.
type CachedStore struct {
	domain.Store
	rdb     goredis.Cmdable
	group   singleflight.Group
	metrics *metrics.CacheMetrics
}

var _ domain.Store = (*CachedStore)(nil)

func NewCachedStore(store domain.Store, rdb goredis.Cmdable, m *metrics.CacheMetrics) *CachedStore {
	return &CachedStore{Store: store, rdb: rdb, metrics: m}
}

func (s *CachedStore) GetActiveSession(ctx context.Context) (*uuid.UUID, error) {
	if id, ok := s.getCached(ctx); ok {
		s.lookup(metrics.CacheHit)
		return id, nil
	}
	s.lookup(metrics.CacheMiss)

	v, err, _ := s.group.Do(activeSessionKey, func() (any, error) {
		gen, genOK := s.generation(ctx)
		id, err := s.Store.GetActiveSession(ctx)
		if err != nil {
			return nil, err
		}
		if genOK {
			s.fill(ctx, gen, id)
		}
		return id, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*uuid.UUID), nil
}

func (s *CachedStore) SetActiveSession(ctx context.Context, sessionID *uuid.UUID) error {
	if err := s.Store.SetActiveSession(ctx, sessionID); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *CachedStore) DeleteSession(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	wasActive, err := s.Store.DeleteSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if wasActive {
		s.invalidate(ctx)
	}
	return wasActive, nil
}

func (s *CachedStore) getCached(ctx context.Context) (*uuid.UUID, bool) {
	raw, err := s.rdb.Get(ctx, activeSessionKey).Result()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			s.redisError("get")
			slog.WarnContext(ctx, "Redis active-session cache GET failed", "error", err)
		}
		return nil, false
	}
	if raw == noActiveSession {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, false
	}
	return &id, true
}

// fillScript sets the pointer only if the generation still equals ARGV[1].
const fillScript = `
local gen = redis.call('GET', KEYS[2]) or '0'
if gen ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`

func (s *CachedStore) generation(ctx context.Context) (string, bool) {
	gen, err := s.rdb.Get(ctx, activeSessionGenKey).Result()
	switch {
	case errors.Is(err, goredis.Nil):
		return "0", true
	case err != nil:
		s.redisError("get")
		slog.WarnContext(ctx, "Failed to read active-session cache generation", "error", err)
		return "", false
	}
	return gen, true
}

func (s *CachedStore) fill(ctx context.Context, gen string, id *uuid.UUID) {
	value := noActiveSession
	if id != nil {
		value = id.String()
	}
	keys := []string{activeSessionKey, activeSessionGenKey}
	stored, err := s.rdb.Eval(ctx, fillScript, keys, gen, value, activeSessionTTL.Milliseconds()).Int()
	if err != nil {
		s.redisError("eval")
		slog.WarnContext(ctx, "Failed to populate active-session cache", "error", err)
		return
	}
	if stored == 1 && s.metrics != nil {
		s.metrics.Fills.Inc()
	}
}

func (s *CachedStore) invalidate(ctx context.Context) {
	if s.metrics != nil {
		s.metrics.Invalidations.Inc()
	}
	if err := s.rdb.Incr(ctx, activeSessionGenKey).Err(); err != nil {
		s.redisError("incr")
		slog.WarnContext(ctx, "Failed to bump active-session cache generation", "error", err)
	}
	if err := s.rdb.Del(ctx, activeSessionKey).Err(); err != nil {
		s.redisError("del")
		slog.WarnContext(ctx, "Failed to invalidate active-session cache", "error", err)
	}
}

func (s *CachedStore) lookup(result string) {
	if s.metrics != nil {
		s.metrics.Lookups.WithLabelValues(result).Inc()
	}
}

func (s *CachedStore) redisError(command string) {
	if s.metrics != nil {
		s.metrics.RedisErrors.WithLabelValues(command).Inc()
	}
}

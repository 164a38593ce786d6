package metrics

import "github.com/prometheus/client_golang/prometheus"

// CacheMetrics tracks the Redis cache in front of the active-session pointer.
type CacheMetrics struct {
	Lookups       *prometheus.CounterVec
	Fills         prometheus.Counter
	Invalidations prometheus.Counter
	RedisErrors   *prometheus.CounterVec
}

// Lookup results for CacheMetrics.Lookups.
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
)

func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	opts := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{Namespace: namespace, Subsystem: "active_session_cache", Name: name, Help: help}
	}
	m := &CacheMetrics{
		Lookups:       prometheus.NewCounterVec(opts("lookups_total", "Active-session pointer lookups, by result."), []string{"result"}),
		Fills:         prometheus.NewCounter(opts("fills_total", "Store reads that repopulated the cache.")),
		Invalidations: prometheus.NewCounter(opts("invalidations_total", "Cache entries dropped after a pointer write.")),
		RedisErrors:   prometheus.NewCounterVec(opts("redis_errors_total", "Failed cache commands, by command."), []string{"command"}),
	}
	reg.MustRegister(m.Lookups, m.Fills, m.Invalidations, m.RedisErrors)
	return m
}

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/JannisRoesner/PICARD-sub000/internal/adapter/httpserver"
	"github.com/JannisRoesner/PICARD-sub000/internal/adapter/mediastore"
	"github.com/JannisRoesner/PICARD-sub000/internal/adapter/memory"
	"github.com/JannisRoesner/PICARD-sub000/internal/adapter/metrics"
	"github.com/JannisRoesner/PICARD-sub000/internal/adapter/postgres"
	"github.com/JannisRoesner/PICARD-sub000/internal/adapter/redis"
	"github.com/JannisRoesner/PICARD-sub000/internal/adapter/websocket"
	"github.com/JannisRoesner/PICARD-sub000/internal/app"
	"github.com/JannisRoesner/PICARD-sub000/internal/domain"
	"github.com/JannisRoesner/PICARD-sub000/internal/platform/config"
	"github.com/JannisRoesner/PICARD-sub000/internal/platform/logging"
	"github.com/JannisRoesner/PICARD-sub000/internal/platform/retry"
	"github.com/JannisRoesner/PICARD-sub000/internal/platform/version"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
)

const (
	startupTimeout      = 60 * time.Second
	shutdownTimeout     = 10 * time.Second
	breakerDelay        = 10 * time.Second
	wsConnectsPerSecond = 10
	wsConnectBurst      = 20
)

var errRelayNotSubscribed = errors.New("not subscribed, delivering locally")

var startupPolicy = retry.Policy{
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
	OnRetry: func(attempt int, err error, backoff time.Duration) {
		slog.Warn("Dependency not ready, retrying", "attempt", attempt, "backoff", backoff, "error", err)
	},
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// setupStore returns the configured store driver and its cleanup.
func setupStore(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (domain.Store, func()) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		slog.Warn("Using in-memory store, data is lost on restart")
		return memory.NewStore(), func() {}
	}

	tracer := postgres.NewMetricsTracer(metrics.NewStoreMetrics(reg))
	pool, err := retry.Do(ctx, startupPolicy, retry.Always, func(ctx context.Context) (*pgxpool.Pool, error) {
		return postgres.Connect(ctx, cfg.DatabaseURL, tracer)
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return postgres.NewStore(pool), pool.Close
}

func setupRedis(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) *goredis.Client {
	if cfg.RedisURL == "" {
		slog.Info("REDIS_URL not set, running as a single instance")
		return nil
	}

	m := metrics.NewRedisMetrics(reg)
	client, err := retry.Do(ctx, startupPolicy, retry.Always, func(ctx context.Context) (*goredis.Client, error) {
		return redis.NewClient(ctx, cfg.RedisURL, redis.NewMetricsHook(m), redis.NewBreaker(breakerDelay, m))
	})
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func runGracefulShutdown(srv *httpserver.Server, hub *websocket.Hub, stopBackground context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		stopBackground()
		hub.Stop()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Get().Version, "store", cfg.StoreDriver)

	reg := metrics.NewRegistry()

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), startupTimeout)
	defer cancelStartup()

	store, closeStore := setupStore(startupCtx, cfg, reg)
	defer closeStore()

	redisClient := setupRedis(startupCtx, cfg, reg)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	media, err := mediastore.New(cfg.MediaDir)
	if err != nil {
		slog.Error("Failed to open media store", "dir", cfg.MediaDir, "error", err)
		os.Exit(1)
	}

	wsMetrics := metrics.NewWebSocketMetrics(reg)
	eventMetrics := metrics.NewEventMetrics(reg)
	hub := websocket.NewHub(clock, wsMetrics)

	backgroundCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	var publisher domain.EventPublisher = hub
	healthChecks := []httpserver.HealthCheck{{Name: "store", Check: store.Ping}}
	if redisClient != nil {
		store = redis.NewCachedStore(store, redisClient, metrics.NewCacheMetrics(reg))

		relay := redis.NewEventRelay(redisClient, hub, eventMetrics)
		publisher = relay
		go relay.Run(backgroundCtx, nil)

		healthChecks = append(healthChecks, httpserver.HealthCheck{
			Name:     "redis",
			Optional: true,
			Check:    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
		healthChecks = append(healthChecks, httpserver.HealthCheck{
			Name:     "relay",
			Optional: true,
			Check: func(context.Context) error {
				if !relay.Subscribed() {
					return errRelayNotSubscribed
				}
				return nil
			},
		})
	}
	healthChecks = append(healthChecks, httpserver.HealthCheck{
		Name: "media",
		Check: func(context.Context) error {
			_, err := os.Stat(cfg.MediaDir)
			return err
		},
	})

	appSvc := app.NewService(store, publisher, media, clock, eventMetrics)

	limits := websocket.NewConnectionLimits(clock, int64(cfg.MaxWebSocketConnections), cfg.MaxWebSocketConnectionsPerIP, wsConnectsPerSecond, wsConnectBurst)
	checkOrigin := websocket.NewCheckOrigin(cfg.AppURL, cfg.IsDevelopment(), func() {
		wsMetrics.ConnectionsRejected.WithLabelValues("origin").Inc()
	})
	wsHandler := websocket.NewHandler(hub, publisher, appSvc, limits, checkOrigin, clock, wsMetrics)

	srv := httpserver.NewServer(cfg, appSvc, httpserver.Deps{
		WebsocketHandler: wsHandler.Handle,
		MetricsHandler:   metrics.Handler(reg),
		HTTPMetrics:      metrics.NewHTTPMetrics(reg),
		HealthChecks:     healthChecks,
	})

	done := runGracefulShutdown(srv, hub, stopBackground)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	minSessionSecretLength = 32
)

type Config struct {
	AppEnv        string `env:"APP_ENV" default:"development"`
	Port          string `env:"PORT" default:"8080"`
	AppURL        string `env:"APP_URL" default:"http://localhost:8080"`
	StoreDriver   string `env:"STORE_DRIVER" default:"postgres"`
	DatabaseURL   string `env:"DATABASE_URL"`
	RedisURL      string `env:"REDIS_URL"`
	SessionSecret string `env:"SESSION_SECRET"`
	MediaDir      string `env:"MEDIA_DIR" default:"./data/media"`
	LogLevel      string `env:"LOG_LEVEL" default:"info"`
	LogFormat     string `env:"LOG_FORMAT" default:"text"`

	MaxUploadBytes               int64 `env:"MAX_UPLOAD_BYTES" default:"52428800"` // 50 MiB
	MaxWebSocketConnections      int   `env:"MAX_WEBSOCKET_CONNECTIONS" default:"1000"`
	MaxWebSocketConnectionsPerIP int   `env:"MAX_WEBSOCKET_CONNECTIONS_PER_IP" default:"50"`

	SessionMaxAge time.Duration `env:"SESSION_MAX_AGE" default:"168h"` // 7 days

	// TrustProxy takes client IPs from X-Forwarded-For. Only enable it behind
	// a reverse proxy that overwrites the header.
	TrustProxy bool `env:"TRUST_PROXY" default:"false"`
}

// IsDevelopment reports whether APP_ENV is not production.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv != "production"
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := map[string]string{
		"SESSION_SECRET": cfg.SessionSecret,
	}
	if cfg.StoreDriver == StoreDriverPostgres {
		required["DATABASE_URL"] = cfg.DatabaseURL
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	switch cfg.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, cfg.StoreDriver)
	}

	if len(cfg.SessionSecret) < minSessionSecretLength {
		return fmt.Errorf("SESSION_SECRET must be at least %d characters", minSessionSecretLength)
	}
	if cfg.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be positive")
	}
	if cfg.MaxWebSocketConnections <= 0 || cfg.MaxWebSocketConnectionsPerIP <= 0 {
		return errors.New("websocket connection limits must be positive")
	}

	return nil
}

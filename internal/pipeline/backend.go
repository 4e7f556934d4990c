package pipeline

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/cschleiden/go-workflows/backend"
	redisbackend "github.com/cschleiden/go-workflows/backend/redis"
	"github.com/cschleiden/go-workflows/backend/sqlite"
	goredis "github.com/redis/go-redis/v9"
)

// Supported workflow backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// BackendConfig selects and configures the workflow backend.
type BackendConfig struct {
	Kind          string
	SQLitePath    string
	RedisAddress  string
	RedisPassword string
	// ExpireFinishedAfter removes finished runs from Redis after this duration. Zero keeps them.
	ExpireFinishedAfter time.Duration
}

// NewBackend opens the configured workflow backend.
func NewBackend(cfg BackendConfig, logger *slog.Logger) (backend.Backend, error) {
	opts := []backend.BackendOption{backend.WithLogger(logger)}

	switch cfg.Kind {
	case "", BackendSQLite:
		return sqlite.NewSqliteBackend(cfg.SQLitePath, sqlite.WithBackendOptions(opts...)), nil

	case BackendRedis:
		client := goredis.NewUniversalClient(&goredis.UniversalOptions{
			Addrs:        []string{cfg.RedisAddress},
			Password:     cfg.RedisPassword,
			WriteTimeout: 30 * time.Second,
			ReadTimeout:  30 * time.Second,
		})
		redisOpts := []redisbackend.RedisBackendOption{redisbackend.WithBackendOptions(opts...)}
		if cfg.ExpireFinishedAfter > 0 {
			redisOpts = append(redisOpts, redisbackend.WithAutoExpiration(cfg.ExpireFinishedAfter))
		}
		b, err := redisbackend.NewRedisBackend(client, redisOpts...)
		if err != nil {
			return nil, fmt.Errorf("redis workflow backend: %w", err)
		}
		return b, nil

	default:
		return nil, fmt.Errorf("unknown workflow backend %q", cfg.Kind)
	}
}

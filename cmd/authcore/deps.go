// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth/postgres"
	"github.com/holomush/authcore/internal/config"
	"github.com/holomush/authcore/internal/observability"
	"github.com/holomush/authcore/internal/store"
)

// Deps contains injectable dependencies for the commands. Nil fields use
// their default implementations.
type Deps struct {
	// Connect opens the database pool.
	// Default: store.Connect
	Connect func(ctx context.Context, cfg *config.Config) (Database, error)

	// NewRedis creates the Redis client for the redis code backend.
	// Default: goredis.NewClient
	NewRedis func(cfg *config.Config) (RedisClient, error)

	// NewMigrator creates a schema migrator.
	// Default: store.NewMigrator
	NewMigrator func(databaseURL string) (Migrator, error)

	// NewObservabilityServer creates the metrics and health server.
	// Default: observability.NewServer
	NewObservabilityServer func(addr string, readiness observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer

	// Signals delivers shutdown signals to serve.
	// Default: SIGINT and SIGTERM
	Signals func() (<-chan os.Signal, func())
}

// Database is the subset of *pgxpool.Pool the commands use.
type Database interface {
	postgres.Pool
	Ping(ctx context.Context) error
	Close()
}

// RedisClient is a Redis client the code store and readiness probe can use.
type RedisClient interface {
	goredis.UniversalClient
}

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Status() (store.Status, error)
	Close() error
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.AuthMetrics
}

func (d *Deps) withDefaults() *Deps {
	out := Deps{}
	if d != nil {
		out = *d
	}
	if out.Connect == nil {
		out.Connect = func(ctx context.Context, cfg *config.Config) (Database, error) {
			pool, err := store.Connect(ctx, cfg.Database.URL, store.PoolConfig{MaxConns: cfg.Database.MaxConns})
			if err != nil {
				return nil, err
			}
			return pool, nil
		}
	}
	if out.NewRedis == nil {
		out.NewRedis = func(cfg *config.Config) (RedisClient, error) {
			if cfg.Redis.Addr == "" {
				return nil, oops.Code("CONFIG_INVALID").With("key", "redis.addr").Errorf("redis.addr is required")
			}
			return goredis.NewClient(&goredis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			}), nil
		}
	}
	if out.NewMigrator == nil {
		out.NewMigrator = func(databaseURL string) (Migrator, error) {
			m, err := store.NewMigrator(databaseURL)
			if err != nil {
				return nil, err
			}
			return m, nil
		}
	}
	if out.NewObservabilityServer == nil {
		out.NewObservabilityServer = func(addr string, readiness observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, readiness, logger)
		}
	}
	if out.Signals == nil {
		out.Signals = func() (<-chan os.Signal, func()) {
			ch := make(chan os.Signal, 1)
			signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
			return ch, func() { signal.Stop(ch) }
		}
	}
	return &out
}

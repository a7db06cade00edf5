// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/auth/postgres"
	"github.com/holomush/authcore/internal/config"
)

// shutdownTimeout bounds graceful shutdown of the HTTP listener.
const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve command.
func NewServeCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the authcore process (metrics, health, code purging)",
		Long: `Connects to PostgreSQL (and Redis for the redis code backend), wires the
auth services, serves /metrics and /healthz endpoints, and purges expired
one-time codes periodically until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, deps)
		},
	}
}

func runServe(cmd *cobra.Command, deps *Deps) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	logger.Info("starting authcore",
		"environment", cfg.Environment,
		"otp_backend", cfg.OTP.Backend,
		"captcha", cfg.CaptchaActive(),
	)

	db, err := deps.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("connected to database")

	var rdb RedisClient
	if cfg.OTP.Backend == config.BackendRedis {
		rdb, err = deps.NewRedis(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return oops.Code("REDIS_CONNECT_FAILED").With("addr", cfg.Redis.Addr).Wrap(err)
		}
		logger.Info("connected to redis", "addr", cfg.Redis.Addr)
	}

	readiness := func(ctx context.Context) error {
		if err := db.Ping(ctx); err != nil {
			return err
		}
		if rdb != nil {
			return rdb.Ping(ctx).Err()
		}
		return nil
	}

	var (
		obs     ObservabilityServer
		metrics auth.Metrics = auth.NopMetrics{}
		observe func(int64)
	)
	if cfg.Metrics.Addr != "" {
		obs = deps.NewObservabilityServer(cfg.Metrics.Addr, readiness, logger)
		metrics = obs.Metrics()
		observe = obs.Metrics().ObservePurge
	}

	codes, err := newCodeStore(cfg, db, rdb)
	if err != nil {
		return err
	}
	notifier, err := newNotifier(cfg, logger)
	if err != nil {
		return err
	}
	verifier, err := newCaptcha(cfg, logger)
	if err != nil {
		return err
	}
	svcs, err := buildServices(cfg, postgres.NewAccountRepository(db), collaborators{
		Codes:    codes,
		Notifier: notifier,
		Captcha:  verifier,
		Metrics:  metrics,
	}, logger)
	if err != nil {
		return err
	}

	if obs != nil {
		obsErrCh, err := obs.Start()
		if err != nil {
			return err
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stopCancel()
			if err := obs.Stop(stopCtx); err != nil {
				logger.Warn("error stopping observability server", "error", err)
			}
		}()
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability", logger)
		logger.Info("observability server started", "addr", obs.Addr())
	}

	purgeDone := runPurgeLoop(ctx, svcs.OTP, cfg.OTP.PurgeInterval, observe, logger)

	sigCh, stopSignals := deps.Signals()
	defer stopSignals()

	cmd.Println("authcore started")
	logger.Info("authcore ready", "purge_interval", cfg.OTP.PurgeInterval.String())

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	cancel()
	<-purgeDone
	logger.Info("shutdown complete")
	return nil
}

// monitorServerErrors cancels ctx when a server reports an error. It exits
// when an error arrives, the channel closes, or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown", "server", serverName, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}

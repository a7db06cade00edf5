// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authcore/internal/config"
	"github.com/holomush/authcore/internal/logging"
)

const serviceName = "authcore"

// NewRootCmd creates the root command. A nil deps selects the production
// implementations.
func NewRootCmd(deps *Deps) *cobra.Command {
	deps = deps.withDefaults()

	cmd := &cobra.Command{
		Use:   "authcore",
		Short: "authcore - account, one-time code and session token service",
		Long: `authcore manages accounts, email one-time codes, brute-force lockout
and JWT session tokens on PostgreSQL, with an optional Redis code store.`,
		SilenceUsage: true,
	}

	config.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewMigrateCmd(deps))
	cmd.AddCommand(NewSeedCmd(deps))
	cmd.AddCommand(NewAccountsCmd(deps))
	cmd.AddCommand(NewServeCmd(deps))

	return cmd
}

// loadConfig reads configuration for cmd and installs the configured logger
// as the slog default.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, oops.Code("CONFIG_INVALID").With("key", "log.level").Errorf("%v", err)
	}
	switch cfg.Log.Format {
	case "json", "text":
	default:
		return nil, nil, oops.Code("CONFIG_INVALID").With("key", "log.format").Errorf("unknown log format %q", cfg.Log.Format)
	}
	logger := logging.Setup(serviceName, version, cfg.Log.Format, level, cmd.ErrOrStderr())
	slog.SetDefault(logger)
	return cfg, logger, nil
}

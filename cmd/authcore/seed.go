// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/auth/postgres"
)

// Default timeout for seed command.
const defaultSeedTimeout = 30 * time.Second

// adminSeedFile is the YAML document read by seed admins.
type adminSeedFile struct {
	Admins []adminSeed `yaml:"admins"`
}

type adminSeed struct {
	Username    string `yaml:"username"`
	Email       string `yaml:"email"`
	DisplayName string `yaml:"display_name"`
	// Password is the plaintext to hash. PasswordEnv names an environment
	// variable holding it instead, which keeps secrets out of the file.
	Password    string `yaml:"password"`
	PasswordEnv string `yaml:"password_env"`
}

// seedResult counts the outcome of a seed run.
type seedResult struct {
	Created int
	Skipped int
}

// NewSeedCmd creates the seed command.
func NewSeedCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed the database with initial data",
	}

	var (
		file    string
		timeout time.Duration
	)
	admins := &cobra.Command{
		Use:   "admins",
		Short: "Create verified admin accounts from a YAML file",
		Long: `Creates verified admin accounts listed in a YAML file:

  admins:
    - username: root
      email: root@example.com
      display_name: Root
      password_env: AUTHCORE_ROOT_PASSWORD

This command is idempotent - accounts whose username or email already exists
are skipped with a warning.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.ValidateDatabase(); err != nil {
				return err
			}
			seeds, err := readAdminSeeds(file)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			db, err := deps.Connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			result, err := seedAdmins(ctx, postgres.NewAccountRepository(db), auth.NewArgon2idHasher(), seeds, time.Now().UTC(), logger)
			if err != nil {
				return err
			}
			cmd.Printf("Admin seeding complete: %d created, %d skipped\n", result.Created, result.Skipped)
			return nil
		},
	}
	admins.Flags().StringVar(&file, "file", "", "YAML file listing admin accounts (required)")
	admins.Flags().DurationVar(&timeout, "timeout", defaultSeedTimeout, "timeout for database operations (e.g., 30s, 1m)")
	_ = admins.MarkFlagRequired("file")
	cmd.AddCommand(admins)

	return cmd
}

// readAdminSeeds parses path, or stdin when path is "-".
func readAdminSeeds(path string) ([]adminSeed, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, oops.Code("SEED_FILE_UNREADABLE").With("path", path).Wrap(err)
	}

	var doc adminSeedFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, oops.Code("SEED_FILE_INVALID").With("path", path).Wrap(err)
	}
	if len(doc.Admins) == 0 {
		return nil, oops.Code("SEED_FILE_INVALID").With("path", path).Errorf("no admins listed")
	}
	return doc.Admins, nil
}

// seedAdmins creates each listed admin as a verified account. Existing
// usernames or emails are skipped; any other failure aborts the run.
func seedAdmins(
	ctx context.Context,
	accounts auth.AccountRepository,
	hasher auth.PasswordHasher,
	seeds []adminSeed,
	now time.Time,
	logger *slog.Logger,
) (seedResult, error) {
	var result seedResult
	for i, seed := range seeds {
		password := seed.Password
		if seed.PasswordEnv != "" {
			password = os.Getenv(seed.PasswordEnv)
		}
		if err := auth.ValidatePassword(password); err != nil {
			return result, oops.With("index", i).With("username", seed.Username).Wrap(err)
		}

		hash, err := hasher.Hash(password)
		if err != nil {
			return result, oops.Code("SEED_FAILED").With("operation", "hash password").Wrap(err)
		}
		account, err := auth.NewAccount(seed.Username, seed.Email, seed.DisplayName, hash, auth.RoleAdmin, now)
		if err != nil {
			return result, oops.With("index", i).With("username", seed.Username).Wrap(err)
		}
		account.EmailVerified = true

		if err := accounts.Create(ctx, account); err != nil {
			if errors.Is(err, auth.ErrConflict) {
				logger.Warn("admin already exists, skipping",
					"username", account.Username,
					"field", auth.ConflictField(err))
				result.Skipped++
				continue
			}
			return result, oops.Code("SEED_FAILED").With("operation", "create admin").With("username", account.Username).Wrap(err)
		}
		logger.Info("created admin", "id", account.ID.String(), "username", account.Username)
		result.Created++
	}
	return result, nil
}

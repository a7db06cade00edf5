// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/auth/postgres"
)

// accountView is the JSON form of an account in CLI output.
type accountView struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	DisplayName   string    `json:"display_name"`
	Role          string    `json:"role"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
}

func viewOf(p auth.Profile) accountView {
	return accountView{
		ID:            p.ID.String(),
		Username:      p.Username,
		Email:         p.Email,
		DisplayName:   p.DisplayName,
		Role:          p.Role.String(),
		EmailVerified: p.EmailVerified,
		CreatedAt:     p.CreatedAt,
	}
}

// NewAccountsCmd creates the accounts command.
func NewAccountsCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Inspect and administer accounts",
	}

	var output string
	list := &cobra.Command{
		Use:   "list",
		Short: "List all accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAuthService(cmd, deps, func(ctx context.Context, svc *auth.Service) error {
				profiles, err := svc.ListAccounts(ctx)
				if err != nil {
					return err
				}
				return printAccounts(cmd, profiles, output)
			})
		},
	}
	list.Flags().StringVarP(&output, "output", "o", "table", "output format: table or json")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke ID",
		Short: "Revoke the account's refresh token (log it out)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAccountID(args[0])
			if err != nil {
				return err
			}
			return withAuthService(cmd, deps, func(ctx context.Context, svc *auth.Service) error {
				if err := svc.Logout(ctx, id); err != nil {
					return err
				}
				cmd.Printf("Revoked refresh token for %s\n", id)
				return nil
			})
		},
	})

	cmd.AddCommand(newVerifyCmd(deps, "verify", "Mark the account's email verified", true))
	cmd.AddCommand(newVerifyCmd(deps, "unverify", "Mark the account's email unverified and revoke its refresh token", false))

	return cmd
}

func newVerifyCmd(deps *Deps, use, short string, verified bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAccountID(args[0])
			if err != nil {
				return err
			}
			return withAuthService(cmd, deps, func(ctx context.Context, svc *auth.Service) error {
				if err := svc.SetEmailVerified(ctx, id, verified); err != nil {
					return err
				}
				cmd.Printf("Account %s email_verified=%t\n", id, verified)
				return nil
			})
		},
	}
}

func parseAccountID(s string) (ulid.ULID, error) {
	id, err := ulid.Parse(s)
	if err != nil {
		return ulid.ULID{}, oops.Code("INVALID_ARGUMENT").With("id", s).Wrap(err)
	}
	return id, nil
}

// withAuthService connects to the database, builds an auth.Service and runs fn.
func withAuthService(cmd *cobra.Command, deps *Deps, fn func(context.Context, *auth.Service) error) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.ValidateDatabase(); err != nil {
		return err
	}
	if err := cfg.ValidateTokens(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), defaultSeedTimeout)
	defer cancel()

	db, err := deps.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	accounts := postgres.NewAccountRepository(db)
	signer, err := newSigner(cfg)
	if err != nil {
		return err
	}
	opts := []auth.Option{auth.WithLogger(logger), auth.WithLockoutPolicy(cfg.LockoutPolicy())}
	tokens, err := auth.NewTokenEngine(accounts, signer, cfg.TokenConfig(), opts...)
	if err != nil {
		return err
	}
	svc, err := auth.NewAuthService(accounts, auth.NewArgon2idHasher(), tokens, opts...)
	if err != nil {
		return err
	}
	return fn(ctx, svc)
}

func printAccounts(cmd *cobra.Command, profiles []auth.Profile, output string) error {
	switch output {
	case "json":
		views := make([]accountView, 0, len(profiles))
		for _, p := range profiles {
			views = append(views, viewOf(p))
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	case "table":
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "ID\tUSERNAME\tEMAIL\tROLE\tVERIFIED\tCREATED")
		for _, p := range profiles {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n",
				p.ID, p.Username, p.Email, p.Role, p.EmailVerified, p.CreatedAt.UTC().Format(time.RFC3339))
		}
		return w.Flush()
	default:
		return oops.Code("INVALID_ARGUMENT").With("output", output).Errorf("unknown output format %q", output)
	}
}

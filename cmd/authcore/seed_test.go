// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/auth/authtest"
	"github.com/holomush/authcore/internal/config"
	"github.com/holomush/authcore/pkg/errutil"
)

var seedNow = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeSeedFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "admins.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestReadAdminSeeds(t *testing.T) {
	path := writeSeedFile(t, `
admins:
  - username: root
    email: Root@Example.com
    display_name: Root
    password: correct-horse
  - username: ops
    email: ops@example.com
    password_env: OPS_PASSWORD
`)

	seeds, err := readAdminSeeds(path)
	require.NoError(t, err)
	require.Len(t, seeds, 2)
	assert.Equal(t, "root", seeds[0].Username)
	assert.Equal(t, "Root", seeds[0].DisplayName)
	assert.Equal(t, "OPS_PASSWORD", seeds[1].PasswordEnv)
}

func TestReadAdminSeeds_Errors(t *testing.T) {
	tests := []struct {
		name     string
		path     func(t *testing.T) string
		wantCode string
	}{
		{
			name:     "missing file",
			path:     func(t *testing.T) string { return filepath.Join(t.TempDir(), "absent.yaml") },
			wantCode: "SEED_FILE_UNREADABLE",
		},
		{
			name:     "malformed yaml",
			path:     func(t *testing.T) string { return writeSeedFile(t, "admins: [unterminated\n") },
			wantCode: "SEED_FILE_INVALID",
		},
		{
			name:     "empty list",
			path:     func(t *testing.T) string { return writeSeedFile(t, "admins: []\n") },
			wantCode: "SEED_FILE_INVALID",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readAdminSeeds(tt.path(t))
			errutil.AssertErrorCode(t, err, tt.wantCode)
		})
	}
}

func TestSeedAdmins_CreatesVerifiedAdmins(t *testing.T) {
	t.Setenv("OPS_PASSWORD", "ops-password-1")
	accounts := authtest.NewAccountStore()
	hasher := authtest.FastHasher()

	result, err := seedAdmins(context.Background(), accounts, hasher, []adminSeed{
		{Username: "Root", Email: "Root@Example.com", DisplayName: "Root", Password: "correct-horse"},
		{Username: "ops", Email: "ops@example.com", PasswordEnv: "OPS_PASSWORD"},
	}, seedNow, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, seedResult{Created: 2}, result)

	root, err := accounts.GetByEmail(context.Background(), "root@example.com")
	require.NoError(t, err)
	assert.Equal(t, "root", root.Username)
	assert.Equal(t, auth.RoleAdmin, root.Role)
	assert.True(t, root.EmailVerified)
	assert.Equal(t, seedNow, root.CreatedAt)
	ok, err := hasher.Verify("correct-horse", root.PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok)

	ops, err := accounts.GetByUsername(context.Background(), "ops")
	require.NoError(t, err)
	assert.Equal(t, "ops", ops.DisplayName, "display name falls back to username")
	ok, err = hasher.Verify("ops-password-1", ops.PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSeedAdmins_IsIdempotent(t *testing.T) {
	accounts := authtest.NewAccountStore()
	seeds := []adminSeed{{Username: "root", Email: "root@example.com", Password: "correct-horse"}}

	first, err := seedAdmins(context.Background(), accounts, authtest.FastHasher(), seeds, seedNow, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, seedResult{Created: 1}, first)

	second, err := seedAdmins(context.Background(), accounts, authtest.FastHasher(), seeds, seedNow, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, seedResult{Skipped: 1}, second)
	assert.Equal(t, 1, accounts.Len())
}

func TestSeedAdmins_RejectsInvalidEntries(t *testing.T) {
	tests := []struct {
		name string
		seed adminSeed
	}{
		{name: "short password", seed: adminSeed{Username: "root", Email: "root@example.com", Password: "short"}},
		{name: "unset password env", seed: adminSeed{Username: "root", Email: "root@example.com", PasswordEnv: "AUTHCORE_TEST_UNSET"}},
		{name: "bad username", seed: adminSeed{Username: "9root", Email: "root@example.com", Password: "correct-horse"}},
		{name: "bad email", seed: adminSeed{Username: "root", Email: "root", Password: "correct-horse"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			accounts := authtest.NewAccountStore()
			_, err := seedAdmins(context.Background(), accounts, authtest.FastHasher(), []adminSeed{tt.seed}, seedNow, discardLogger())
			require.ErrorIs(t, err, auth.ErrInvalidInput)
			errutil.AssertErrorContext(t, err, "index", 0)
			assert.Zero(t, accounts.Len())
		})
	}
}

// brokenAccounts fails every Create with an infrastructure error.
type brokenAccounts struct {
	auth.AccountRepository
}

func (brokenAccounts) Create(context.Context, *auth.Account) error {
	return errors.New("connection reset")
}

func TestSeedAdmins_StoreFailureAborts(t *testing.T) {
	seeds := []adminSeed{{Username: "root", Email: "root@example.com", Password: "correct-horse"}}

	_, err := seedAdmins(context.Background(), brokenAccounts{}, authtest.FastHasher(), seeds, seedNow, discardLogger())
	errutil.AssertErrorCode(t, err, "SEED_FAILED")
	errutil.AssertErrorContext(t, err, "username", "root")
}

func TestSeedCmd_RequiresFile(t *testing.T) {
	isolateConfig(t)
	_, _, err := execute(t, &Deps{Connect: failConnect(t)}, "seed", "admins")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file")
}

func TestSeedCmd_UnreadableFileStopsBeforeConnect(t *testing.T) {
	isolateConfig(t)
	_, _, err := execute(t, &Deps{Connect: failConnect(t)}, "seed", "admins", "--file", filepath.Join(t.TempDir(), "absent.yaml"))
	errutil.AssertErrorCode(t, err, "SEED_FILE_UNREADABLE")
}

func failConnect(t *testing.T) func(context.Context, *config.Config) (Database, error) {
	return func(context.Context, *config.Config) (Database, error) {
		t.Fatal("database should not be opened")
		return nil, nil
	}
}

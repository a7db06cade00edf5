// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/pkg/errutil"
)

func TestNewAccount(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("normalizes identifiers", func(t *testing.T) {
		account, err := auth.NewAccount(" Alice ", " Alice@Example.COM", "", "$argon2id$hash", auth.RoleAdmin, now)
		require.NoError(t, err)
		assert.NotEqual(t, ulid.ULID{}, account.ID)
		assert.Equal(t, "alice", account.Username)
		assert.Equal(t, "alice@example.com", account.Email)
		assert.Equal(t, "alice", account.DisplayName)
		assert.Equal(t, auth.RoleAdmin, account.Role)
		assert.False(t, account.EmailVerified)
		assert.Equal(t, now, account.CreatedAt)
		assert.Equal(t, now, account.UpdatedAt)
	})

	t.Run("rejects invalid username", func(t *testing.T) {
		_, err := auth.NewAccount("ab", "a@x.com", "", "$argon2id$hash", auth.RoleUser, now)
		errutil.AssertErrorIs(t, err, auth.ErrInvalidInput, auth.CodeInvalidInput)
	})

	t.Run("rejects invalid email", func(t *testing.T) {
		_, err := auth.NewAccount("alice", "nope", "", "$argon2id$hash", auth.RoleUser, now)
		assert.ErrorIs(t, err, auth.ErrInvalidInput)
	})

	t.Run("rejects whitespace-only password hash", func(t *testing.T) {
		_, err := auth.NewAccount("alice", "a@x.com", "", "   \t", auth.RoleUser, now)
		assert.ErrorIs(t, err, auth.ErrInvalidInput)
	})
}

func TestAccount_IsLockedAt(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Minute)
	past := now.Add(-time.Minute)

	assert.False(t, (&auth.Account{}).IsLockedAt(now))
	assert.True(t, (&auth.Account{LockedUntil: &future}).IsLockedAt(now))
	assert.False(t, (&auth.Account{LockedUntil: &past}).IsLockedAt(now))
}

func TestRole(t *testing.T) {
	tests := []struct {
		text    string
		want    auth.Role
		wantErr bool
	}{
		{"user", auth.RoleUser, false},
		{"ADMIN", auth.RoleAdmin, false},
		{" admin ", auth.RoleAdmin, false},
		{"root", auth.RoleUser, true},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := auth.ParseRole(tt.text)
			if tt.wantErr {
				assert.ErrorIs(t, err, auth.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, mustParse(t, got.String()))
		})
	}
}

func mustParse(t *testing.T, s string) auth.Role {
	t.Helper()
	r, err := auth.ParseRole(s)
	require.NoError(t, err)
	return r
}

func TestAccount_Profile(t *testing.T) {
	hash := "secret-hash"
	a := &auth.Account{ID: ulid.Make(), Username: "alice", Email: "a@x.com", RefreshTokenHash: &hash, PasswordHash: "pw"}
	p := a.Profile()
	assert.Equal(t, a.ID, p.ID)
	assert.Equal(t, "alice", p.Username)
}

func TestSecretMatches(t *testing.T) {
	stored := auth.HashSecret("token")
	assert.Len(t, stored, 64)
	assert.True(t, auth.SecretMatches("token", stored))
	assert.False(t, auth.SecretMatches("other", stored))
	assert.False(t, auth.SecretMatches("", stored))
	assert.False(t, auth.SecretMatches("token", ""))
}

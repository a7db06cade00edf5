// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/auth/postgres"
)

func createAccount(t *testing.T, username string) *auth.Account {
	t.Helper()
	ctx := context.Background()
	account, err := auth.NewAccount(username, username+"@example.com", "", "$argon2id$hash", auth.RoleUser,
		time.Now().UTC().Truncate(time.Microsecond))
	require.NoError(t, err)
	account.EmailVerified = true
	require.NoError(t, postgres.NewAccountRepository(testPool).Create(ctx, account))
	t.Cleanup(func() {
		_, _ = testPool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, account.ID.String())
	})
	return account
}

func TestAccountRepository_Integration_CreateAndLookup(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewAccountRepository(testPool)
	account := createAccount(t, "lookup_user")

	byEmail, err := repo.GetByEmail(ctx, "LOOKUP_USER@example.com")
	require.NoError(t, err)
	assert.Equal(t, account.ID, byEmail.ID)
	assert.True(t, account.CreatedAt.Equal(byEmail.CreatedAt))

	byIdentifier, err := repo.GetByIdentifier(ctx, "Lookup_User")
	require.NoError(t, err)
	assert.Equal(t, account.ID, byIdentifier.ID)

	dupEmail, err := auth.NewAccount("other_user", "lookup_user@example.com", "", "h", auth.RoleUser, time.Now())
	require.NoError(t, err)
	err = repo.Create(ctx, dupEmail)
	require.ErrorIs(t, err, auth.ErrConflict)
	assert.Equal(t, auth.FieldEmail, auth.ConflictField(err))

	dupName, err := auth.NewAccount("lookup_user", "fresh@example.com", "", "h", auth.RoleUser, time.Now())
	require.NoError(t, err)
	err = repo.Create(ctx, dupName)
	require.ErrorIs(t, err, auth.ErrConflict)
	assert.Equal(t, auth.FieldUsername, auth.ConflictField(err))

	_, err = repo.GetByUsername(ctx, "nobody_here")
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestAccountRepository_Integration_LockoutCycle(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewAccountRepository(testPool)
	account := createAccount(t, "lockout_user")
	policy := auth.DefaultLockoutPolicy()
	now := time.Now().UTC().Truncate(time.Microsecond)

	for i := 1; i < policy.Threshold; i++ {
		got, err := repo.RecordLoginFailure(ctx, account.ID, policy, now)
		require.NoError(t, err)
		assert.True(t, got.Applied)
		assert.Equal(t, i, got.FailedAttempts)
		assert.Nil(t, got.LockedUntil)
	}

	locked, err := repo.RecordLoginFailure(ctx, account.ID, policy, now)
	require.NoError(t, err)
	assert.Equal(t, policy.Threshold, locked.FailedAttempts)
	require.NotNil(t, locked.LockedUntil)
	assert.True(t, now.Add(policy.Duration).Equal(*locked.LockedUntil))

	during, err := repo.RecordLoginFailure(ctx, account.ID, policy, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, during.Applied)
	assert.Equal(t, policy.Threshold, during.FailedAttempts)

	lockedUntil, err := repo.RecordLoginSuccess(ctx, account.ID, now.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, lockedUntil)
	assert.True(t, locked.LockedUntil.Equal(*lockedUntil))
	held, err := repo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, policy.Threshold, held.FailedAttempts)
	assert.NotNil(t, held.LockedUntil)

	after, err := repo.RecordLoginFailure(ctx, account.ID, policy, now.Add(policy.Duration))
	require.NoError(t, err)
	assert.True(t, after.Applied)
	assert.Equal(t, 1, after.FailedAttempts)
	assert.Nil(t, after.LockedUntil)

	lockedUntil, err = repo.RecordLoginSuccess(ctx, account.ID, now.Add(policy.Duration))
	require.NoError(t, err)
	assert.Nil(t, lockedUntil)
	stored, err := repo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.FailedAttempts)
	assert.Nil(t, stored.LockedUntil)
	assert.True(t, now.Add(policy.Duration).Equal(stored.UpdatedAt))
}

func TestAccountRepository_Integration_ConcurrentFailuresAllCounted(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewAccountRepository(testPool)
	account := createAccount(t, "concurrent_user")
	policy := auth.LockoutPolicy{Threshold: 100, Duration: time.Minute}
	now := time.Now().UTC()

	const workers = 20
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.RecordLoginFailure(ctx, account.ID, policy, now)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := repo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, workers, stored.FailedAttempts)
}

func TestAccountRepository_Integration_RefreshRotation(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewAccountRepository(testPool)
	account := createAccount(t, "rotation_user")
	now := time.Now().UTC()

	first := "hash-1"
	require.NoError(t, repo.SetRefreshTokenHash(ctx, account.ID, &first, now))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.RotateRefreshTokenHash(ctx, account.ID, first, "hash-2", now)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	require.NoError(t, repo.SetRefreshTokenHash(ctx, account.ID, nil, now))
	stored, err := repo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.RefreshTokenHash)
}

func TestCodeRepository_Integration_SingleUseAndSupersession(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewCodeRepository(testPool)
	now := time.Now().UTC().Truncate(time.Microsecond)
	email := "codes@example.com"
	t.Cleanup(func() {
		_, _ = testPool.Exec(ctx, `DELETE FROM one_time_codes WHERE email = $1`, email)
	})

	first := auth.NewOneTimeCode(email, "111111", now, auth.DefaultCodeTTL)
	require.NoError(t, repo.Replace(ctx, first, now))
	second := auth.NewOneTimeCode(email, "222222", now, auth.DefaultCodeTTL)
	require.NoError(t, repo.Replace(ctx, second, now))

	ok, err := repo.Consume(ctx, email, first.CodeHash, now)
	require.NoError(t, err)
	assert.False(t, ok, "superseded code must not verify")

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.Consume(ctx, email, second.CodeHash, now)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestCodeRepository_Integration_Expiry(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewCodeRepository(testPool)
	now := time.Now().UTC().Truncate(time.Microsecond)
	email := "expiry@example.com"
	t.Cleanup(func() {
		_, _ = testPool.Exec(ctx, `DELETE FROM one_time_codes WHERE email = $1`, email)
	})

	code := auth.NewOneTimeCode(email, "333333", now, time.Minute)
	require.NoError(t, repo.Replace(ctx, code, now))

	ok, err := repo.Consume(ctx, email, code.CodeHash, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "code is inert at its expiry instant")

	n, err := repo.DeleteExpired(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/auth/authtest"
	"github.com/holomush/authcore/pkg/errutil"
)

func TestNewPasswordResetService_NilDependencies(t *testing.T) {
	h := authtest.NewHarness(t, nil)

	tests := []struct {
		name        string
		accounts    auth.AccountRepository
		otp         *auth.OTPEngine
		hasher      auth.PasswordHasher
		tokens      *auth.TokenEngine
		expectError string
	}{
		{"nil accounts", nil, h.OTP, h.Hasher, h.Tokens, "account repository is required"},
		{"nil otp", h.Accounts, nil, h.Hasher, h.Tokens, "otp engine is required"},
		{"nil hasher", h.Accounts, h.OTP, nil, h.Tokens, "password hasher is required"},
		{"nil tokens", h.Accounts, h.OTP, h.Hasher, nil, "token engine is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := auth.NewPasswordResetService(tt.accounts, tt.otp, tt.hasher, tt.tokens)
			require.Error(t, err)
			assert.Nil(t, svc)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestPasswordReset_RequestReset(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown email is not found", func(t *testing.T) {
		h := authtest.NewHarness(t, nil)
		err := h.Reset.RequestReset(ctx, "ghost@x.com")
		errutil.AssertErrorIs(t, err, auth.ErrNotFound, auth.CodeNotFound)
		assert.Empty(t, h.Outbox.Messages())
	})

	t.Run("known email gets a code", func(t *testing.T) {
		h := authtest.NewHarness(t, nil)
		h.Register(t, authtest.Draft("alice", "a@x.com"))
		sent := len(h.Outbox.Messages())

		require.NoError(t, h.Reset.RequestReset(ctx, " A@x.com"))
		assert.Len(t, h.Outbox.Messages(), sent+1)
		assert.NotEmpty(t, h.Outbox.LastCode("a@x.com"))
	})
}

func TestPasswordReset_ConfirmReset(t *testing.T) {
	ctx := context.Background()
	const newPassword = "N3wPassword!"

	setup := func(t *testing.T) (*authtest.Harness, *auth.Account, *auth.LoginResult, string) {
		t.Helper()
		h := authtest.NewHarness(t, nil)
		account := h.Register(t, authtest.Draft("alice", "a@x.com"))
		session, err := h.Auth.Login(ctx, auth.LoginRequest{Identifier: "alice", Password: password})
		require.NoError(t, err)
		require.NoError(t, h.Reset.RequestReset(ctx, "a@x.com"))
		return h, account, session, h.Outbox.LastCode("a@x.com")
	}

	t.Run("replaces password and revokes refresh", func(t *testing.T) {
		h, account, session, code := setup(t)

		require.NoError(t, h.Reset.ConfirmReset(ctx, "a@x.com", code, newPassword))

		_, err := h.Auth.Login(ctx, auth.LoginRequest{Identifier: "alice", Password: password})
		assert.ErrorIs(t, err, auth.ErrInvalidCredential)
		_, err = h.Auth.Login(ctx, auth.LoginRequest{Identifier: "alice", Password: newPassword})
		assert.NoError(t, err)

		_, err = h.Auth.RefreshTokens(ctx, session.Tokens.RefreshToken)
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
		assert.NotNil(t, h.Store.Get(account.ID).RefreshTokenHash, "the new login holds the live token")
	})

	t.Run("wrong code changes nothing", func(t *testing.T) {
		h, account, session, code := setup(t)
		wrong := "000000"
		if code == wrong {
			wrong = "999999"
		}
		before := h.Store.Get(account.ID)

		err := h.Reset.ConfirmReset(ctx, "a@x.com", wrong, newPassword)
		errutil.AssertErrorIs(t, err, auth.ErrInvalidCredential, auth.CodeInvalidCredentials)

		after := h.Store.Get(account.ID)
		assert.Equal(t, before.PasswordHash, after.PasswordHash)
		_, err = h.Auth.RefreshTokens(ctx, session.Tokens.RefreshToken)
		assert.NoError(t, err)
	})

	t.Run("code is single use", func(t *testing.T) {
		h, _, _, code := setup(t)
		require.NoError(t, h.Reset.ConfirmReset(ctx, "a@x.com", code, newPassword))
		err := h.Reset.ConfirmReset(ctx, "a@x.com", code, "An0therPassword")
		assert.ErrorIs(t, err, auth.ErrInvalidCredential)
	})

	t.Run("weak password is rejected before the code is spent", func(t *testing.T) {
		h, _, _, code := setup(t)
		err := h.Reset.ConfirmReset(ctx, "a@x.com", code, "short")
		errutil.AssertErrorIs(t, err, auth.ErrInvalidInput, auth.CodeInvalidInput)
		assert.Equal(t, "password", auth.InvalidField(err))

		require.NoError(t, h.Reset.ConfirmReset(ctx, "a@x.com", code, newPassword))
	})

	t.Run("revoke failure keeps the old password", func(t *testing.T) {
		store := &revokeFailStore{}
		h := authtest.NewHarness(t, nil, func(h *authtest.Harness) {
			store.AccountStore = h.Store
			h.Accounts = store
		})
		account := h.Register(t, authtest.Draft("alice", "a@x.com"))
		require.NoError(t, h.Reset.RequestReset(ctx, "a@x.com"))
		before := h.Store.Get(account.ID)

		store.failAfter(0)
		err := h.Reset.ConfirmReset(ctx, "a@x.com", h.Outbox.LastCode("a@x.com"), newPassword)
		errutil.AssertErrorCode(t, err, "TOKEN_REVOKE_FAILED")
		assert.Equal(t, before.PasswordHash, h.Store.Get(account.ID).PasswordHash)

		store.armed.Store(false)
		_, err = h.Auth.Login(ctx, auth.LoginRequest{Identifier: "alice", Password: password})
		assert.NoError(t, err)
	})

	t.Run("revoke failure after the password change only logs", func(t *testing.T) {
		var buf bytes.Buffer
		store := &revokeFailStore{}
		h := authtest.NewHarness(t, []auth.Option{auth.WithLogger(slog.New(slog.NewJSONHandler(&buf, nil)))},
			func(h *authtest.Harness) {
				store.AccountStore = h.Store
				h.Accounts = store
			})
		h.Register(t, authtest.Draft("alice", "a@x.com"))
		require.NoError(t, h.Reset.RequestReset(ctx, "a@x.com"))

		store.failAfter(1)
		require.NoError(t, h.Reset.ConfirmReset(ctx, "a@x.com", h.Outbox.LastCode("a@x.com"), newPassword))
		assert.Contains(t, buf.String(), "refresh revoke after password reset failed")

		store.armed.Store(false)
		_, err := h.Auth.Login(ctx, auth.LoginRequest{Identifier: "alice", Password: newPassword})
		assert.NoError(t, err)
	})

	t.Run("unknown email", func(t *testing.T) {
		h := authtest.NewHarness(t, nil)
		err := h.Reset.ConfirmReset(ctx, "ghost@x.com", "123456", newPassword)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("registration code cannot be replayed for reset", func(t *testing.T) {
		h := authtest.NewHarness(t, nil)
		draft := authtest.Draft("alice", "a@x.com")
		require.NoError(t, h.Registration.Initiate(ctx, draft))
		code := h.Outbox.LastCode("a@x.com")
		_, err := h.Registration.Complete(ctx, draft, code)
		require.NoError(t, err)

		err = h.Reset.ConfirmReset(ctx, "a@x.com", code, newPassword)
		assert.ErrorIs(t, err, auth.ErrInvalidCredential)
	})
}

// revokeFailStore fails refresh hash writes once armed, after letting a set
// number through.
type revokeFailStore struct {
	*authtest.AccountStore
	armed  atomic.Bool
	passes atomic.Int32
}

func (s *revokeFailStore) failAfter(n int32) {
	s.passes.Store(n)
	s.armed.Store(true)
}

func (s *revokeFailStore) SetRefreshTokenHash(ctx context.Context, id ulid.ULID, hash *string, now time.Time) error {
	if s.armed.Load() && s.passes.Add(-1) < 0 {
		return errors.New("connection reset")
	}
	return s.AccountStore.SetRefreshTokenHash(ctx, id, hash, now)
}

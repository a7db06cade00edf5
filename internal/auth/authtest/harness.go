// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package authtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/internal/auth"
)

// Test signing keys. Each is exactly auth.MinSecretLength bytes.
const (
	AccessSecret  = "access-secret-for-tests-0123456!"
	RefreshSecret = "refresh-secret-for-tests-012345!"
)

// Harness wires every engine and service over in-memory stores and a manual
// clock.
type Harness struct {
	Clock    *Clock
	Accounts auth.AccountRepository
	Store    *AccountStore
	Codes    auth.CodeRepository
	Outbox   *Outbox
	Hasher   *auth.Argon2idHasher
	Signer   *auth.JWTSigner

	OTP          *auth.OTPEngine
	Tokens       *auth.TokenEngine
	Registration *auth.RegistrationService
	Auth         *auth.Service
	Reset        *auth.PasswordResetService
}

// HarnessOption customizes a Harness before services are built.
type HarnessOption func(*Harness)

// WithCodes replaces the in-memory code store.
func WithCodes(codes auth.CodeRepository) HarnessOption {
	return func(h *Harness) { h.Codes = codes }
}

// WithAccounts replaces the in-memory account store.
func WithAccounts(accounts auth.AccountRepository) HarnessOption {
	return func(h *Harness) { h.Accounts = accounts }
}

// NewHarness builds a Harness. Extra auth options apply to every service.
func NewHarness(t testing.TB, opts []auth.Option, hopts ...HarnessOption) *Harness {
	t.Helper()

	store := NewAccountStore()
	h := &Harness{
		Clock:    NewClock(time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)),
		Accounts: store,
		Store:    store,
		Codes:    NewCodeStore(),
		Outbox:   NewOutbox(),
		Hasher:   FastHasher(),
	}
	for _, o := range hopts {
		o(h)
	}

	all := append([]auth.Option{auth.WithClock(h.Clock.Now)}, opts...)

	var err error
	h.Signer, err = auth.NewJWTSigner(auth.JWTSignerConfig{
		AccessSecret:  []byte(AccessSecret),
		RefreshSecret: []byte(RefreshSecret),
		Issuer:        "authcore-test",
		Now:           h.Clock.Now,
	})
	require.NoError(t, err)

	h.OTP, err = auth.NewOTPEngine(h.Codes, h.Outbox, auth.DefaultCodeConfig(), all...)
	require.NoError(t, err)
	h.Tokens, err = auth.NewTokenEngine(h.Accounts, h.Signer, auth.DefaultTokenConfig(), all...)
	require.NoError(t, err)
	h.Registration, err = auth.NewRegistrationService(h.Accounts, h.OTP, h.Hasher, all...)
	require.NoError(t, err)
	h.Auth, err = auth.NewAuthService(h.Accounts, h.Hasher, h.Tokens, all...)
	require.NoError(t, err)
	h.Reset, err = auth.NewPasswordResetService(h.Accounts, h.OTP, h.Hasher, h.Tokens, all...)
	require.NoError(t, err)
	return h
}

// Register runs Initiate and Complete with the delivered code.
func (h *Harness) Register(t testing.TB, draft auth.RegistrationDraft) *auth.Account {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.Registration.Initiate(ctx, draft))
	code := h.Outbox.LastCode(auth.NormalizeEmail(draft.Email))
	require.NotEmpty(t, code)
	account, err := h.Registration.Complete(ctx, draft, code)
	require.NoError(t, err)
	return account
}

// Draft returns a valid registration draft.
func Draft(username, email string) auth.RegistrationDraft {
	return auth.RegistrationDraft{
		Username:  username,
		Email:     email,
		Password:  "Abc12345!",
		FirstName: "Test",
		LastName:  "User",
	}
}

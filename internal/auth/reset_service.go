// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"

	"github.com/samber/oops"

	"github.com/holomush/authcore/pkg/errutil"
)

// PasswordResetService replaces a password after proving control of the
// account's email with a one-time code.
type PasswordResetService struct {
	accounts AccountRepository
	otp      *OTPEngine
	hasher   PasswordHasher
	tokens   *TokenEngine
	opts     options
}

// NewPasswordResetService creates a new PasswordResetService.
func NewPasswordResetService(
	accounts AccountRepository,
	otp *OTPEngine,
	hasher PasswordHasher,
	tokens *TokenEngine,
	opts ...Option,
) (*PasswordResetService, error) {
	if accounts == nil {
		return nil, oops.Errorf("account repository is required")
	}
	if otp == nil {
		return nil, oops.Errorf("otp engine is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if tokens == nil {
		return nil, oops.Errorf("token engine is required")
	}
	return &PasswordResetService{
		accounts: accounts,
		otp:      otp,
		hasher:   hasher,
		tokens:   tokens,
		opts:     newOptions(opts),
	}, nil
}

// RequestReset sends a reset code to an existing account's email.
// Unknown emails return ErrNotFound.
func (s *PasswordResetService) RequestReset(ctx context.Context, email string) error {
	if _, err := s.lookup(ctx, email); err != nil {
		return err
	}
	return s.otp.Send(ctx, email)
}

// ConfirmReset verifies the code, revokes the account's refresh token and
// replaces the password. The refresh token is revoked before the password
// changes, so any error return leaves the old password in place.
func (s *PasswordResetService) ConfirmReset(ctx context.Context, email, code, newPassword string) (err error) {
	ctx, span := startSpan(ctx, "auth.reset.confirm")
	defer func() { endSpan(span, err) }()

	account, err := s.lookup(ctx, email)
	if err != nil {
		return err
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	ok, err := s.otp.Verify(ctx, account.Email, code)
	if err != nil {
		return err
	}
	if !ok {
		return invalidCredentials()
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("RESET_PASSWORD_FAILED").With("operation", "hash password").Wrap(err)
	}

	// Outstanding refresh tokens were issued against the old password.
	if err := s.tokens.Revoke(ctx, account.ID); err != nil {
		return err
	}
	if err := s.accounts.UpdatePassword(ctx, account.ID, hash, s.opts.now()); err != nil {
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "update password").
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	// A login with the old password may have landed between the two writes.
	// The password change already holds, so this one only logs.
	if err := s.tokens.Revoke(ctx, account.ID); err != nil {
		errutil.LogWarnContext(ctx, s.opts.logger, "refresh revoke after password reset failed", err)
	}

	s.opts.logger.InfoContext(ctx, "password reset", "account_id", account.ID.String())
	return nil
}

func (s *PasswordResetService) lookup(ctx context.Context, email string) (*Account, error) {
	account, err := s.accounts.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, notFound("account")
		}
		return nil, oops.Code("RESET_REQUEST_FAILED").With("operation", "get account by email").Wrap(err)
	}
	return account, nil
}

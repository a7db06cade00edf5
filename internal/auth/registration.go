// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"

	"github.com/samber/oops"
)

// RegistrationService gates account creation behind email verification.
// The draft is held by the client between Initiate and Complete; no account
// row exists until the code is verified.
type RegistrationService struct {
	accounts AccountRepository
	otp      *OTPEngine
	hasher   PasswordHasher
	opts     options
}

// NewRegistrationService creates a RegistrationService.
func NewRegistrationService(accounts AccountRepository, otp *OTPEngine, hasher PasswordHasher, opts ...Option) (*RegistrationService, error) {
	if accounts == nil {
		return nil, oops.Errorf("account repository is required")
	}
	if otp == nil {
		return nil, oops.Errorf("otp engine is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	return &RegistrationService{accounts: accounts, otp: otp, hasher: hasher, opts: newOptions(opts)}, nil
}

// Initiate validates the draft, checks that username and email are free, and
// sends a verification code to the email.
func (s *RegistrationService) Initiate(ctx context.Context, draft RegistrationDraft) error {
	draft = draft.Normalized()
	if err := draft.Validate(); err != nil {
		return err
	}
	if err := checkCaptcha(ctx, s.opts.captcha, draft.CaptchaToken); err != nil {
		return err
	}
	if err := s.ensureAvailable(ctx, draft); err != nil {
		return err
	}
	return s.otp.Send(ctx, draft.Email)
}

// Complete verifies the code and creates a verified account from the
// resubmitted draft. An invalid code mutates nothing. A username or email
// taken since Initiate is reported before the code is checked, so the code
// stays usable with a corrected draft. Create still has the final say; a
// conflict it reports comes after the code is spent and needs ResendOTP.
func (s *RegistrationService) Complete(ctx context.Context, draft RegistrationDraft, code string) (account *Account, err error) {
	ctx, span := startSpan(ctx, "auth.registration.complete")
	defer func() { endSpan(span, err) }()

	draft = draft.Normalized()
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	// Another registration may have finished since Initiate.
	if err := s.ensureAvailable(ctx, draft); err != nil {
		return nil, err
	}

	ok, err := s.otp.Verify(ctx, draft.Email, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, invalidCredentials()
	}

	hash, err := s.hasher.Hash(draft.Password)
	if err != nil {
		return nil, oops.Code("REGISTRATION_FAILED").With("operation", "hash password").Wrap(err)
	}
	account, err = NewAccount(draft.Username, draft.Email, draft.DisplayName(), hash, RoleUser, s.opts.now())
	if err != nil {
		return nil, err
	}
	account.EmailVerified = true

	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, err
		}
		return nil, oops.Code("REGISTRATION_FAILED").With("operation", "create account").Wrap(err)
	}

	s.opts.logger.InfoContext(ctx, "account registered", "account_id", account.ID.String())
	return account, nil
}

// ResendOTP sends a fresh code, superseding the previous one. It does not
// check whether the email belongs to an account.
func (s *RegistrationService) ResendOTP(ctx context.Context, email string) error {
	return s.otp.Send(ctx, email)
}

// ensureAvailable checks username first, then email.
func (s *RegistrationService) ensureAvailable(ctx context.Context, draft RegistrationDraft) error {
	if _, err := s.accounts.GetByUsername(ctx, draft.Username); err == nil {
		return ConflictError(FieldUsername)
	} else if !errors.Is(err, ErrNotFound) {
		return oops.Code("REGISTRATION_FAILED").With("operation", "check username").Wrap(err)
	}
	if _, err := s.accounts.GetByEmail(ctx, draft.Email); err == nil {
		return ConflictError(FieldEmail)
	} else if !errors.Is(err, ErrNotFound) {
		return oops.Code("REGISTRATION_FAILED").With("operation", "check email").Wrap(err)
	}
	return nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authcore/pkg/errutil"
)

// LoginRequest carries login input. Identifier is an email or a username.
type LoginRequest struct {
	Identifier   string
	Password     string
	CaptchaToken string
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Account *Account
	Tokens  *TokenPair
}

// Service provides login, session and account operations.
type Service struct {
	accounts AccountRepository
	hasher   PasswordHasher
	tokens   *TokenEngine
	opts     options
	dummy    string
}

// NewAuthService creates a new Service.
func NewAuthService(accounts AccountRepository, hasher PasswordHasher, tokens *TokenEngine, opts ...Option) (*Service, error) {
	if accounts == nil {
		return nil, oops.Errorf("account repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if tokens == nil {
		return nil, oops.Errorf("token engine is required")
	}
	o := newOptions(opts)
	if err := o.lockout.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		accounts: accounts,
		hasher:   hasher,
		tokens:   tokens,
		opts:     o,
		dummy:    dummyHashFor(hasher),
	}, nil
}

// Login authenticates by email or username and issues a token pair.
//
// Order matters: the CAPTCHA gate runs before any store access, an active
// lock is reported without comparing the password, and an unknown identifier
// is indistinguishable from a wrong password.
func (s *Service) Login(ctx context.Context, req LoginRequest) (result *LoginResult, err error) {
	ctx, span := startSpan(ctx, "auth.login")
	defer func() {
		s.opts.metrics.ObserveLogin(outcomeOf(err))
		endSpan(span, err)
	}()

	if err := checkCaptcha(ctx, s.opts.captcha, req.CaptchaToken); err != nil {
		return nil, err
	}

	identifier := NormalizeIdentifier(req.Identifier)
	account, err := s.accounts.GetByIdentifier(ctx, identifier)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "get account by identifier").Wrap(err)
		}
		// Equalize timing with the wrong-password path.
		_, _ = s.hasher.Verify(req.Password, s.dummy) //nolint:errcheck // result is discarded
		return nil, invalidCredentials()
	}

	now := s.opts.now()
	if account.IsLockedAt(now) {
		return nil, accountLocked(LockoutRemaining(account.LockedUntil, now))
	}
	if !account.EmailVerified {
		return nil, oops.Code(CodeEmailNotVerified).Wrap(ErrEmailNotVerified)
	}

	valid, err := s.hasher.Verify(req.Password, account.PasswordHash)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	if !valid {
		return nil, s.recordFailure(ctx, account)
	}

	// A concurrent failure may have locked the account since it was read.
	lockedUntil, err := s.accounts.RecordLoginSuccess(ctx, account.ID, now)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "reset failure counter").Wrap(err)
	}
	if lockedUntil != nil {
		return nil, accountLocked(LockoutRemaining(lockedUntil, now))
	}
	account.FailedAttempts = 0
	account.LockedUntil = nil

	s.upgradeHash(ctx, account, req.Password)

	pair, err := s.tokens.Issue(ctx, account)
	if err != nil {
		return nil, err
	}
	s.opts.logger.InfoContext(ctx, "login succeeded", "account_id", account.ID.String())
	return &LoginResult{Account: account, Tokens: pair}, nil
}

func (s *Service) recordFailure(ctx context.Context, account *Account) error {
	failure, err := s.accounts.RecordLoginFailure(ctx, account.ID, s.opts.lockout, s.opts.now())
	if err != nil {
		return oops.Code("AUTH_LOGIN_FAILED").With("operation", "record login failure").Wrap(err)
	}
	if failure.Applied && failure.LockedUntil != nil {
		s.opts.metrics.ObserveLockout()
		s.opts.logger.WarnContext(ctx, "account locked",
			"account_id", account.ID.String(),
			"failed_attempts", failure.FailedAttempts,
			"locked_until", *failure.LockedUntil,
		)
	}
	return invalidCredentials()
}

// upgradeHash rehashes the password when hasher parameters changed. Failure
// does not fail the login.
func (s *Service) upgradeHash(ctx context.Context, account *Account, password string) {
	if !s.hasher.NeedsUpgrade(account.PasswordHash) {
		return
	}
	hash, err := s.hasher.Hash(password)
	if err == nil {
		err = s.accounts.UpdatePassword(ctx, account.ID, hash, s.opts.now())
	}
	if err != nil {
		errutil.LogWarnContext(ctx, s.opts.logger, "password rehash failed", err)
		return
	}
	account.PasswordHash = hash
}

// RefreshTokens exchanges a refresh token for a new pair.
func (s *Service) RefreshTokens(ctx context.Context, refreshToken string) (*TokenPair, error) {
	return s.tokens.Refresh(ctx, refreshToken)
}

// Logout revokes the account's refresh token.
func (s *Service) Logout(ctx context.Context, accountID ulid.ULID) error {
	if err := s.tokens.Revoke(ctx, accountID); err != nil {
		return err
	}
	s.opts.logger.InfoContext(ctx, "logged out", "account_id", accountID.String())
	return nil
}

// ValidateAccessToken returns the claims of a valid access token.
func (s *Service) ValidateAccessToken(token string) (*Claims, error) {
	return s.tokens.ValidateAccess(token)
}

// Profile returns the public view of an account.
func (s *Service) Profile(ctx context.Context, accountID ulid.ULID) (*Profile, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, oops.Code("AUTH_PROFILE_FAILED").With("operation", "get account").Wrap(err)
	}
	profile := account.Profile()
	return &profile, nil
}

// ListAccounts returns public views of all accounts.
func (s *Service) ListAccounts(ctx context.Context) ([]Profile, error) {
	accounts, err := s.accounts.List(ctx)
	if err != nil {
		return nil, oops.Code("AUTH_LIST_FAILED").With("operation", "list accounts").Wrap(err)
	}
	profiles := make([]Profile, 0, len(accounts))
	for _, a := range accounts {
		profiles = append(profiles, a.Profile())
	}
	return profiles, nil
}

// SetEmailVerified sets the verification flag. Marking an account unverified
// also revokes its refresh token, so it cannot log in or refresh until
// verified again.
func (s *Service) SetEmailVerified(ctx context.Context, accountID ulid.ULID, verified bool) error {
	if err := s.accounts.SetEmailVerified(ctx, accountID, verified, s.opts.now()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return oops.Code("AUTH_VERIFY_FAILED").With("operation", "set email verified").Wrap(err)
	}
	if !verified {
		return s.tokens.Revoke(ctx, accountID)
	}
	return nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Token defaults.
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// TokenType distinguishes access from refresh tokens.
type TokenType string

// Token types.
const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// Claims is the signed payload of a session token. Refresh tokens carry only
// the identity fields.
type Claims struct {
	ID            string // jti
	AccountID     ulid.ULID
	Email         string
	Username      string
	EmailVerified bool
	Role          Role
	Type          TokenType
	IssuedAt      time.Time
	ExpiresAt     time.Time
}

// TokenSigner signs and verifies claims. Access and refresh tokens use
// independent keys.
type TokenSigner interface {
	Sign(claims Claims, typ TokenType) (string, error)
	Parse(token string, typ TokenType) (*Claims, error)
}

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// TokenConfig sets token lifetimes.
type TokenConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// DefaultTokenConfig returns 15 minute access and 7 day refresh lifetimes.
func DefaultTokenConfig() TokenConfig {
	return TokenConfig{AccessTTL: DefaultAccessTTL, RefreshTTL: DefaultRefreshTTL}
}

// TokenEngine issues, rotates, validates and revokes session tokens. The
// account row holds the hash of the single live refresh token.
type TokenEngine struct {
	accounts AccountRepository
	signer   TokenSigner
	cfg      TokenConfig
	opts     options
}

// NewTokenEngine creates a TokenEngine.
func NewTokenEngine(accounts AccountRepository, signer TokenSigner, cfg TokenConfig, opts ...Option) (*TokenEngine, error) {
	if accounts == nil {
		return nil, oops.Errorf("account repository is required")
	}
	if signer == nil {
		return nil, oops.Errorf("token signer is required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, oops.With("access_ttl", cfg.AccessTTL).With("refresh_ttl", cfg.RefreshTTL).
			Errorf("token lifetimes must be positive")
	}
	if cfg.AccessTTL >= cfg.RefreshTTL {
		return nil, oops.Errorf("access lifetime must be shorter than refresh lifetime")
	}
	return &TokenEngine{accounts: accounts, signer: signer, cfg: cfg, opts: newOptions(opts)}, nil
}

// Issue signs a new pair for account and makes its refresh token the only
// live one.
func (e *TokenEngine) Issue(ctx context.Context, account *Account) (pair *TokenPair, err error) {
	defer func() { e.opts.metrics.ObserveToken(OperationIssue, outcomeOf(err)) }()

	pair, err = e.sign(account)
	if err != nil {
		return nil, err
	}
	hash := HashSecret(pair.RefreshToken)
	if err := e.accounts.SetRefreshTokenHash(ctx, account.ID, &hash, e.opts.now()); err != nil {
		return nil, oops.Code("TOKEN_ISSUE_FAILED").
			With("operation", "store refresh hash").
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	return pair, nil
}

// Refresh exchanges a live refresh token for a new pair. The presented token
// stops working once this returns. Every rejection is ErrInvalidToken.
func (e *TokenEngine) Refresh(ctx context.Context, refreshToken string) (pair *TokenPair, err error) {
	ctx, span := startSpan(ctx, "auth.token.refresh")
	defer func() {
		e.opts.metrics.ObserveToken(OperationRefresh, outcomeOf(err))
		endSpan(span, err)
	}()

	claims, err := e.signer.Parse(refreshToken, TokenRefresh)
	if err != nil {
		return nil, err
	}

	account, err := e.accounts.GetByID(ctx, claims.AccountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, invalidToken("account not found")
		}
		return nil, oops.Code("TOKEN_REFRESH_FAILED").With("operation", "get account").Wrap(err)
	}
	if account.RefreshTokenHash == nil {
		return nil, invalidToken("no live refresh token")
	}
	expected := *account.RefreshTokenHash
	if !SecretMatches(refreshToken, expected) {
		return nil, invalidToken("refresh token superseded")
	}

	pair, err = e.sign(account)
	if err != nil {
		return nil, err
	}
	rotated, err := e.accounts.RotateRefreshTokenHash(ctx, account.ID, expected, HashSecret(pair.RefreshToken), e.opts.now())
	if err != nil {
		return nil, oops.Code("TOKEN_REFRESH_FAILED").With("operation", "rotate refresh hash").Wrap(err)
	}
	if !rotated {
		return nil, invalidToken("refresh token superseded")
	}
	return pair, nil
}

// ValidateAccess checks signature, lifetime and type of an access token.
// It does not consult the store.
func (e *TokenEngine) ValidateAccess(token string) (claims *Claims, err error) {
	defer func() { e.opts.metrics.ObserveToken(OperationValidate, outcomeOf(err)) }()
	return e.signer.Parse(token, TokenAccess)
}

// Revoke clears the stored refresh hash so no refresh token for the account
// is accepted. Access tokens stay valid until they expire.
func (e *TokenEngine) Revoke(ctx context.Context, accountID ulid.ULID) (err error) {
	defer func() { e.opts.metrics.ObserveToken(OperationRevoke, outcomeOf(err)) }()

	if err := e.accounts.SetRefreshTokenHash(ctx, accountID, nil, e.opts.now()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return oops.Code("TOKEN_REVOKE_FAILED").
			With("operation", "clear refresh hash").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return nil
}

func (e *TokenEngine) sign(account *Account) (*TokenPair, error) {
	now := e.opts.now()
	access := Claims{
		ID:            ulid.Make().String(),
		AccountID:     account.ID,
		Email:         account.Email,
		Username:      account.Username,
		EmailVerified: account.EmailVerified,
		Role:          account.Role,
		IssuedAt:      now,
		ExpiresAt:     now.Add(e.cfg.AccessTTL),
	}
	refresh := Claims{
		ID:        ulid.Make().String(),
		AccountID: account.ID,
		IssuedAt:  now,
		ExpiresAt: now.Add(e.cfg.RefreshTTL),
	}

	accessToken, err := e.signer.Sign(access, TokenAccess)
	if err != nil {
		return nil, oops.Code("TOKEN_SIGN_FAILED").With("operation", "sign access token").Wrap(err)
	}
	refreshToken, err := e.signer.Sign(refresh, TokenRefresh)
	if err != nil {
		return nil, oops.Code("TOKEN_SIGN_FAILED").With("operation", "sign refresh token").Wrap(err)
	}
	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Role is the closed set of account roles.
type Role uint8

// Account roles.
const (
	RoleUser Role = iota
	RoleAdmin
)

// String returns the stored text form of the role.
func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	default:
		return "user"
	}
}

// ParseRole parses the text form of a role.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user":
		return RoleUser, nil
	case "admin":
		return RoleAdmin, nil
	default:
		return RoleUser, oops.Code(CodeInvalidInput).With("role", s).Wrapf(ErrInvalidInput, "unknown role %q", s)
	}
}

// Account is a registered identity and its per-account security state.
type Account struct {
	ID               ulid.ULID
	Username         string
	Email            string
	PasswordHash     string
	DisplayName      string
	Role             Role
	EmailVerified    bool
	FailedAttempts   int
	LockedUntil      *time.Time
	RefreshTokenHash *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewAccount creates an Account with normalized identifiers and a fresh ID.
func NewAccount(username, email, displayName, passwordHash string, role Role, now time.Time) (*Account, error) {
	username = NormalizeUsername(username)
	email = NormalizeEmail(email)
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if strings.TrimSpace(passwordHash) == "" {
		return nil, oops.Code(CodeInvalidInput).Wrapf(ErrInvalidInput, "password hash cannot be empty")
	}
	if strings.TrimSpace(displayName) == "" {
		displayName = username
	}
	return &Account{
		ID:           ulid.Make(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		DisplayName:  strings.TrimSpace(displayName),
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// IsLockedAt reports whether a lockout is active at now.
func (a *Account) IsLockedAt(now time.Time) bool {
	return IsLockedOut(a.LockedUntil, now)
}

// Profile is the public view of an account.
type Profile struct {
	ID            ulid.ULID
	Username      string
	Email         string
	DisplayName   string
	Role          Role
	EmailVerified bool
	CreatedAt     time.Time
}

// Profile returns the public view of the account.
func (a *Account) Profile() Profile {
	return Profile{
		ID:            a.ID,
		Username:      a.Username,
		Email:         a.Email,
		DisplayName:   a.DisplayName,
		Role:          a.Role,
		EmailVerified: a.EmailVerified,
		CreatedAt:     a.CreatedAt,
	}
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeUsername trims and lower-cases a username.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// NormalizeIdentifier normalizes a login identifier, which may be an email or
// a username. Both normalize the same way.
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// LoginFailure reports the outcome of RecordLoginFailure.
type LoginFailure struct {
	// Applied is false when a lock was active and nothing changed.
	Applied        bool
	FailedAttempts int
	LockedUntil    *time.Time
}

// Locked reports whether the failure left the account locked at now.
func (f LoginFailure) Locked(now time.Time) bool {
	return IsLockedOut(f.LockedUntil, now)
}

// AccountRepository persists accounts. Implementations must make
// RecordLoginFailure, RecordLoginSuccess and RotateRefreshTokenHash atomic per
// account. Updates stamp updated_at with the now passed in.
type AccountRepository interface {
	// Create stores a new account. Returns ErrConflict naming the field when
	// the email or username is taken.
	Create(ctx context.Context, account *Account) error

	// GetByID returns ErrNotFound when absent.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByEmail looks up by normalized email.
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// GetByUsername looks up by normalized username.
	GetByUsername(ctx context.Context, username string) (*Account, error)

	// GetByIdentifier matches either email or username.
	GetByIdentifier(ctx context.Context, identifier string) (*Account, error)

	// List returns all accounts ordered by creation time.
	List(ctx context.Context) ([]*Account, error)

	// RecordLoginFailure resets the counter if an expired lock is present,
	// increments it, and sets a lock when the threshold is reached, all in one
	// atomic step. Nothing changes while a lock is active.
	RecordLoginFailure(ctx context.Context, id ulid.ULID, policy LockoutPolicy, now time.Time) (LoginFailure, error)

	// RecordLoginSuccess zeroes the counter and clears an expired lock in one
	// atomic step. When a lock is active at now, nothing changes and its
	// expiry is returned.
	RecordLoginSuccess(ctx context.Context, id ulid.ULID, now time.Time) (lockedUntil *time.Time, err error)

	// SetRefreshTokenHash overwrites the stored refresh hash; nil clears it.
	SetRefreshTokenHash(ctx context.Context, id ulid.ULID, hash *string, now time.Time) error

	// RotateRefreshTokenHash replaces the stored hash only if it still equals
	// expected. Returns false when another writer got there first.
	RotateRefreshTokenHash(ctx context.Context, id ulid.ULID, expected, next string, now time.Time) (bool, error)

	// UpdatePassword replaces the password hash.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string, now time.Time) error

	// SetEmailVerified updates the verification flag.
	SetEmailVerified(ctx context.Context, id ulid.ULID, verified bool, now time.Time) error
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth"
)

// Compile-time interface check.
var _ auth.AccountRepository = (*AccountRepository)(nil)

const accountColumns = `id, username, email, password_hash, display_name, role,
		       email_verified, failed_attempts, locked_until, refresh_token_hash,
		       created_at, updated_at`

// AccountRepository implements auth.AccountRepository using PostgreSQL.
type AccountRepository struct {
	pool Pool
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(pool Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// Create stores a new account.
func (r *AccountRepository) Create(ctx context.Context, account *auth.Account) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO accounts (
			id, username, email, password_hash, display_name, role,
			email_verified, failed_attempts, locked_until, refresh_token_hash,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		account.ID.String(),
		account.Username,
		account.Email,
		account.PasswordHash,
		account.DisplayName,
		account.Role.String(),
		account.EmailVerified,
		account.FailedAttempts,
		account.LockedUntil,
		account.RefreshTokenHash,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if constraint, ok := uniqueViolation(err); ok {
		switch constraint {
		case constraintAccountsEmail:
			return auth.ConflictError(auth.FieldEmail)
		case constraintAccountsUsername:
			return auth.ConflictError(auth.FieldUsername)
		default:
			return oops.Code(auth.CodeConflict).With("constraint", constraint).Wrap(auth.ErrConflict)
		}
	}
	if err != nil {
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			With("username", account.Username).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id.String())
	return r.get(row, "id", id.String())
}

// GetByEmail retrieves an account by normalized email.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	email = auth.NormalizeEmail(email)
	row := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
	return r.get(row, "email", email)
}

// GetByUsername retrieves an account by normalized username.
func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (*auth.Account, error) {
	username = auth.NormalizeUsername(username)
	row := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE username = $1`, username)
	return r.get(row, "username", username)
}

// GetByIdentifier retrieves an account whose email or username matches.
// Usernames cannot contain '@', so at most one account matches.
func (r *AccountRepository) GetByIdentifier(ctx context.Context, identifier string) (*auth.Account, error) {
	identifier = auth.NormalizeIdentifier(identifier)
	row := r.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE email = $1 OR username = $1
		LIMIT 1
	`, identifier)
	return r.get(row, "identifier", identifier)
}

func (r *AccountRepository) get(row pgx.Row, key, value string) (*auth.Account, error) {
	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code(auth.CodeNotFound).With(key, value).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_FAILED").
			With("operation", "get account by "+key).
			With(key, value).
			Wrap(err)
	}
	return account, nil
}

// List returns all accounts ordered by creation time.
func (r *AccountRepository) List(ctx context.Context) ([]*auth.Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at, id`)
	if err != nil {
		return nil, oops.Code("ACCOUNT_LIST_FAILED").With("operation", "list accounts").Wrap(err)
	}
	defer rows.Close()

	var accounts []*auth.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, oops.Code("ACCOUNT_LIST_FAILED").With("operation", "scan account").Wrap(err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("ACCOUNT_LIST_FAILED").With("operation", "iterate accounts").Wrap(err)
	}
	return accounts, nil
}

// RecordLoginFailure applies a failed attempt in a single UPDATE. The row lock
// taken by the UPDATE serializes concurrent failures for one account, and the
// WHERE clause leaves an actively locked row untouched.
func (r *AccountRepository) RecordLoginFailure(ctx context.Context, id ulid.ULID, policy auth.LockoutPolicy, now time.Time) (auth.LoginFailure, error) {
	var result auth.LoginFailure
	err := r.pool.QueryRow(ctx, `
		UPDATE accounts
		SET failed_attempts = CASE WHEN locked_until IS NOT NULL THEN 1 ELSE failed_attempts + 1 END,
		    locked_until = CASE
		        WHEN (CASE WHEN locked_until IS NOT NULL THEN 1 ELSE failed_attempts + 1 END) >= $3 THEN $4::timestamptz
		        ELSE NULL
		    END,
		    updated_at = $2
		WHERE id = $1 AND (locked_until IS NULL OR locked_until <= $2)
		RETURNING failed_attempts, locked_until
	`, id.String(), now, policy.Threshold, now.Add(policy.Duration)).Scan(&result.FailedAttempts, &result.LockedUntil)
	if err == nil {
		result.Applied = true
		return result, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return auth.LoginFailure{}, oops.Code("ACCOUNT_RECORD_FAILURE_FAILED").
			With("operation", "record login failure").
			With("id", id.String()).
			Wrap(err)
	}

	// Either the account is gone or a lock is active.
	account, err := r.GetByID(ctx, id)
	if err != nil {
		return auth.LoginFailure{}, err
	}
	return auth.LoginFailure{
		Applied:        false,
		FailedAttempts: account.FailedAttempts,
		LockedUntil:    account.LockedUntil,
	}, nil
}

// RecordLoginSuccess zeroes the failure counter and clears an expired lock.
// The WHERE clause leaves a row locked at now untouched, so a lock set by a
// concurrent failure after the caller read the account survives.
func (r *AccountRepository) RecordLoginSuccess(ctx context.Context, id ulid.ULID, now time.Time) (*time.Time, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE accounts
		SET failed_attempts = 0, locked_until = NULL, updated_at = $2
		WHERE id = $1 AND (locked_until IS NULL OR locked_until <= $2)
	`, id.String(), now)
	if err != nil {
		return nil, oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "record login success").
			With("id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 1 {
		return nil, nil
	}

	// Either the account is gone or a lock is active.
	account, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if account.IsLockedAt(now) {
		return account.LockedUntil, nil
	}
	return nil, nil
}

// SetRefreshTokenHash overwrites or clears the stored refresh token hash.
func (r *AccountRepository) SetRefreshTokenHash(ctx context.Context, id ulid.ULID, hash *string, now time.Time) error {
	return r.exec(ctx, "set refresh token hash", id, `
		UPDATE accounts SET refresh_token_hash = $2, updated_at = $3 WHERE id = $1
	`, id.String(), hash, now)
}

// RotateRefreshTokenHash replaces the refresh hash only while it still equals
// expected.
func (r *AccountRepository) RotateRefreshTokenHash(ctx context.Context, id ulid.ULID, expected, next string, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE accounts
		SET refresh_token_hash = $3, updated_at = $4
		WHERE id = $1 AND refresh_token_hash = $2
	`, id.String(), expected, next, now)
	if err != nil {
		return false, oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "rotate refresh token hash").
			With("id", id.String()).
			Wrap(err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdatePassword replaces the password hash.
func (r *AccountRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string, now time.Time) error {
	return r.exec(ctx, "update password", id, `
		UPDATE accounts SET password_hash = $2, updated_at = $3 WHERE id = $1
	`, id.String(), passwordHash, now)
}

// SetEmailVerified updates the verification flag.
func (r *AccountRepository) SetEmailVerified(ctx context.Context, id ulid.ULID, verified bool, now time.Time) error {
	return r.exec(ctx, "set email verified", id, `
		UPDATE accounts SET email_verified = $2, updated_at = $3 WHERE id = $1
	`, id.String(), verified, now)
}

// exec runs a single-row UPDATE and maps zero affected rows to ErrNotFound.
func (r *AccountRepository) exec(ctx context.Context, operation string, id ulid.ULID, sql string, args ...any) error {
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", operation).
			With("id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code(auth.CodeNotFound).With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

func scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		account auth.Account
		idStr   string
		roleStr string
	)
	err := row.Scan(
		&idStr,
		&account.Username,
		&account.Email,
		&account.PasswordHash,
		&account.DisplayName,
		&roleStr,
		&account.EmailVerified,
		&account.FailedAttempts,
		&account.LockedUntil,
		&account.RefreshTokenHash,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with operation context
	}

	account.ID, err = ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ACCOUNT_CORRUPT").With("operation", "parse account id").With("id", idStr).Wrap(err)
	}
	account.Role, err = auth.ParseRole(roleStr)
	if err != nil {
		return nil, oops.Code("ACCOUNT_CORRUPT").With("operation", "parse role").With("id", idStr).Errorf("unknown role %q", roleStr)
	}
	return &account, nil
}

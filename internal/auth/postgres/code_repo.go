// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth"
)

// Compile-time interface check.
var _ auth.CodeRepository = (*CodeRepository)(nil)

// CodeRepository implements auth.CodeRepository using PostgreSQL.
type CodeRepository struct {
	pool Pool
}

// NewCodeRepository creates a new CodeRepository.
func NewCodeRepository(pool Pool) *CodeRepository {
	return &CodeRepository{pool: pool}
}

// Replace purges expired codes, drops unused codes for the email and stores
// code, all in one transaction.
func (r *CodeRepository) Replace(ctx context.Context, code *auth.OneTimeCode, now time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return oops.Code("CODE_REPLACE_FAILED").With("operation", "begin transaction").Wrap(err)
	}
	defer func() {
		_ = tx.Rollback(ctx) //nolint:errcheck // no-op after commit
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM one_time_codes WHERE expires_at <= $1`, now); err != nil {
		return oops.Code("CODE_REPLACE_FAILED").With("operation", "delete expired codes").Wrap(err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM one_time_codes WHERE email = $1 AND used = FALSE`, code.Email); err != nil {
		return oops.Code("CODE_REPLACE_FAILED").With("operation", "delete superseded codes").Wrap(err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO one_time_codes (id, email, code_hash, expires_at, used, used_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		code.ID.String(),
		code.Email,
		code.CodeHash,
		code.ExpiresAt,
		code.Used,
		code.UsedAt,
		code.CreatedAt,
	)
	if err != nil {
		return oops.Code("CODE_REPLACE_FAILED").With("operation", "insert code").Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code("CODE_REPLACE_FAILED").With("operation", "commit").Wrap(err)
	}
	return nil
}

// Consume flips a live code to used. Concurrent callers race on the row lock;
// the loser re-evaluates used = FALSE and matches nothing.
func (r *CodeRepository) Consume(ctx context.Context, email, codeHash string, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE one_time_codes
		SET used = TRUE, used_at = $3
		WHERE email = $1 AND code_hash = $2 AND used = FALSE AND expires_at > $3
	`, email, codeHash, now)
	if err != nil {
		return false, oops.Code("CODE_CONSUME_FAILED").With("operation", "consume code").Wrap(err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteExpired removes codes whose expiry is at or before now.
func (r *CodeRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM one_time_codes WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, oops.Code("CODE_PURGE_FAILED").With("operation", "delete expired codes").Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package redis provides a Redis implementation of auth.CodeRepository.
//
// Each email holds at most one code, stored as a hash under prefix+email with
// a TTL equal to the code lifetime, so superseding and expiry fall out of key
// replacement and key expiry.
package redis

import (
	"context"
	"crypto/subtle"
	"errors"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/authcore/internal/auth"
)

// DefaultPrefix namespaces code keys.
const DefaultPrefix = "authcore:otp:"

// maxTxRetries bounds optimistic-lock retries on a contended key.
const maxTxRetries = 4

// Hash fields.
const (
	fieldID        = "id"
	fieldCodeHash  = "code_hash"
	fieldExpiresAt = "expires_at"
	fieldUsed      = "used"
	fieldUsedAt    = "used_at"
	fieldCreatedAt = "created_at"
)

// Compile-time interface check.
var _ auth.CodeRepository = (*CodeStore)(nil)

// CodeStore implements auth.CodeRepository on Redis.
type CodeStore struct {
	client goredis.UniversalClient
	prefix string
}

// NewCodeStore creates a CodeStore. An empty prefix selects DefaultPrefix.
func NewCodeStore(client goredis.UniversalClient, prefix string) (*CodeStore, error) {
	if client == nil {
		return nil, oops.Errorf("redis client is required")
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &CodeStore{client: client, prefix: prefix}, nil
}

func (s *CodeStore) key(email string) string {
	return s.prefix + email
}

// Replace overwrites the email's code. The key TTL is measured from now, so
// Redis purges the code once it expires.
func (s *CodeStore) Replace(ctx context.Context, code *auth.OneTimeCode, now time.Time) error {
	ttl := code.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return oops.Code("CODE_REPLACE_FAILED").
			With("operation", "store code").
			Errorf("code already expired")
	}

	key := s.key(code.Email)
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			fieldID, code.ID.String(),
			fieldCodeHash, code.CodeHash,
			fieldExpiresAt, code.ExpiresAt.UnixNano(),
			fieldUsed, "0",
			fieldCreatedAt, code.CreatedAt.UnixNano(),
		)
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return oops.Code("CODE_REPLACE_FAILED").With("operation", "store code").Wrap(err)
	}
	return nil
}

// Consume marks the code used inside a WATCH/MULTI transaction. A concurrent
// writer aborts the transaction and the check is retried against fresh state.
func (s *CodeStore) Consume(ctx context.Context, email, codeHash string, now time.Time) (bool, error) {
	key := s.key(email)
	consumed := false

	backoff := retry.WithMaxRetries(maxTxRetries, retry.NewConstant(time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		consumed = false
		err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
			fields, err := tx.HGetAll(ctx, key).Result()
			if err != nil {
				return err
			}
			if !live(fields, codeHash, now) {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.HSet(ctx, key, fieldUsed, "1", fieldUsedAt, now.UnixNano())
				return nil
			})
			if err != nil {
				return err
			}
			consumed = true
			return nil
		}, key)
		if errors.Is(err, goredis.TxFailedErr) {
			return retry.RetryableError(err)
		}
		return err
	})
	if errors.Is(err, goredis.TxFailedErr) {
		// Lost every race: another writer consumed or replaced the code.
		return false, nil
	}
	if err != nil {
		return false, oops.Code("CODE_CONSUME_FAILED").With("operation", "consume code").Wrap(err)
	}
	return consumed, nil
}

// live reports whether a stored code matches codeHash and can still be used.
func live(fields map[string]string, codeHash string, now time.Time) bool {
	if len(fields) == 0 || fields[fieldUsed] != "0" {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(fields[fieldCodeHash]), []byte(codeHash)) != 1 {
		return false
	}
	expiresAt, err := strconv.ParseInt(fields[fieldExpiresAt], 10, 64)
	if err != nil {
		return false
	}
	return now.Before(time.Unix(0, expiresAt))
}

// DeleteExpired removes codes whose recorded expiry is at or before now. Key
// TTLs normally purge them first; this covers clock skew between the caller
// and Redis.
func (s *CodeStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var removed int64
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
			raw, err := tx.HGet(ctx, key, fieldExpiresAt).Result()
			if errors.Is(err, goredis.Nil) {
				return nil
			}
			if err != nil {
				return err
			}
			expiresAt, err := strconv.ParseInt(raw, 10, 64)
			if err == nil && now.Before(time.Unix(0, expiresAt)) {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			if err != nil {
				return err
			}
			removed++
			return nil
		}, key)
		if errors.Is(err, goredis.TxFailedErr) {
			// Replaced concurrently with a fresh code.
			continue
		}
		if err != nil {
			return removed, oops.Code("CODE_PURGE_FAILED").With("operation", "delete expired code").Wrap(err)
		}
	}
	if err := iter.Err(); err != nil {
		return removed, oops.Code("CODE_PURGE_FAILED").With("operation", "scan codes").Wrap(err)
	}
	return removed, nil
}

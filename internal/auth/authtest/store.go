// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package authtest provides in-memory stores and test doubles for auth.
package authtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth"
)

// AccountStore is an in-memory AccountRepository. A single mutex makes every
// method atomic.
type AccountStore struct {
	mu       sync.Mutex
	accounts map[ulid.ULID]*auth.Account
}

// NewAccountStore creates an empty AccountStore.
func NewAccountStore() *AccountStore {
	return &AccountStore{accounts: make(map[ulid.ULID]*auth.Account)}
}

func clone(a *auth.Account) *auth.Account {
	c := *a
	if a.LockedUntil != nil {
		t := *a.LockedUntil
		c.LockedUntil = &t
	}
	if a.RefreshTokenHash != nil {
		h := *a.RefreshTokenHash
		c.RefreshTokenHash = &h
	}
	return &c
}

func notFound(id string) error {
	return oops.Code(auth.CodeNotFound).With("account", id).Wrap(auth.ErrNotFound)
}

// Create implements auth.AccountRepository.
func (s *AccountStore) Create(_ context.Context, account *auth.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.Email == account.Email {
			return auth.ConflictError(auth.FieldEmail)
		}
		if a.Username == account.Username {
			return auth.ConflictError(auth.FieldUsername)
		}
	}
	s.accounts[account.ID] = clone(account)
	return nil
}

// GetByID implements auth.AccountRepository.
func (s *AccountStore) GetByID(_ context.Context, id ulid.ULID) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, notFound(id.String())
	}
	return clone(a), nil
}

func (s *AccountStore) find(match func(*auth.Account) bool, key string) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if match(a) {
			return clone(a), nil
		}
	}
	return nil, notFound(key)
}

// GetByEmail implements auth.AccountRepository.
func (s *AccountStore) GetByEmail(_ context.Context, email string) (*auth.Account, error) {
	return s.find(func(a *auth.Account) bool { return a.Email == email }, email)
}

// GetByUsername implements auth.AccountRepository.
func (s *AccountStore) GetByUsername(_ context.Context, username string) (*auth.Account, error) {
	return s.find(func(a *auth.Account) bool { return a.Username == username }, username)
}

// GetByIdentifier implements auth.AccountRepository.
func (s *AccountStore) GetByIdentifier(_ context.Context, identifier string) (*auth.Account, error) {
	return s.find(func(a *auth.Account) bool {
		return a.Email == identifier || a.Username == identifier
	}, identifier)
}

// List implements auth.AccountRepository.
func (s *AccountStore) List(_ context.Context) ([]*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*auth.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, clone(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Compare(out[j].ID) < 0 })
	return out, nil
}

func (s *AccountStore) update(id ulid.ULID, fn func(*auth.Account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return notFound(id.String())
	}
	fn(a)
	return nil
}

// RecordLoginFailure implements auth.AccountRepository.
func (s *AccountStore) RecordLoginFailure(_ context.Context, id ulid.ULID, policy auth.LockoutPolicy, now time.Time) (auth.LoginFailure, error) {
	var result auth.LoginFailure
	err := s.update(id, func(a *auth.Account) {
		result = policy.ApplyFailure(a.FailedAttempts, a.LockedUntil, now)
		if result.Applied {
			a.FailedAttempts = result.FailedAttempts
			a.LockedUntil = result.LockedUntil
			a.UpdatedAt = now
		}
	})
	return result, err
}

// RecordLoginSuccess implements auth.AccountRepository.
func (s *AccountStore) RecordLoginSuccess(_ context.Context, id ulid.ULID, now time.Time) (*time.Time, error) {
	var lockedUntil *time.Time
	err := s.update(id, func(a *auth.Account) {
		if a.IsLockedAt(now) {
			until := *a.LockedUntil
			lockedUntil = &until
			return
		}
		a.FailedAttempts = 0
		a.LockedUntil = nil
		a.UpdatedAt = now
	})
	return lockedUntil, err
}

// SetRefreshTokenHash implements auth.AccountRepository.
func (s *AccountStore) SetRefreshTokenHash(_ context.Context, id ulid.ULID, hash *string, now time.Time) error {
	return s.update(id, func(a *auth.Account) {
		a.UpdatedAt = now
		if hash == nil {
			a.RefreshTokenHash = nil
			return
		}
		h := *hash
		a.RefreshTokenHash = &h
	})
}

// RotateRefreshTokenHash implements auth.AccountRepository.
func (s *AccountStore) RotateRefreshTokenHash(_ context.Context, id ulid.ULID, expected, next string, now time.Time) (bool, error) {
	rotated := false
	err := s.update(id, func(a *auth.Account) {
		if a.RefreshTokenHash == nil || *a.RefreshTokenHash != expected {
			return
		}
		a.RefreshTokenHash = &next
		a.UpdatedAt = now
		rotated = true
	})
	return rotated, err
}

// UpdatePassword implements auth.AccountRepository.
func (s *AccountStore) UpdatePassword(_ context.Context, id ulid.ULID, passwordHash string, now time.Time) error {
	return s.update(id, func(a *auth.Account) {
		a.PasswordHash = passwordHash
		a.UpdatedAt = now
	})
}

// SetEmailVerified implements auth.AccountRepository.
func (s *AccountStore) SetEmailVerified(_ context.Context, id ulid.ULID, verified bool, now time.Time) error {
	return s.update(id, func(a *auth.Account) {
		a.EmailVerified = verified
		a.UpdatedAt = now
	})
}

// Put stores account as-is, bypassing uniqueness checks.
func (s *AccountStore) Put(account *auth.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.ID] = clone(account)
}

// Get returns a copy of the stored account or nil.
func (s *AccountStore) Get(id ulid.ULID) *auth.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[id]; ok {
		return clone(a)
	}
	return nil
}

// Len returns the number of stored accounts.
func (s *AccountStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts)
}

// CodeStore is an in-memory CodeRepository.
type CodeStore struct {
	mu    sync.Mutex
	codes []*auth.OneTimeCode
}

// NewCodeStore creates an empty CodeStore.
func NewCodeStore() *CodeStore {
	return &CodeStore{}
}

// Replace implements auth.CodeRepository.
func (s *CodeStore) Replace(_ context.Context, code *auth.OneTimeCode, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.codes[:0]
	for _, c := range s.codes {
		if c.IsExpiredAt(now) || (c.Email == code.Email && !c.Used) {
			continue
		}
		kept = append(kept, c)
	}
	stored := *code
	s.codes = append(kept, &stored)
	return nil
}

// Consume implements auth.CodeRepository.
func (s *CodeStore) Consume(_ context.Context, email, codeHash string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.codes {
		if c.Email == email && c.CodeHash == codeHash && !c.Used && !c.IsExpiredAt(now) {
			c.Used = true
			usedAt := now
			c.UsedAt = &usedAt
			return true, nil
		}
	}
	return false, nil
}

// DeleteExpired implements auth.CodeRepository.
func (s *CodeStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.codes[:0]
	var removed int64
	for _, c := range s.codes {
		if c.IsExpiredAt(now) {
			removed++
			continue
		}
		kept = append(kept, c)
	}
	s.codes = kept
	return removed, nil
}

// Codes returns copies of all stored codes.
func (s *CodeStore) Codes() []auth.OneTimeCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.OneTimeCode, 0, len(s.codes))
	for _, c := range s.codes {
		out = append(out, *c)
	}
	return out
}

var (
	_ auth.AccountRepository = (*AccountStore)(nil)
	_ auth.CodeRepository    = (*CodeStore)(nil)
)

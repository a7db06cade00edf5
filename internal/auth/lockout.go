// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"time"

	"github.com/samber/oops"
)

// Lockout defaults.
const (
	// DefaultLockoutThreshold is the failure count that triggers a lockout.
	DefaultLockoutThreshold = 5

	// DefaultLockoutDuration is how long a lockout lasts.
	DefaultLockoutDuration = 15 * time.Minute
)

// LockoutPolicy configures brute-force lockout.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// DefaultLockoutPolicy returns 5 failures / 15 minutes.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{Threshold: DefaultLockoutThreshold, Duration: DefaultLockoutDuration}
}

// Validate rejects non-positive thresholds and durations.
func (p LockoutPolicy) Validate() error {
	if p.Threshold <= 0 {
		return oops.Code("AUTH_INVALID_POLICY").With("threshold", p.Threshold).Errorf("lockout threshold must be positive")
	}
	if p.Duration <= 0 {
		return oops.Code("AUTH_INVALID_POLICY").With("duration", p.Duration).Errorf("lockout duration must be positive")
	}
	return nil
}

// ApplyFailure computes the state after a failed attempt. It is the reference
// semantics every AccountRepository.RecordLoginFailure implements atomically:
// an active lock leaves the state untouched, an expired lock restarts the count
// at one, and reaching the threshold sets a fresh lock.
func (p LockoutPolicy) ApplyFailure(failedAttempts int, lockedUntil *time.Time, now time.Time) LoginFailure {
	if IsLockedOut(lockedUntil, now) {
		return LoginFailure{Applied: false, FailedAttempts: failedAttempts, LockedUntil: lockedUntil}
	}
	if lockedUntil != nil {
		failedAttempts = 0
	}
	failedAttempts++
	result := LoginFailure{Applied: true, FailedAttempts: failedAttempts}
	if failedAttempts >= p.Threshold {
		until := now.Add(p.Duration)
		result.LockedUntil = &until
	}
	return result
}

// IsLockedOut returns true if lockedUntil is after now.
func IsLockedOut(lockedUntil *time.Time, now time.Time) bool {
	return lockedUntil != nil && lockedUntil.After(now)
}

// LockoutRemaining returns how long the lock lasts past now, or zero.
func LockoutRemaining(lockedUntil *time.Time, now time.Time) time.Duration {
	if !IsLockedOut(lockedUntil, now) {
		return 0
	}
	return lockedUntil.Sub(now)
}

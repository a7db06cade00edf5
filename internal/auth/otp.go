// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// OTP defaults.
const (
	DefaultCodeDigits = 6
	DefaultCodeTTL    = 10 * time.Minute

	// CodeSubject is the subject line of the verification email.
	CodeSubject = "Email Verification - OTP Code"
)

// OneTimeCode is a stored verification code. Only the hash of the code is kept.
type OneTimeCode struct {
	ID        ulid.ULID
	Email     string
	CodeHash  string
	ExpiresAt time.Time
	Used      bool
	UsedAt    *time.Time
	CreatedAt time.Time
}

// NewOneTimeCode creates an unused code for a normalized email.
func NewOneTimeCode(email, code string, now time.Time, ttl time.Duration) *OneTimeCode {
	return &OneTimeCode{
		ID:        ulid.Make(),
		Email:     NormalizeEmail(email),
		CodeHash:  HashSecret(code),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
}

// IsExpiredAt reports whether the code is past its expiry at now.
func (c *OneTimeCode) IsExpiredAt(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// CodeRepository persists one-time codes.
type CodeRepository interface {
	// Replace deletes every expired code, deletes unused codes for the
	// code's email, then stores code.
	Replace(ctx context.Context, code *OneTimeCode, now time.Time) error

	// Consume marks an unused, unexpired code with the given hash as used.
	// Returns true only for the single caller that performed the transition.
	Consume(ctx context.Context, email, codeHash string, now time.Time) (bool, error)

	// DeleteExpired removes codes that expired before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// CodeConfig tunes code generation.
type CodeConfig struct {
	Digits int
	TTL    time.Duration
}

// DefaultCodeConfig returns 6 digits valid for 10 minutes.
func DefaultCodeConfig() CodeConfig {
	return CodeConfig{Digits: DefaultCodeDigits, TTL: DefaultCodeTTL}
}

// OTPEngine issues and verifies single-use email codes.
type OTPEngine struct {
	codes    CodeRepository
	notifier Notifier
	cfg      CodeConfig
	opts     options
}

// NewOTPEngine creates an OTPEngine.
func NewOTPEngine(codes CodeRepository, notifier Notifier, cfg CodeConfig, opts ...Option) (*OTPEngine, error) {
	if codes == nil {
		return nil, oops.Errorf("code repository is required")
	}
	if notifier == nil {
		return nil, oops.Errorf("notifier is required")
	}
	if cfg.Digits < 4 || cfg.Digits > 10 {
		return nil, oops.With("digits", cfg.Digits).Errorf("code digits must be between 4 and 10")
	}
	if cfg.TTL <= 0 {
		return nil, oops.With("ttl", cfg.TTL).Errorf("code ttl must be positive")
	}
	return &OTPEngine{codes: codes, notifier: notifier, cfg: cfg, opts: newOptions(opts)}, nil
}

// Send generates a fresh code for email, supersedes any earlier unused code,
// and delivers it exactly once.
func (e *OTPEngine) Send(ctx context.Context, email string) (err error) {
	defer func() { e.opts.metrics.ObserveOTP(OperationSend, outcomeOf(err)) }()

	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return err
	}

	code, err := e.generate()
	if err != nil {
		return oops.Code("OTP_GENERATE_FAILED").With("operation", "generate code").Wrap(err)
	}

	now := e.opts.now()
	if err := e.codes.Replace(ctx, NewOneTimeCode(email, code, now, e.cfg.TTL), now); err != nil {
		return oops.Code("OTP_STORE_FAILED").With("operation", "replace code").Wrap(err)
	}

	if err := e.notifier.Send(ctx, email, CodeSubject, e.body(code)); err != nil {
		e.opts.logger.WarnContext(ctx, "verification code delivery failed", "error", err)
		return oops.Code(CodeDeliveryFailed).
			With("operation", "deliver code").
			With("cause", err.Error()).
			Wrap(ErrDeliveryFailed)
	}

	e.opts.logger.InfoContext(ctx, "verification code sent", "expires_in", e.cfg.TTL.String())
	return nil
}

// Verify reports whether code is a live code for email and consumes it.
// Wrong, expired and already-used codes all return (false, nil).
func (e *OTPEngine) Verify(ctx context.Context, email, code string) (ok bool, err error) {
	defer func() {
		outcome := outcomeOf(err)
		if err == nil && !ok {
			outcome = OutcomeInvalid
		}
		e.opts.metrics.ObserveOTP(OperationVerify, outcome)
	}()

	email = NormalizeEmail(email)
	if email == "" || !e.wellFormed(code) {
		return false, nil
	}

	consumed, err := e.codes.Consume(ctx, email, HashSecret(code), e.opts.now())
	if err != nil {
		return false, oops.Code("OTP_STORE_FAILED").With("operation", "consume code").Wrap(err)
	}
	return consumed, nil
}

// PurgeExpired deletes codes that can no longer be verified and returns how
// many were removed.
func (e *OTPEngine) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := e.codes.DeleteExpired(ctx, e.opts.now())
	if err != nil {
		return n, oops.Code("OTP_STORE_FAILED").With("operation", "purge expired codes").Wrap(err)
	}
	return n, nil
}

func (e *OTPEngine) wellFormed(code string) bool {
	if len(code) != e.cfg.Digits {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// generate draws a uniform code in [0, 10^digits) and zero-pads it.
func (e *OTPEngine) generate() (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(e.cfg.Digits)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", e.cfg.Digits, n.Int64()), nil
}

func (e *OTPEngine) body(code string) string {
	return fmt.Sprintf(
		"Your verification code is %s.\n\nThe code expires in %d minutes. If you did not request it, you can ignore this message.\n",
		code, int(e.cfg.TTL/time.Minute),
	)
}

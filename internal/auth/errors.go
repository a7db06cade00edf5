// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"
	"time"

	"github.com/samber/oops"
)

// Failure taxonomy. Callers match with errors.Is; the oops code carried by the
// returned error is stable and safe to expose.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an email or username is already taken.
	ErrConflict = errors.New("already exists")

	// ErrInvalidCredential covers wrong passwords and wrong, expired or used codes.
	ErrInvalidCredential = errors.New("invalid credentials")

	// ErrAccountLocked is returned while a lockout is active.
	ErrAccountLocked = errors.New("account locked")

	// ErrEmailNotVerified is returned when an unverified account tries to log in.
	ErrEmailNotVerified = errors.New("email not verified")

	// ErrInvalidToken covers bad signatures, expiry, wrong token type and
	// refresh hash mismatches.
	ErrInvalidToken = errors.New("invalid token")

	// ErrInvalidInput is returned when request data fails validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrCaptchaRejected is returned when the CAPTCHA verifier rejects a token.
	ErrCaptchaRejected = errors.New("captcha rejected")

	// ErrDeliveryFailed is returned when a code was stored but the notifier failed.
	ErrDeliveryFailed = errors.New("code delivery failed")
)

// Error codes attached to taxonomy failures.
const (
	CodeNotFound           = "AUTH_NOT_FOUND"
	CodeConflict           = "AUTH_CONFLICT"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeAccountLocked      = "AUTH_ACCOUNT_LOCKED"
	CodeEmailNotVerified   = "AUTH_EMAIL_NOT_VERIFIED"
	CodeInvalidToken       = "AUTH_INVALID_TOKEN"
	CodeInvalidInput       = "AUTH_INVALID_INPUT"
	CodeCaptchaRejected    = "AUTH_CAPTCHA_REJECTED"
	CodeDeliveryFailed     = "OTP_DELIVERY_FAILED"
)

// Context keys carried on taxonomy failures.
const (
	fieldKey      = "field"
	retryAfterKey = "retry_after"
)

// Conflict fields.
const (
	FieldEmail    = "email"
	FieldUsername = "username"
)

// ConflictError builds an ErrConflict failure naming the colliding field.
func ConflictError(field string) error {
	return oops.Code(CodeConflict).With(fieldKey, field).Wrap(ErrConflict)
}

// ConflictField returns the field that caused a conflict, or "" when err is
// not a conflict or carries no field.
func ConflictField(err error) string {
	if !errors.Is(err, ErrConflict) {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	field, _ := oopsErr.Context()[fieldKey].(string) //nolint:errcheck // type assertion, not an error
	return field
}

// RetryAfter returns the remaining lockout duration carried by an
// ErrAccountLocked failure.
func RetryAfter(err error) (time.Duration, bool) {
	if !errors.Is(err, ErrAccountLocked) {
		return 0, false
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return 0, false
	}
	d, ok := oopsErr.Context()[retryAfterKey].(time.Duration)
	return d, ok
}

func invalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Wrap(ErrInvalidCredential)
}

func invalidToken(reason string) error {
	return oops.Code(CodeInvalidToken).With("reason", reason).Wrap(ErrInvalidToken)
}

func accountLocked(remaining time.Duration) error {
	return oops.Code(CodeAccountLocked).With(retryAfterKey, remaining).Wrap(ErrAccountLocked)
}

func notFound(what string) error {
	return oops.Code(CodeNotFound).With("entity", what).Wrap(ErrNotFound)
}

// PublicMessage maps a failure to a stable message that is safe to show to an
// end user. Unknown errors collapse to a generic message.
func PublicMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConflict):
		switch ConflictField(err) {
		case FieldEmail:
			return "email already registered"
		case FieldUsername:
			return "username already exists"
		}
		return "account already exists"
	case errors.Is(err, ErrInvalidCredential):
		return "invalid credentials"
	case errors.Is(err, ErrAccountLocked):
		return "account is temporarily locked"
	case errors.Is(err, ErrEmailNotVerified):
		return "please verify your email before logging in"
	case errors.Is(err, ErrInvalidToken):
		return "invalid or expired token"
	case errors.Is(err, ErrNotFound):
		return "account not found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid request"
	case errors.Is(err, ErrCaptchaRejected):
		return "captcha verification failed"
	case errors.Is(err, ErrDeliveryFailed):
		return "verification code could not be delivered"
	default:
		return "internal error"
	}
}

func captchaRejected(cause error) error {
	b := oops.Code(CodeCaptchaRejected)
	if cause != nil {
		return b.With("cause", cause.Error()).Wrap(ErrCaptchaRejected)
	}
	return b.Wrap(ErrCaptchaRejected)
}

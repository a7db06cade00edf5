// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import "errors"

// Metric outcomes.
const (
	OutcomeSuccess         = "success"
	OutcomeInvalid         = "invalid"
	OutcomeLocked          = "locked"
	OutcomeUnverified      = "unverified"
	OutcomeCaptchaRejected = "captcha_rejected"
	OutcomeDeliveryFailed  = "delivery_failed"
	OutcomeError           = "error"
)

// Metric operations.
const (
	OperationSend     = "send"
	OperationVerify   = "verify"
	OperationIssue    = "issue"
	OperationRefresh  = "refresh"
	OperationValidate = "validate"
	OperationRevoke   = "revoke"
)

// Metrics receives counters for security-relevant outcomes.
type Metrics interface {
	ObserveLogin(outcome string)
	ObserveLockout()
	ObserveOTP(operation, outcome string)
	ObserveToken(operation, outcome string)
}

// NopMetrics discards everything.
type NopMetrics struct{}

// ObserveLogin implements Metrics.
func (NopMetrics) ObserveLogin(string) {}

// ObserveLockout implements Metrics.
func (NopMetrics) ObserveLockout() {}

// ObserveOTP implements Metrics.
func (NopMetrics) ObserveOTP(string, string) {}

// ObserveToken implements Metrics.
func (NopMetrics) ObserveToken(string, string) {}

// outcomeOf classifies err for metric labels.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrInvalidCredential), errors.Is(err, ErrInvalidToken), errors.Is(err, ErrInvalidInput):
		return OutcomeInvalid
	case errors.Is(err, ErrAccountLocked):
		return OutcomeLocked
	case errors.Is(err, ErrEmailNotVerified):
		return OutcomeUnverified
	case errors.Is(err, ErrCaptchaRejected):
		return OutcomeCaptchaRejected
	case errors.Is(err, ErrDeliveryFailed):
		return OutcomeDeliveryFailed
	default:
		return OutcomeError
	}
}

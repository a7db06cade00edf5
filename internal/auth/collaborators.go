// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import "context"

// Notifier delivers a message to an email address.
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

// CaptchaVerifier checks a client CAPTCHA token. A false result blocks the
// operation before any store mutation.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token string) (bool, error)
}

// checkCaptcha runs the gate when a verifier is configured.
func checkCaptcha(ctx context.Context, v CaptchaVerifier, token string) error {
	if v == nil {
		return nil
	}
	ok, err := v.Verify(ctx, token)
	if err != nil {
		return captchaRejected(err)
	}
	if !ok {
		return captchaRejected(nil)
	}
	return nil
}

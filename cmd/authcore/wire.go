// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"log/slog"

	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/auth/postgres"
	authredis "github.com/holomush/authcore/internal/auth/redis"
	"github.com/holomush/authcore/internal/captcha"
	"github.com/holomush/authcore/internal/config"
	"github.com/holomush/authcore/internal/notify"
)

// services is the fully wired auth stack.
type services struct {
	Accounts     auth.AccountRepository
	Codes        auth.CodeRepository
	OTP          *auth.OTPEngine
	Tokens       *auth.TokenEngine
	Registration *auth.RegistrationService
	Auth         *auth.Service
	Reset        *auth.PasswordResetService
}

// collaborators are the outward-facing adapters the services depend on.
type collaborators struct {
	Codes    auth.CodeRepository
	Notifier auth.Notifier
	Captcha  auth.CaptchaVerifier
	Metrics  auth.Metrics
}

// newCodeStore selects the one-time code backend.
func newCodeStore(cfg *config.Config, db Database, rdb RedisClient) (auth.CodeRepository, error) {
	switch cfg.OTP.Backend {
	case config.BackendRedis:
		if rdb == nil {
			return nil, oops.Code("CONFIG_INVALID").With("key", "redis.addr").Errorf("redis backend selected without a client")
		}
		return authredis.NewCodeStore(rdb, "")
	case config.BackendPostgres, "":
		return postgres.NewCodeRepository(db), nil
	default:
		return nil, oops.Code("CONFIG_INVALID").With("key", "otp.backend").Errorf("unknown otp backend %q", cfg.OTP.Backend)
	}
}

// newNotifier returns the log notifier in development without SMTP, and the
// SMTP notifier otherwise.
func newNotifier(cfg *config.Config, logger *slog.Logger) (auth.Notifier, error) {
	if cfg.UseLogNotifier() {
		logger.Warn("email delivery disabled; one-time codes are written to the log")
		return notify.NewLogNotifier(logger), nil
	}
	return notify.NewSMTPNotifier(notify.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		AppName:  serviceName,
		Timeout:  cfg.SMTP.Timeout,
	}, notify.WithLogger(logger))
}

// newCaptcha returns nil when CAPTCHA checks are off.
func newCaptcha(cfg *config.Config, logger *slog.Logger) (auth.CaptchaVerifier, error) {
	if !cfg.CaptchaActive() {
		return nil, nil
	}
	v, err := captcha.NewRecaptcha(captcha.Config{
		Secret:    cfg.Captcha.Secret,
		VerifyURL: cfg.Captcha.VerifyURL,
		Timeout:   cfg.Captcha.Timeout,
	}, captcha.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return v, nil
}

// newSigner builds the JWT signer from the token settings.
func newSigner(cfg *config.Config) (*auth.JWTSigner, error) {
	return auth.NewJWTSigner(auth.JWTSignerConfig{
		AccessSecret:  []byte(cfg.Tokens.AccessSecret),
		RefreshSecret: []byte(cfg.Tokens.RefreshSecret),
		Issuer:        cfg.Tokens.Issuer,
		Leeway:        cfg.Tokens.Leeway,
	})
}

// buildServices wires every engine and service over accounts and c.
func buildServices(cfg *config.Config, accounts auth.AccountRepository, c collaborators, logger *slog.Logger) (*services, error) {
	signer, err := newSigner(cfg)
	if err != nil {
		return nil, err
	}

	if c.Metrics == nil {
		c.Metrics = auth.NopMetrics{}
	}
	opts := []auth.Option{
		auth.WithLogger(logger),
		auth.WithMetrics(c.Metrics),
		auth.WithLockoutPolicy(cfg.LockoutPolicy()),
	}
	if c.Captcha != nil {
		opts = append(opts, auth.WithCaptcha(c.Captcha))
	}

	s := &services{Accounts: accounts, Codes: c.Codes}

	if s.OTP, err = auth.NewOTPEngine(c.Codes, c.Notifier, cfg.CodeConfig(), opts...); err != nil {
		return nil, oops.Code("WIRING_FAILED").With("component", "otp engine").Wrap(err)
	}
	if s.Tokens, err = auth.NewTokenEngine(accounts, signer, cfg.TokenConfig(), opts...); err != nil {
		return nil, oops.Code("WIRING_FAILED").With("component", "token engine").Wrap(err)
	}
	hasher := auth.NewArgon2idHasher()
	if s.Registration, err = auth.NewRegistrationService(accounts, s.OTP, hasher, opts...); err != nil {
		return nil, oops.Code("WIRING_FAILED").With("component", "registration").Wrap(err)
	}
	if s.Auth, err = auth.NewAuthService(accounts, hasher, s.Tokens, opts...); err != nil {
		return nil, oops.Code("WIRING_FAILED").With("component", "auth service").Wrap(err)
	}
	if s.Reset, err = auth.NewPasswordResetService(accounts, s.OTP, hasher, s.Tokens, opts...); err != nil {
		return nil, oops.Code("WIRING_FAILED").With("component", "password reset").Wrap(err)
	}
	return s, nil
}

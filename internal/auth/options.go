// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("authcore/auth")

// Option configures engines and services.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	now     func() time.Time
	metrics Metrics
	captcha CaptchaVerifier
	lockout LockoutPolicy
}

func newOptions(opts []Option) options {
	o := options{
		logger:  slog.Default(),
		now:     time.Now,
		metrics: NopMetrics{},
		lockout: DefaultLockoutPolicy(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger. Nil is ignored.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithMetrics sets the metrics sink. Nil is ignored.
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithCaptcha enables the CAPTCHA gate. A nil verifier leaves it off.
func WithCaptcha(v CaptchaVerifier) Option {
	return func(o *options) {
		o.captcha = v
	}
}

// WithLockoutPolicy overrides DefaultLockoutPolicy.
func WithLockoutPolicy(p LockoutPolicy) Option {
	return func(o *options) {
		o.lockout = p
	}
}

func startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, PublicMessage(err))
	}
	span.End()
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package captcha verifies client CAPTCHA tokens with Google reCAPTCHA.
package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/authcore/internal/auth"
)

// DefaultVerifyURL is Google's siteverify endpoint.
const DefaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"

// Defaults.
const (
	DefaultTimeout    = 5 * time.Second
	DefaultMaxRetries = 2
	maxResponseBytes  = 64 << 10
)

// Compile-time interface check.
var _ auth.CaptchaVerifier = (*Recaptcha)(nil)

// Config configures a Recaptcha verifier.
type Config struct {
	Secret    string
	VerifyURL string
	Timeout   time.Duration
	// MinScore, when positive, also requires a reCAPTCHA v3 score at or
	// above it. v2 responses carry no score and fail such a check.
	MinScore float64
}

// Option customizes a Recaptcha verifier.
type Option func(*Recaptcha)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Recaptcha) { r.client = c }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recaptcha) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithBackoff sets the retry policy for transport errors and 5xx responses.
func WithBackoff(maxRetries uint64, base time.Duration) Option {
	return func(r *Recaptcha) {
		r.maxRetries = maxRetries
		r.backoffBase = base
	}
}

// Recaptcha implements auth.CaptchaVerifier against the siteverify API.
type Recaptcha struct {
	secret      string
	verifyURL   string
	minScore    float64
	client      *http.Client
	logger      *slog.Logger
	maxRetries  uint64
	backoffBase time.Duration
}

// NewRecaptcha creates a Recaptcha verifier.
func NewRecaptcha(cfg Config, opts ...Option) (*Recaptcha, error) {
	if cfg.Secret == "" {
		return nil, oops.Code("CAPTCHA_CONFIG_INVALID").Errorf("captcha secret is required")
	}
	if cfg.VerifyURL == "" {
		cfg.VerifyURL = DefaultVerifyURL
	}
	if _, err := url.ParseRequestURI(cfg.VerifyURL); err != nil {
		return nil, oops.Code("CAPTCHA_CONFIG_INVALID").With("verify_url", cfg.VerifyURL).Wrap(err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	r := &Recaptcha{
		secret:      cfg.Secret,
		verifyURL:   cfg.VerifyURL,
		minScore:    cfg.MinScore,
		client:      &http.Client{Timeout: cfg.Timeout},
		logger:      slog.Default(),
		maxRetries:  DefaultMaxRetries,
		backoffBase: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	Score      *float64 `json:"score"`
	Action     string   `json:"action"`
	Hostname   string   `json:"hostname"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify reports whether Google accepts token. An empty token is rejected
// without a network call. Transport failures return an error, which the auth
// services treat as a rejection.
func (r *Recaptcha) Verify(ctx context.Context, token string) (bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return false, nil
	}

	var result siteverifyResponse
	backoff := retry.WithMaxRetries(r.maxRetries, retry.NewExponential(r.backoffBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		res, err := r.call(ctx, token)
		if err != nil {
			return err
		}
		result = *res
		return nil
	})
	if err != nil {
		return false, oops.Code("CAPTCHA_VERIFY_FAILED").With("operation", "siteverify").Wrap(err)
	}

	if !result.Success {
		r.logger.DebugContext(ctx, "captcha rejected", "error_codes", result.ErrorCodes)
		return false, nil
	}
	if r.minScore > 0 && (result.Score == nil || *result.Score < r.minScore) {
		r.logger.DebugContext(ctx, "captcha score below threshold", "min_score", r.minScore)
		return false, nil
	}
	return true, nil
}

func (r *Recaptcha) call(ctx context.Context, token string) (*siteverifyResponse, error) {
	form := url.Values{"secret": {r.secret}, "response": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, retry.RetryableError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, retry.RetryableError(fmt.Errorf("siteverify returned %s", resp.Status))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("siteverify returned %s", resp.Status)
	}

	var out siteverifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode siteverify response: %w", err)
	}
	return &out, nil
}

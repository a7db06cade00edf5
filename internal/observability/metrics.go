// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/holomush/authcore/internal/auth"
)

// Compile-time interface check.
var _ auth.Metrics = (*AuthMetrics)(nil)

// AuthMetrics exports auth outcomes as Prometheus counters.
type AuthMetrics struct {
	LoginAttempts   *prometheus.CounterVec
	Lockouts        prometheus.Counter
	OTPOperations   *prometheus.CounterVec
	TokenOperations *prometheus.CounterVec
	CodesPurged     prometheus.Counter
}

// NewAuthMetrics creates the auth counters and registers them with reg.
func NewAuthMetrics(reg prometheus.Registerer) *AuthMetrics {
	m := &AuthMetrics{
		LoginAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_login_attempts_total",
				Help: "Login attempts by outcome",
			},
			[]string{"outcome"},
		),
		Lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authcore_lockouts_total",
			Help: "Accounts locked after repeated failures",
		}),
		OTPOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_otp_operations_total",
				Help: "One-time code operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		TokenOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_token_operations_total",
				Help: "Session token operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		CodesPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authcore_otp_codes_purged_total",
			Help: "Expired one-time codes removed by the purge loop",
		}),
	}

	reg.MustRegister(m.LoginAttempts, m.Lockouts, m.OTPOperations, m.TokenOperations, m.CodesPurged)
	return m
}

// ObserveLogin implements auth.Metrics.
func (m *AuthMetrics) ObserveLogin(outcome string) {
	m.LoginAttempts.WithLabelValues(outcome).Inc()
}

// ObserveLockout implements auth.Metrics.
func (m *AuthMetrics) ObserveLockout() {
	m.Lockouts.Inc()
}

// ObserveOTP implements auth.Metrics.
func (m *AuthMetrics) ObserveOTP(operation, outcome string) {
	m.OTPOperations.WithLabelValues(operation, outcome).Inc()
}

// ObserveToken implements auth.Metrics.
func (m *AuthMetrics) ObserveToken(operation, outcome string) {
	m.TokenOperations.WithLabelValues(operation, outcome).Inc()
}

// ObservePurge records codes removed by a purge pass.
func (m *AuthMetrics) ObservePurge(n int64) {
	if n > 0 {
		m.CodesPurged.Add(float64(n))
	}
}

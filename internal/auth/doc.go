// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth implements the credential and session lifecycle of authcore.
//
// # Domain Types
//
// Domain types should be created using their constructors:
//   - NewAccount - creates an Account with normalized email and username
//   - NewOneTimeCode - creates a OneTimeCode bound to a normalized email
//
// Direct struct initialization bypasses normalization. Repository
// implementations compare normalized values with plain equality.
//
// # Engines
//
//   - OTPEngine - issues, persists and single-use verifies numeric codes
//   - TokenEngine - issues, rotates and validates access/refresh token pairs
//
// # Services
//
// Service types coordinate the engines and the account store:
//   - RegistrationService - OTP-gated account creation
//   - Service - login with lockout, token refresh, logout, profile
//   - PasswordResetService - OTP-gated password replacement
//
// All services are safe for concurrent use. Shared mutable state lives only in
// the AccountRepository and CodeRepository implementations, which provide the
// atomic primitives the services rely on.
package auth

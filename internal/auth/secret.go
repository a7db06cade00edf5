// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashSecret computes the hex SHA-256 of a one-time code or refresh token.
// Only this digest is ever stored.
func HashSecret(secret string) string {
	h := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(h[:])
}

// SecretMatches reports whether secret hashes to stored, in constant time.
// An empty secret or stored hash never matches.
func SecretMatches(secret, stored string) bool {
	if secret == "" || stored == "" {
		return false
	}
	computed := HashSecret(secret)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(stored)) == 1
}

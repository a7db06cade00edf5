// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"bytes"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// MinSecretLength is the minimum HMAC key size in bytes.
const MinSecretLength = 32

// DefaultIssuer is the iss claim used when none is configured.
const DefaultIssuer = "authcore"

// JWTSignerConfig configures JWTSigner.
type JWTSignerConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	Issuer        string
	Leeway        time.Duration
	// Now is the clock used to check exp and iat. Defaults to time.Now.
	Now func() time.Time
}

// jwtClaims is the wire form of Claims.
type jwtClaims struct {
	Email         string `json:"email,omitempty"`
	Username      string `json:"username,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	Role          string `json:"role,omitempty"`
	Type          string `json:"typ"`
	jwt.RegisteredClaims
}

// JWTSigner implements TokenSigner with HS256 and a separate key per token type.
type JWTSigner struct {
	keys   map[TokenType][]byte
	issuer string
	parser *jwt.Parser
}

var _ TokenSigner = (*JWTSigner)(nil)

// NewJWTSigner validates the keys and builds a signer.
func NewJWTSigner(cfg JWTSignerConfig) (*JWTSigner, error) {
	if len(cfg.AccessSecret) < MinSecretLength || len(cfg.RefreshSecret) < MinSecretLength {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").
			With("min_length", MinSecretLength).
			Errorf("token secrets must be at least %d bytes", MinSecretLength)
	}
	if bytes.Equal(cfg.AccessSecret, cfg.RefreshSecret) {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").Errorf("access and refresh secrets must differ")
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = DefaultIssuer
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if cfg.Leeway > 0 {
		parserOpts = append(parserOpts, jwt.WithLeeway(cfg.Leeway))
	}
	if cfg.Now != nil {
		parserOpts = append(parserOpts, jwt.WithTimeFunc(cfg.Now))
	}

	return &JWTSigner{
		keys: map[TokenType][]byte{
			TokenAccess:  cfg.AccessSecret,
			TokenRefresh: cfg.RefreshSecret,
		},
		issuer: issuer,
		parser: jwt.NewParser(parserOpts...),
	}, nil
}

// Sign encodes claims as a token of type typ.
func (s *JWTSigner) Sign(claims Claims, typ TokenType) (string, error) {
	key, ok := s.keys[typ]
	if !ok {
		return "", oops.Code("TOKEN_SIGN_FAILED").With("type", string(typ)).Errorf("unknown token type")
	}
	wire := jwtClaims{
		Type: string(typ),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        claims.ID,
			Subject:   claims.AccountID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
	}
	if typ == TokenAccess {
		wire.Email = claims.Email
		wire.Username = claims.Username
		wire.EmailVerified = claims.EmailVerified
		wire.Role = claims.Role.String()
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, wire).SignedString(key)
	if err != nil {
		return "", oops.Code("TOKEN_SIGN_FAILED").With("type", string(typ)).Wrap(err)
	}
	return signed, nil
}

// Parse verifies token with the key for typ and checks the typ claim.
// Every failure is ErrInvalidToken.
func (s *JWTSigner) Parse(token string, typ TokenType) (*Claims, error) {
	key, ok := s.keys[typ]
	if !ok || token == "" {
		return nil, invalidToken("malformed")
	}

	var wire jwtClaims
	parsed, err := s.parser.ParseWithClaims(token, &wire, func(*jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil {
		return nil, invalidToken(err.Error())
	}
	if !parsed.Valid {
		return nil, invalidToken("invalid")
	}
	if wire.Type != string(typ) {
		return nil, invalidToken("wrong token type")
	}

	id, err := ulid.Parse(wire.Subject)
	if err != nil {
		return nil, invalidToken("bad subject")
	}
	role, err := ParseRole(wire.Role)
	if err != nil && typ == TokenAccess {
		return nil, invalidToken("bad role")
	}

	claims := &Claims{
		ID:            wire.ID,
		AccountID:     id,
		Email:         wire.Email,
		Username:      wire.Username,
		EmailVerified: wire.EmailVerified,
		Role:          role,
		Type:          typ,
	}
	if wire.IssuedAt != nil {
		claims.IssuedAt = wire.IssuedAt.Time
	}
	if wire.ExpiresAt != nil {
		claims.ExpiresAt = wire.ExpiresAt.Time
	}
	return claims, nil
}

// Package auth inspects bearer tokens held by the local session. The agent
// never mints or verifies server tokens; the backend owns the signing key.
// What the agent can do is read a token's claims to know who it belongs to
// and when the server will stop accepting it.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"skysurvey-agent/internal/model"
)

var (
	ErrMalformed   = errors.New("malformed token")
	ErrPlaceholder = errors.New("placeholder token")
)

type Claims struct {
	UserID string `json:"sub"`
	jwt.RegisteredClaims
}

// Inspect decodes a server-issued JWT without verifying its signature.
// Placeholder tokens are rejected; they carry no claims.
func Inspect(tokenString string) (*Claims, error) {
	if model.IsPlaceholderToken(tokenString) {
		return nil, ErrPlaceholder
	}

	parser := jwt.NewParser()
	claims := &Claims{}
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return nil, ErrMalformed
	}
	if claims.UserID == "" && claims.Subject != "" {
		claims.UserID = claims.Subject
	}
	return claims, nil
}

// Expired reports whether the server will refuse the token outright. A
// token without an expiry claim is treated as live.
func Expired(claims *Claims, now time.Time) bool {
	if claims.ExpiresAt == nil {
		return false
	}
	return now.After(claims.ExpiresAt.Time)
}

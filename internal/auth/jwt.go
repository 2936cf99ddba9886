package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims are the claims the client reads from a session token.
// The client holds no key, so signatures are never verified here.
type TokenClaims struct {
	PhoneNumber string `json:"phone_number,omitempty"`
	jwt.RegisteredClaims
}

// ParseToken decodes the claims of a JWT without verifying it
func ParseToken(token string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	return claims, nil
}

// TokenSubject returns the sub claim, or "" when the token is opaque
func TokenSubject(token string) string {
	claims, err := ParseToken(token)
	if err != nil {
		return ""
	}
	return claims.Subject
}

// TokenExpiry returns the exp claim. ok is false for opaque tokens and
// tokens without an expiry.
func TokenExpiry(token string) (exp time.Time, ok bool) {
	claims, err := ParseToken(token)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

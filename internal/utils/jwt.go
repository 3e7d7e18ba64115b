// Package utils provides helpers for issuing access tokens.  Production
// tokens come from the identity service; these are for local
// development and tests and are signed the same way.
package utils

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessToken represents a signed JWT access token along with its expiry.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// TokenClaims are the identity facts carried by an access token.
// EmailVerified is omitted from the token when nil.
type TokenClaims struct {
	UserID        uint64
	Role          string
	EmailVerified *bool
}

// NewAccessToken builds and signs an HS256 JWT.  The token carries the
// subject (sub), role, optional email_verified, expiration (exp) and
// issued at (iat) claims.
func NewAccessToken(secret string, c TokenClaims, ttl time.Duration) (AccessToken, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub":  c.UserID,
		"role": c.Role,
		"exp":  exp.Unix(),
		"iat":  now.Unix(),
	}
	if c.EmailVerified != nil {
		claims["email_verified"] = *c.EmailVerified
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

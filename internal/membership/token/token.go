// Package token mints short-lived service tokens for the membership admin API.
package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Provider signs admin service tokens. Tokens are minted per call and never
// cached; the expiry is short enough that caching would buy nothing.
type Provider struct {
	adminUUID string
	secret    []byte
	ttl       time.Duration
}

// NewProvider creates a service token provider for the given admin identity.
func NewProvider(adminUUID, secret string, ttl time.Duration) *Provider {
	return &Provider{
		adminUUID: adminUUID,
		secret:    []byte(secret),
		ttl:       ttl,
	}
}

// Mint returns a signed token authenticating this system as the membership
// admin identity.
func (p *Provider) Mint() (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": p.adminUUID,
		"iat": now.Unix(),
		"exp": now.Add(p.ttl).Unix(),
	}

	tokenObj := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tokenObj.SignedString(p.secret)
}

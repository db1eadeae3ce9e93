// internal/auth/token.go
package auth

import (
	"crypto/rsa"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"taskhub/internal/model"
)

// MintToken signs an RS256 credential for the given principal. The API only
// verifies tokens; this is the counterpart used by the test suites and local
// tooling standing in for the identity provider.
func MintToken(key *rsa.PrivateKey, kid, issuer string, p model.Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		TenantID: p.TenantID,
		Role:     string(p.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	return token.SignedString(key)
}

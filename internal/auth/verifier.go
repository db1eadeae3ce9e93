// internal/auth/verifier.go
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"taskhub/internal/model"
)

var (
	// ErrMalformedCredential covers structural, signature, and claim-shape
	// failures.
	ErrMalformedCredential = errors.New("malformed credential")

	// ErrExpiredCredential marks a credential past its validity window.
	ErrExpiredCredential = errors.New("expired credential")
)

// Claims is the JWT payload issued by the identity provider.
type Claims struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier turns a bearer credential into a Principal.
type Verifier interface {
	Verify(credential string) (*model.Principal, error)
}

// TokenVerifier validates RS256 tokens against an injected key set. It is a
// pure function of the credential and the cached keys; no request-path
// network calls in the steady state.
type TokenVerifier struct {
	keys     KeySet
	issuer   string
	audience string
}

func NewTokenVerifier(keys KeySet, issuer, audience string) *TokenVerifier {
	return &TokenVerifier{keys: keys, issuer: issuer, audience: audience}
}

func (v *TokenVerifier) Verify(credential string) (*model.Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(credential, claims, v.keyFunc, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrExpiredCredential, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedCredential, err)
	}
	if !token.Valid {
		return nil, ErrMalformedCredential
	}

	if claims.TenantID == "" {
		return nil, fmt.Errorf("%w: missing tenant_id claim", ErrMalformedCredential)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrMalformedCredential)
	}
	role := model.Role(claims.Role)
	if !role.Valid() {
		return nil, fmt.Errorf("%w: missing or unknown role claim", ErrMalformedCredential)
	}

	return &model.Principal{
		TenantID: claims.TenantID,
		UserID:   claims.Subject,
		Role:     role,
		Expiry:   claims.ExpiresAt.Time,
	}, nil
}

func (v *TokenVerifier) keyFunc(token *jwt.Token) (interface{}, error) {
	kid, _ := token.Header["kid"].(string)
	key, err := v.keys.Key(kid)
	if err != nil {
		return nil, err
	}
	return key, nil
}

package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"taskhub/internal/model"
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func testPrincipal() model.Principal {
	return model.Principal{TenantID: "tenant-a", UserID: "alice", Role: model.RoleAdmin}
}

func TestVerifyValidToken(t *testing.T) {
	key := testKey(t)
	v := NewTokenVerifier(StaticKeySet{"kid-1": &key.PublicKey}, "https://issuer.test", "")

	token, err := MintToken(key, "kid-1", "https://issuer.test", testPrincipal(), time.Hour)
	require.NoError(t, err)

	p, err := v.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "tenant-a", p.TenantID)
	require.Equal(t, "alice", p.UserID)
	require.Equal(t, model.RoleAdmin, p.Role)
	require.WithinDuration(t, time.Now().Add(time.Hour), p.Expiry, time.Minute)
}

func TestVerifyExpiredToken(t *testing.T) {
	key := testKey(t)
	v := NewTokenVerifier(StaticKeySet{"kid-1": &key.PublicKey}, "", "")

	token, err := MintToken(key, "kid-1", "", testPrincipal(), -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	require.ErrorIs(t, err, ErrExpiredCredential)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	key := testKey(t)
	v := NewTokenVerifier(StaticKeySet{"kid-1": &key.PublicKey}, "", "")

	for _, cred := range []string{"", "not-a-token", "a.b.c"} {
		_, err := v.Verify(cred)
		require.ErrorIs(t, err, ErrMalformedCredential, "cred=%q", cred)
	}
}

func TestVerifyRejectsWrongSigningMethod(t *testing.T) {
	key := testKey(t)
	v := NewTokenVerifier(StaticKeySet{"kid-1": &key.PublicKey}, "", "")

	// HS256 token whose secret is the public key material must not pass.
	claims := Claims{
		TenantID: "tenant-a",
		Role:     "ADMIN",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tok.Header["kid"] = "kid-1"
	signed, err := tok.SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = v.Verify(signed)
	require.ErrorIs(t, err, ErrMalformedCredential)
}

func TestVerifyRejectsMissingClaims(t *testing.T) {
	key := testKey(t)
	v := NewTokenVerifier(StaticKeySet{"kid-1": &key.PublicKey}, "", "")

	mint := func(claims Claims) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		tok.Header["kid"] = "kid-1"
		signed, err := tok.SignedString(key)
		require.NoError(t, err)
		return signed
	}

	exp := jwt.NewNumericDate(time.Now().Add(time.Hour))

	// Missing tenant_id
	_, err := v.Verify(mint(Claims{
		Role:             "ADMIN",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice", ExpiresAt: exp},
	}))
	require.ErrorIs(t, err, ErrMalformedCredential)

	// Missing sub
	_, err = v.Verify(mint(Claims{
		TenantID:         "tenant-a",
		Role:             "ADMIN",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: exp},
	}))
	require.ErrorIs(t, err, ErrMalformedCredential)

	// Unknown role
	_, err = v.Verify(mint(Claims{
		TenantID:         "tenant-a",
		Role:             "SUPERUSER",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice", ExpiresAt: exp},
	}))
	require.ErrorIs(t, err, ErrMalformedCredential)

	// Missing exp
	_, err = v.Verify(mint(Claims{
		TenantID:         "tenant-a",
		Role:             "ADMIN",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"},
	}))
	require.ErrorIs(t, err, ErrMalformedCredential)
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	key := testKey(t)
	v := NewTokenVerifier(StaticKeySet{"kid-1": &key.PublicKey}, "https://issuer.test", "")

	token, err := MintToken(key, "kid-1", "https://evil.test", testPrincipal(), time.Hour)
	require.NoError(t, err)

	_, err = v.Verify(token)
	require.ErrorIs(t, err, ErrMalformedCredential)
}

func TestVerifyUnknownKid(t *testing.T) {
	key := testKey(t)
	v := NewTokenVerifier(StaticKeySet{"kid-1": &key.PublicKey}, "", "")

	token, err := MintToken(key, "kid-2", "", testPrincipal(), time.Hour)
	require.NoError(t, err)

	_, err = v.Verify(token)
	require.ErrorIs(t, err, ErrMalformedCredential)
}

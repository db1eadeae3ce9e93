// internal/auth/keyset.go
package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// KeySet resolves verification keys by key ID.
type KeySet interface {
	Key(kid string) (*rsa.PublicKey, error)
}

type jwksDocument struct {
	Keys []jwksKey `json:"keys"`
}

type jwksKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use,omitempty"`
	Alg string `json:"alg,omitempty"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
}

// JWKSCache fetches the identity provider's JWKS document and caches the
// decoded RSA keys. Reads never block a refresh: the key map is replaced
// wholesale under the write lock, and a failed refresh keeps the
// last-known-good set usable only within a bounded staleness window.
type JWKSCache struct {
	url        string
	ttl        time.Duration
	httpClient *http.Client
	logger     *zap.Logger

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	lastFetch time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewJWKSCache(url string, ttl time.Duration, logger *zap.Logger) *JWKSCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &JWKSCache{
		url:        url,
		ttl:        ttl,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// maxStaleFactor bounds how long a last-known-good key set stays usable: once
// the cached set is older than maxStaleFactor times the TTL, refresh failures
// become lookup failures. Rotated-out provider keys cannot validate forever.
const maxStaleFactor = 3

// Key returns the RSA public key for kid. A stale set or an unknown kid
// triggers one on-demand refresh before failing, which covers provider key
// rotation.
func (c *JWKSCache) Key(kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	key, ok := c.keys[kid]
	fetched := !c.lastFetch.IsZero()
	age := time.Since(c.lastFetch)
	c.mu.RUnlock()
	if ok && age < c.ttl {
		return key, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Refresh(ctx); err != nil {
		if !fetched {
			return nil, fmt.Errorf("failed to fetch verification keys: %w", err)
		}
		if age > maxStaleFactor*c.ttl {
			return nil, fmt.Errorf("verification keys stale for %s and refresh failed: %w", age.Round(time.Millisecond), err)
		}
		c.logger.Warn("key set refresh failed, using cached keys", zap.Error(err))
	}

	c.mu.RLock()
	key, ok = c.keys[kid]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("verification key %q not found", kid)
	}
	return key, nil
}

// Refresh fetches and decodes the JWKS document, replacing the cached set.
func (c *JWKSCache) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create JWKS request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read JWKS response: %w", err)
	}

	var doc jwksDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("failed to parse JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := k.rsaPublicKey()
		if err != nil {
			c.logger.Warn("skipping unparsable JWKS key", zap.String("kid", k.Kid), zap.Error(err))
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return errors.New("JWKS document contains no usable RSA keys")
	}

	c.mu.Lock()
	c.keys = keys
	c.lastFetch = time.Now()
	c.mu.Unlock()

	c.logger.Info("verification key set refreshed",
		zap.String("url", c.url),
		zap.Int("keys", len(keys)),
	)
	return nil
}

// StartAutoRefresh refreshes the key set on a background schedule until the
// context is cancelled or Stop is called.
func (c *JWKSCache) StartAutoRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = c.ttl / 2
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		if err := c.Refresh(ctx); err != nil {
			c.logger.Error("initial key set fetch failed", zap.Error(err))
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				if err := c.Refresh(ctx); err != nil {
					c.logger.Error("key set refresh failed", zap.Error(err))
				}
			}
		}
	}()
}

func (c *JWKSCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (k *jwksKey) rsaPublicKey() (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("invalid modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("invalid exponent: %w", err)
	}
	e := new(big.Int).SetBytes(eb)
	if !e.IsInt64() || e.Int64() <= 0 {
		return nil, errors.New("invalid exponent value")
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nb),
		E: int(e.Int64()),
	}, nil
}

// StaticKeySet serves a fixed kid-to-key map. Used by tests and single-key
// deployments that pin the provider key out of band.
type StaticKeySet map[string]*rsa.PublicKey

func (s StaticKeySet) Key(kid string) (*rsa.PublicKey, error) {
	key, ok := s[kid]
	if !ok {
		return nil, fmt.Errorf("verification key %q not found", kid)
	}
	return key, nil
}

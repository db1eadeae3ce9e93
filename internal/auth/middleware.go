// internal/auth/middleware.go
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"taskhub/internal/metrics"
	"taskhub/internal/model"
)

type contextKey string

const principalKey contextKey = "principal"

// Middleware verifies the bearer credential and injects the resulting
// Principal into the request context. Authorization never runs for an
// unverified credential; a failure here short-circuits the handler chain.
func Middleware(v Verifier, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				metrics.AuthFailures.WithLabelValues("missing").Inc()
				http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
				return
			}

			principal, err := v.Verify(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				reason := "malformed"
				if errors.Is(err, ErrExpiredCredential) {
					reason = "expired"
				}
				metrics.AuthFailures.WithLabelValues(reason).Inc()
				logger.Debug("credential rejected", zap.String("reason", reason), zap.Error(err))
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), principalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPrincipal extracts the verified principal from the request context.
func GetPrincipal(r *http.Request) *model.Principal {
	if p, ok := r.Context().Value(principalKey).(*model.Principal); ok {
		return p
	}
	return nil
}

// WithPrincipal returns a context carrying the principal. Used by tests that
// exercise handlers without the HTTP middleware.
func WithPrincipal(ctx context.Context, p *model.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// Package auth authenticates producers submitting payloads to the ingest API.
// Tokens are verified against a JWKS endpoint or an HS256 shared secret.
package auth

import (
	"context"
	"slices"

	"github.com/golang-jwt/jwt/v5"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// ClaimsKey is the context key for storing validated producer claims.
const ClaimsKey contextKey = "claims"

// Claims is the producer token. Subject identifies the producer.
type Claims struct {
	jwt.RegisteredClaims

	// Sources restricts the producer to the listed source types.
	// An empty list allows every registered source.
	Sources []string `json:"sources,omitempty"`
}

// AllowsSource reports whether the token may submit payloads for sourceType.
func (c *Claims) AllowsSource(sourceType string) bool {
	if len(c.Sources) == 0 {
		return true
	}
	return slices.Contains(c.Sources, sourceType)
}

// GetClaims retrieves producer claims from the request context.
// Returns nil and false if claims are not present.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok
}

// ProducerFromContext returns the authenticated producer subject, or "" when
// the request was not authenticated.
func ProducerFromContext(ctx context.Context) string {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil {
		return ""
	}
	return claims.Subject
}

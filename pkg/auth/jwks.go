package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// TokenValidator validates a producer token and returns its claims.
// This abstraction enables testing with mock implementations.
type TokenValidator interface {
	ValidateToken(tokenString string) (*Claims, error)
	Close()
}

// ValidatorConfig selects how producer tokens are verified. JWKSURL takes
// precedence over SharedSecret.
type ValidatorConfig struct {
	JWKSURL      string
	SharedSecret string

	// Issuer, when set, must match the token's iss claim.
	Issuer string
}

// JWTValidator verifies producer tokens. With a JWKS URL it accepts RS256 and
// ES256 tokens signed by the published keys; otherwise HS256 tokens signed
// with the shared secret.
type JWTValidator struct {
	jwks   keyfunc.Keyfunc
	secret []byte
	parser *jwt.Parser
	cancel context.CancelFunc
}

// NewJWTValidator creates a validator. With a JWKS URL the key set is fetched
// now and refreshed in the background until Close.
func NewJWTValidator(cfg ValidatorConfig) (*JWTValidator, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	v := &JWTValidator{}
	switch {
	case cfg.JWKSURL != "":
		ctx, cancel := context.WithCancel(context.Background())
		jwks, err := keyfunc.NewDefaultCtx(ctx, []string{cfg.JWKSURL})
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create JWKS client for %s: %w", cfg.JWKSURL, err)
		}
		v.jwks = jwks
		v.cancel = cancel
		opts = append(opts, jwt.WithValidMethods([]string{"RS256", "ES256"}))
	case cfg.SharedSecret != "":
		v.secret = []byte(cfg.SharedSecret)
		opts = append(opts, jwt.WithValidMethods([]string{"HS256"}))
	default:
		return nil, errors.New("either a JWKS URL or a shared secret is required")
	}

	v.parser = jwt.NewParser(opts...)
	return v, nil
}

// ValidateToken verifies the signature, expiry and issuer of a token.
func (v *JWTValidator) ValidateToken(tokenString string) (*Claims, error) {
	token, err := v.parser.ParseWithClaims(tokenString, &Claims{}, v.keyFunc)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

func (v *JWTValidator) keyFunc(token *jwt.Token) (interface{}, error) {
	if v.jwks != nil {
		return v.jwks.KeyfuncCtx(context.Background())(token)
	}
	return v.secret, nil
}

// Close stops the background JWKS refresh.
func (v *JWTValidator) Close() {
	if v.cancel != nil {
		v.cancel()
	}
}

// Ensure JWTValidator implements TokenValidator at compile time.
var _ TokenValidator = (*JWTValidator)(nil)

package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmer-power/collection-engine/pkg/testhelpers"
)

const testSecret = "s3cret-for-tests"

func newSecretValidator(t *testing.T, issuer string) *JWTValidator {
	t.Helper()
	v, err := NewJWTValidator(ValidatorConfig{SharedSecret: testSecret, Issuer: issuer})
	require.NoError(t, err)
	t.Cleanup(v.Close)
	return v
}

func TestNewJWTValidator_RequiresKeyMaterial(t *testing.T) {
	_, err := NewJWTValidator(ValidatorConfig{})
	require.Error(t, err)
}

func TestJWTValidator_SharedSecret(t *testing.T) {
	v := newSecretValidator(t, testhelpers.TestIssuer)

	claims, err := v.ValidateToken(testhelpers.SignTestJWT(testSecret, "factory-7", "qc-analyzer"))
	require.NoError(t, err)
	assert.Equal(t, "factory-7", claims.Subject)
	assert.Equal(t, []string{"qc-analyzer"}, claims.Sources)
}

func TestJWTValidator_Rejections(t *testing.T) {
	v := newSecretValidator(t, testhelpers.TestIssuer)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "factory-7",
		"iss": testhelpers.TestIssuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	none, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": testhelpers.TestIssuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "factory-7",
		"iss": testhelpers.TestIssuer,
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"wrong secret", testhelpers.SignTestJWT("other-secret", "factory-7")},
		{"expired", testhelpers.SignTestJWTWithExpiry(testSecret, "factory-7", time.Now().Add(-time.Minute))},
		{"alg none", none},
		{"no subject", noSubject},
		{"no expiry", noExpiry},
		{"garbage", "not.a.token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.ValidateToken(tt.token)
			assert.Error(t, err)
		})
	}
}

func TestJWTValidator_IssuerMismatch(t *testing.T) {
	v := newSecretValidator(t, "https://someone-else.test")

	_, err := v.ValidateToken(testhelpers.SignTestJWT(testSecret, "factory-7"))
	assert.Error(t, err)
}

func TestJWTValidator_JWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	jwks := map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "producer-key",
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jwks)
	}))
	defer srv.Close()

	v, err := NewJWTValidator(ValidatorConfig{JWKSURL: srv.URL})
	require.NoError(t, err)
	defer v.Close()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": "pull-gateway",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	token.Header["kid"] = "producer-key"
	signed, err := token.SignedString(key)
	require.NoError(t, err)

	claims, err := v.ValidateToken(signed)
	require.NoError(t, err)
	assert.Equal(t, "pull-gateway", claims.Subject)

	// HS256 tokens are refused once a key set is configured.
	_, err = v.ValidateToken(testhelpers.SignTestJWT(testSecret, "pull-gateway"))
	assert.Error(t, err)
}

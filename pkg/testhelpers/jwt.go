package testhelpers

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TestIssuer is the issuer stamped on tokens from SignTestJWT.
const TestIssuer = "https://producers.test"

// SignTestJWT returns an HS256 producer token for subject, valid for an hour.
// sources, when given, restricts the token to those source types.
func SignTestJWT(secret, subject string, sources ...string) string {
	return SignTestJWTWithExpiry(secret, subject, time.Now().Add(time.Hour), sources...)
}

// SignTestJWTWithExpiry is SignTestJWT with an explicit expiry.
func SignTestJWTWithExpiry(secret, subject string, expiresAt time.Time, sources ...string) string {
	claims := jwt.MapClaims{
		"sub": subject,
		"iss": TestIssuer,
		"iat": time.Now().Unix(),
		"exp": expiresAt.Unix(),
	}
	if len(sources) > 0 {
		claims["sources"] = sources
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		panic(err)
	}
	return signed
}

// BearerTestJWT returns SignTestJWT with the "Bearer " prefix for the
// Authorization header.
func BearerTestJWT(secret, subject string, sources ...string) string {
	return "Bearer " + SignTestJWT(secret, subject, sources...)
}

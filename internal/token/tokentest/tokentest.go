// Package tokentest mints signed tokens for tests.
package tokentest

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var signingKey = []byte("renewctl-test-signing-key")

// Mint signs claims with a throwaway HMAC key.
func Mint(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return signed
}

// ExpiringIn mints a token for a regular user that expires d after now.
func ExpiringIn(t testing.TB, now time.Time, d time.Duration) string {
	t.Helper()
	return Mint(t, jwt.MapClaims{
		"sub":         "42",
		"name":        "Thandi",
		"surname":     "Nkosi",
		"email":       "thandi@example.com",
		"user_type":   "Admin",
		"entity_type": "dealer",
		"permissions": []string{"vehicles.view", "vehicles.renew"},
		"iat":         now.Unix(),
		"exp":         now.Add(d).Unix(),
	})
}

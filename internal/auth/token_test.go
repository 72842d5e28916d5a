package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("server-side-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestInspectReadsClaimsWithoutSecret(t *testing.T) {
	tokenString := signedToken(t, "u1", time.Now().Add(time.Hour))

	claims, err := Inspect(tokenString)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if claims.UserID != "u1" {
		t.Fatalf("expected subject u1, got %q", claims.UserID)
	}
	if Expired(claims, time.Now()) {
		t.Fatalf("token should not be expired")
	}
}

func TestInspectRejectsPlaceholders(t *testing.T) {
	for _, token := range []string{"offline_1700000000000_abc", "pending_1700000000000"} {
		if _, err := Inspect(token); err != ErrPlaceholder {
			t.Fatalf("expected ErrPlaceholder for %q, got %v", token, err)
		}
	}
}

func TestInspectRejectsGarbage(t *testing.T) {
	if _, err := Inspect("not-a-jwt"); err != ErrMalformed {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestExpired(t *testing.T) {
	tokenString := signedToken(t, "u1", time.Now().Add(-time.Minute))
	claims, err := Inspect(tokenString)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if !Expired(claims, time.Now()) {
		t.Fatalf("token past its expiry should report expired")
	}
}

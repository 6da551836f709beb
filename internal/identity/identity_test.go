package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func withSecret(t *testing.T, value string) {
	t.Helper()
	t.Setenv("WARDKEY_AUTH_SECRET", value)
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)
}

func TestGenerateAndValidate(t *testing.T) {
	withSecret(t, "unit-test-secret")

	token, err := GenerateToken("user-42", "jordan", []string{"Admin", "doctor", "admin"}, 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "user-42" {
		t.Fatalf("subject = %s, want user-42", claims.Subject)
	}
	if claims.Username != "jordan" {
		t.Fatalf("username = %s, want jordan", claims.Username)
	}
	if len(claims.Roles) != 2 {
		t.Fatalf("expected deduplicated roles, got %v", claims.Roles)
	}
}

func TestParseRejectsBadTokens(t *testing.T) {
	withSecret(t, "unit-test-secret")

	if _, err := ParseAndValidate(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("empty token: expected ErrInvalidToken, got %v", err)
	}
	if _, err := ParseAndValidate("not.a.jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage token: expected ErrInvalidToken, got %v", err)
	}

	// Wrong issuer.
	wrongIssuer := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := wrongIssuer.SignedString([]byte("unit-test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseAndValidate(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong issuer: expected ErrInvalidToken, got %v", err)
	}

	// Expired.
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "wardkey",
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})
	signed, err = expired.SignedString([]byte("unit-test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseAndValidate(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token: expected ErrInvalidToken, got %v", err)
	}

	// Wrong key.
	otherKey := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "wardkey",
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err = otherKey.SignedString([]byte("different-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseAndValidate(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong key: expected ErrInvalidToken, got %v", err)
	}
}

func TestGenerateTokenRequiresSecret(t *testing.T) {
	withSecret(t, "")

	if _, err := GenerateToken("user-1", "", []string{"user"}, time.Minute); err == nil {
		t.Fatalf("expected error without configured secret")
	}
}

func TestPrincipalContext(t *testing.T) {
	ctx := context.Background()
	if _, ok := PrincipalFromContext(ctx); ok {
		t.Fatalf("empty context should have no principal")
	}

	p := Principal{UserID: "user-7", Username: "alex", Roles: []string{"manager", "doctor"}}
	ctx = ContextWithPrincipal(ctx, p)

	got, ok := PrincipalFromContext(ctx)
	if !ok || got.UserID != "user-7" {
		t.Fatalf("unexpected principal: %+v ok=%v", got, ok)
	}
	if !got.HasRole("Manager") {
		t.Fatalf("HasRole should be case-insensitive")
	}
	if got.HasRole("admin") {
		t.Fatalf("unexpected role match")
	}
	if !got.HasAnyRole("admin", "doctor") {
		t.Fatalf("HasAnyRole missed doctor")
	}

	id, ok := UserIDFromContext(ctx)
	if !ok || id != "user-7" {
		t.Fatalf("UserIDFromContext = %s ok=%v", id, ok)
	}
}

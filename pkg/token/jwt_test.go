package token

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestJWTManager_GenerateAndVerify(t *testing.T) {
	m := NewJWTManager("test-secret-test-secret", time.Hour)

	tok, expiresAt, err := m.GenerateToken("user-123")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if time.Until(expiresAt) <= 59*time.Minute {
		t.Fatalf("unexpected expiry %v", expiresAt)
	}

	claims, err := m.VerifyToken(tok)
	if err != nil {
		t.Fatalf("VerifyToken failed: %v", err)
	}
	if claims.UserID() != "user-123" {
		t.Fatalf("claims.UserID mismatch: got %s", claims.UserID())
	}
	if claims.ID == "" {
		t.Fatal("expected a jti")
	}
}

func TestJWTManager_UniqueJTI(t *testing.T) {
	m := NewJWTManager("test-secret-test-secret", time.Hour)
	a, _, _ := m.GenerateToken("u1")
	b, _, _ := m.GenerateToken("u1")
	ca, _ := m.VerifyToken(a)
	cb, _ := m.VerifyToken(b)
	if ca.ID == cb.ID {
		t.Fatal("expected distinct token ids")
	}
}

func TestJWTManager_Expired(t *testing.T) {
	m := NewJWTManager("test-secret-test-secret", time.Minute)
	m.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }
	tok, _, err := m.GenerateToken("u1")
	if err != nil {
		t.Fatal(err)
	}

	m.now = time.Now
	if _, err := m.VerifyToken(tok); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestJWTManager_WrongSecret(t *testing.T) {
	tok, _, err := NewJWTManager("right-secret-right-secret", time.Hour).GenerateToken("u2")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewJWTManager("wrong-secret-wrong-secret", time.Hour).VerifyToken(tok); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestJWTManager_TamperedPayload(t *testing.T) {
	m := NewJWTManager("test-secret-test-secret", time.Hour)
	tok, _, _ := m.GenerateToken("u1")
	parts := strings.Split(tok, ".")
	other, _, _ := m.GenerateToken("u2")
	forged := parts[0] + "." + strings.Split(other, ".")[1] + "." + parts[2]

	if _, err := m.VerifyToken(forged); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for forged token, got %v", err)
	}
}

func TestJWTManager_RejectsOtherAlgorithms(t *testing.T) {
	m := NewJWTManager("test-secret-test-secret", time.Hour)
	claims := CustomClaims{RegisteredClaims: jwt.RegisteredClaims{
		ID:        "x",
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("test-secret-test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.VerifyToken(tok); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for HS512 token, got %v", err)
	}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.VerifyToken(none); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for alg=none token, got %v", err)
	}
}

func TestJWTManager_Malformed(t *testing.T) {
	m := NewJWTManager("test-secret-test-secret", time.Hour)
	for _, tok := range []string{"", "not.a.jwt", "abc"} {
		if _, err := m.VerifyToken(tok); !errors.Is(err, ErrInvalid) {
			t.Fatalf("expected ErrInvalid for %q, got %v", tok, err)
		}
	}
}

package auth

import (
	"errors"
	"testing"
	"time"
)

func TestGateCheck(t *testing.T) {
	g := Gate{Password: "Suwarika"}
	user, err := g.Check("  alice ", "Suwarika")
	if err != nil || user != "alice" {
		t.Fatalf("expected alice, got %q (%v)", user, err)
	}
	if _, err := g.Check("   ", "Suwarika"); !errors.Is(err, ErrUserRequired) {
		t.Fatalf("expected ErrUserRequired, got %v", err)
	}
	if _, err := g.Check("alice", "suwarika"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}
}

func TestIssuerRoundTrip(t *testing.T) {
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	iss := Issuer{Secret: "s3cret", TTL: time.Hour, Now: func() time.Time { return now }}
	tok, err := iss.Issue("alice")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	user, err := iss.Verify(tok)
	if err != nil || user != "alice" {
		t.Fatalf("verify: %q %v", user, err)
	}

	other := Issuer{Secret: "different", Now: iss.Now}
	if _, err := other.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}

	later := Issuer{Secret: "s3cret", Now: func() time.Time { return now.Add(2 * time.Hour) }}
	if _, err := later.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expiry error, got %v", err)
	}
}

func TestIssuerRequiresSecret(t *testing.T) {
	if _, err := (Issuer{}).Issue("alice"); err == nil {
		t.Fatalf("expected error without secret")
	}
}

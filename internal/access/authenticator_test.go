package access

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	t.Parallel()
	auth := NewAuthenticator("secret", time.Hour)
	token, err := auth.GenerateToken("user-1", "alice", "sess-1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := auth.ParseToken(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != "user-1" || claims.Username != "alice" || claims.SessionID != "sess-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestTokenTamperedSignature(t *testing.T) {
	t.Parallel()
	auth := NewAuthenticator("secret", time.Hour)
	token, err := auth.GenerateToken("user-1", "alice", "sess-1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + ".AAAA"
	if _, err := auth.ParseToken(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenExpired(t *testing.T) {
	t.Parallel()
	auth := NewAuthenticator("secret", -time.Minute)
	token, err := auth.GenerateToken("user-1", "alice", "sess-1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := auth.ParseToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestPasswordHashVerify(t *testing.T) {
	t.Parallel()
	auth := NewAuthenticator("secret", time.Hour)
	hash, err := auth.HashPassword("hunter22")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := auth.VerifyPassword(hash, "hunter22"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := auth.VerifyPassword(hash, "wrong"); err == nil {
		t.Fatal("expected mismatch error")
	}
}

func TestCapabilitySetBasic(t *testing.T) {
	t.Parallel()
	set := Capabilities(CapSearchUsers)
	if !set.Has(CapSearchUsers) {
		t.Fatal("expected CapSearchUsers")
	}
	if set.Has(CapTestConnection) {
		t.Fatal("CapTestConnection was not declared")
	}
}

package testutil

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/vdi-broker/vdi-broker/internal/access"
)

func TestTimeout(t *testing.T) time.Duration {
	t.Helper()
	v := os.Getenv("TEST_TIMEOUT_SECONDS")
	if v == "" {
		return 10 * time.Second
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		t.Logf("invalid TEST_TIMEOUT_SECONDS=%q, using default 10", v)
		return 10 * time.Second
	}
	return time.Duration(n) * time.Second
}

func Context(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), TestTimeout(t))
}

func MustToken(t *testing.T, userID, username, sessionID string) string {
	t.Helper()
	secret := os.Getenv("TOKEN_SECRET")
	if secret == "" {
		secret = "local-dev-secret"
	}
	auth := access.NewAuthenticator(secret, 24*time.Hour)
	tok, err := auth.GenerateToken(userID, username, sessionID)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return tok
}

package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"chat-platform/internal/config"
)

func TestIssueAndVerifyAccessToken(t *testing.T) {
	m, err := NewManager(config.AuthConfig{
		JWTSecret:       "secret",
		JWTIssuer:       "issuer",
		JWTAudience:     "aud",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}

	now := time.Unix(1700000000, 0).UTC()
	pair, err := m.IssuePair(now, "user-1", "alice")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected token strings")
	}

	claims, err := m.Verify(pair.AccessToken, TokenTypeAccess, now.Add(1*time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "user-1" || claims.Username != "alice" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyUsesSuppliedTime(t *testing.T) {
	m, err := NewManager(config.AuthConfig{
		JWTSecret:       "secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}

	now := time.Unix(1700000000, 0).UTC()
	pair, err := m.IssuePair(now, "user-1", "alice")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := m.Verify(pair.AccessToken, TokenTypeAccess, now.Add(14*time.Minute)); err != nil {
		t.Fatalf("verify within ttl: %v", err)
	}
	// Past the TTL plus leeway the token must be rejected, regardless of
	// what the wall clock says.
	if _, err := m.Verify(pair.AccessToken, TokenTypeAccess, now.Add(16*time.Minute)); err == nil {
		t.Fatalf("expected expired token at supplied time")
	}
}

func TestVerifyRejectsWrongTokenType(t *testing.T) {
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	p, err := m.IssuePair(time.Now(), "u", "n")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(p.RefreshToken, TokenTypeAccess, time.Now()); err == nil {
		t.Fatalf("expected token_type mismatch")
	}
}

func TestTokenFromRequest_HeaderAndQuery(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer abc")
	if got := TokenFromRequest(r); got != "abc" {
		t.Fatalf("expected header token, got %q", got)
	}

	r = httptest.NewRequest("GET", "/ws?token=xyz", nil)
	if got := TokenFromRequest(r); got != "xyz" {
		t.Fatalf("expected query token, got %q", got)
	}
}

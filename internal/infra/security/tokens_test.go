//go:build !integration

package security

import (
	"context"
	"errors"
	"testing"
	"time"

	"ostrid-adapter/internal/config"
	"ostrid-adapter/internal/domain"
)

func newManager(ttl time.Duration) *TokenManager {
	return NewTokenManager(&config.SecurityConfig{JWTSecret: "test-secret", TokenTTL: ttl})
}

func TestTokenRoundTrip(t *testing.T) {
	m := newManager(time.Hour)
	tok, err := m.Mint("agent-1", []string{"raiser"})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	id, err := m.Decode(context.Background(), tok)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if id.Subject != "agent-1" {
		t.Errorf("subject = %q, want agent-1", id.Subject)
	}
	if len(id.Roles) != 1 || id.Roles[0] != "raiser" {
		t.Errorf("roles = %v, want [raiser]", id.Roles)
	}
	if !id.Expiry.After(time.Now()) {
		t.Errorf("expiry %v not in the future", id.Expiry)
	}
}

func TestTokenExpired(t *testing.T) {
	m := newManager(-time.Minute)
	tok, err := m.Mint("agent-1", nil)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	_, err = m.Decode(context.Background(), tok)
	if !errors.Is(err, domain.ErrExpiredToken) {
		t.Fatalf("err = %v, want ErrExpiredToken", err)
	}
}

func TestTokenInvalid(t *testing.T) {
	m := newManager(time.Hour)
	other := NewTokenManager(&config.SecurityConfig{JWTSecret: "other-secret", TokenTTL: time.Hour})
	tok, err := other.Mint("agent-1", nil)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	for _, bad := range []string{"", "not-a-token", tok} {
		if _, err := m.Decode(context.Background(), bad); !errors.Is(err, domain.ErrInvalidToken) {
			t.Errorf("Decode(%q) err = %v, want ErrInvalidToken", bad, err)
		}
	}
}

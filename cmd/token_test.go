package cmd

import (
	"testing"
	"time"

	"prism-kanban/api"
	"prism-kanban/config"
)

func TestLocalTokenIsAcceptedByAuth(t *testing.T) {
	cfg := config.Config{
		LocalAuthMode:         "hs256",
		LocalAuthSharedSecret: testSecret,
		Auth0Domain:           "tenant.example.com",
		Auth0Audience:         "api://kanban",
	}
	tok, err := localToken(cfg, "user-42", time.Hour, time.Now())
	if err != nil {
		t.Fatalf("localToken: %v", err)
	}
	auth, err := newAuth(cfg)
	if err != nil {
		t.Fatalf("newAuth: %v", err)
	}
	sub, err := auth.UserIDFromAuthHeader("Bearer " + tok)
	if err != nil || sub != "user-42" {
		t.Fatalf("expected user-42, got %q (%v)", sub, err)
	}

	other := cfg
	other.Auth0Audience = "api://other"
	auth, err = api.NewAuth(nil, other.Auth0Audience, other.Issuer(), api.AuthOptions{LocalMode: "hs256", LocalSecret: testSecret})
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}
	if _, err := auth.UserIDFromToken(tok); err == nil {
		t.Fatal("expected audience mismatch to be rejected")
	}
}

func TestLocalTokenRequiresSecret(t *testing.T) {
	if _, err := localToken(config.Config{}, "u", time.Hour, time.Now()); err == nil {
		t.Fatal("expected missing secret to fail")
	}
	if _, err := localToken(config.Config{LocalAuthSharedSecret: "s"}, "", time.Hour, time.Now()); err == nil {
		t.Fatal("expected empty user id to fail")
	}
}

func TestLocalTokenExpired(t *testing.T) {
	cfg := config.Config{LocalAuthMode: "hs256", LocalAuthSharedSecret: testSecret}
	tok, err := localToken(cfg, "user-1", time.Hour, time.Now().Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("localToken: %v", err)
	}
	auth, err := newAuth(cfg)
	if err != nil {
		t.Fatalf("newAuth: %v", err)
	}
	if _, err := auth.UserIDFromToken(tok); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

package main

import (
	"testing"
	"time"

	"sticky-board/api"
)

func TestSignTokenAcceptedByServerAuth(t *testing.T) {
	tok, err := signToken("s3cret", "u1", "u1@example.com", time.Hour, time.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	auth := api.NewSharedSecretAuth([]byte("s3cret"), "", "")
	p, err := auth.PrincipalFromBearer(tok)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if p.ID != "u1" || p.Email != "u1@example.com" {
		t.Fatalf("unexpected principal %+v", p)
	}
}

func TestSignTokenExpired(t *testing.T) {
	tok, err := signToken("s3cret", "u1", "", time.Minute, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := api.NewSharedSecretAuth([]byte("s3cret"), "", "").PrincipalFromBearer(tok); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestSecretFromEnv(t *testing.T) {
	t.Setenv("LOCAL_AUTH_SHARED_SECRET", "")
	t.Setenv("TEST_JWT_SECRET", "")
	if got := secretFromEnv(); got != "testsecret" {
		t.Fatalf("got %q", got)
	}
	t.Setenv("TEST_JWT_SECRET", "legacy")
	if got := secretFromEnv(); got != "legacy" {
		t.Fatalf("got %q", got)
	}
	t.Setenv("LOCAL_AUTH_SHARED_SECRET", "local")
	if got := secretFromEnv(); got != "local" {
		t.Fatalf("got %q", got)
	}
}

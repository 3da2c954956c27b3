package auth

import (
	"errors"
	"testing"
	"time"
)

func TestTokenIssueAndVerify(t *testing.T) {
	tokens := NewTokenManager("test-secret", time.Hour)

	raw, errIssue := tokens.Issue("user-1", "alice@example.com")
	if errIssue != nil {
		t.Fatalf("Issue: %v", errIssue)
	}

	principal, errVerify := tokens.Verify(raw)
	if errVerify != nil {
		t.Fatalf("Verify: %v", errVerify)
	}
	if principal.UserID != "user-1" || principal.Email != "alice@example.com" {
		t.Fatalf("unexpected principal %+v", principal)
	}
	if principal.ViaAPIKey {
		t.Fatalf("session principal must not be marked as api key")
	}
}

func TestTokenVerifyRejectsBadInput(t *testing.T) {
	tokens := NewTokenManager("test-secret", time.Hour)

	if _, errVerify := tokens.Verify(""); !errors.Is(errVerify, ErrAuthRequired) {
		t.Fatalf("expected ErrAuthRequired for empty token, got %v", errVerify)
	}
	if _, errVerify := tokens.Verify("not-a-jwt"); !errors.Is(errVerify, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for garbage, got %v", errVerify)
	}

	other := NewTokenManager("other-secret", time.Hour)
	raw, _ := other.Issue("user-1", "a@example.com")
	if _, errVerify := tokens.Verify(raw); !errors.Is(errVerify, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong secret, got %v", errVerify)
	}
}

func TestTokenVerifyRejectsExpired(t *testing.T) {
	tokens := NewTokenManager("test-secret", -time.Minute)

	raw, errIssue := tokens.Issue("user-1", "a@example.com")
	if errIssue != nil {
		t.Fatalf("Issue: %v", errIssue)
	}
	if _, errVerify := tokens.Verify(raw); !errors.Is(errVerify, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for expired token, got %v", errVerify)
	}
}

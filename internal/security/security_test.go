package security

import (
	"strings"
	"testing"
)

func TestHashAndCompareSecret(t *testing.T) {
	hash, errHash := HashSecret("s3cret")
	if errHash != nil {
		t.Fatalf("HashSecret: %v", errHash)
	}
	if hash == "s3cret" {
		t.Fatalf("hash must not equal the raw secret")
	}
	if !CompareSecret(hash, "s3cret") {
		t.Fatalf("expected match for correct secret")
	}
	if CompareSecret(hash, "wrong") {
		t.Fatalf("expected mismatch for wrong secret")
	}
}

func TestGenerateAPIKey(t *testing.T) {
	key1, errGen := GenerateAPIKey()
	if errGen != nil {
		t.Fatalf("GenerateAPIKey: %v", errGen)
	}
	key2, errGen := GenerateAPIKey()
	if errGen != nil {
		t.Fatalf("GenerateAPIKey: %v", errGen)
	}
	if !strings.HasPrefix(key1, "pk_") {
		t.Fatalf("expected pk_ prefix, got %q", key1)
	}
	if key1 == key2 {
		t.Fatalf("expected distinct keys")
	}
	if prefix := KeyDisplayPrefix(key1); len(prefix) != APIKeyDisplayLen || !strings.HasPrefix(key1, prefix) {
		t.Fatalf("unexpected display prefix %q for %q", prefix, key1)
	}
}

func TestGenerateOTP(t *testing.T) {
	for i := 0; i < 20; i++ {
		otp, errGen := GenerateOTP()
		if errGen != nil {
			t.Fatalf("GenerateOTP: %v", errGen)
		}
		if len(otp) != 6 {
			t.Fatalf("expected 6 digits, got %q", otp)
		}
		for _, r := range otp {
			if r < '0' || r > '9' {
				t.Fatalf("expected numeric otp, got %q", otp)
			}
		}
	}
}

func TestValidAnonymousToken(t *testing.T) {
	valid := []string{"tok-123", "a", strings.Repeat("x", 128)}
	for _, token := range valid {
		if !ValidAnonymousToken(token) {
			t.Fatalf("expected %q valid", token)
		}
	}
	invalid := []string{"", "has space", "tab\tted", "non-ascii-é", strings.Repeat("x", 129)}
	for _, token := range invalid {
		if ValidAnonymousToken(token) {
			t.Fatalf("expected %q invalid", token)
		}
	}
}

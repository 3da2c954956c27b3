package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

const (
	// bcryptCost matches the cost used for passwords, OTPs, and API keys.
	bcryptCost = 10

	apiKeyPrefix    = "pk_"
	apiKeyRandBytes = 24
	// APIKeyDisplayLen is the length of the non-secret display fragment.
	APIKeyDisplayLen = 12

	otpDigits = 6

	// anonymousTokenMaxLen bounds client-chosen anonymous session tokens.
	anonymousTokenMaxLen = 128
)

// HashSecret returns the bcrypt hash of a password, OTP, or API key.
func HashSecret(secret string) (string, error) {
	hash, errHash := bcrypt.GenerateFromPassword([]byte(secret), bcryptCost)
	if errHash != nil {
		return "", fmt.Errorf("security: hash: %w", errHash)
	}
	return string(hash), nil
}

// CompareSecret reports whether secret matches the stored bcrypt hash.
func CompareSecret(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// GenerateAPIKey returns a fresh raw API key secret. The caller hashes it and
// keeps only the hash plus the display prefix.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, apiKeyRandBytes)
	if _, errRead := rand.Read(buf); errRead != nil {
		return "", fmt.Errorf("security: generate api key: %w", errRead)
	}
	return apiKeyPrefix + hex.EncodeToString(buf), nil
}

// KeyDisplayPrefix returns the non-secret display fragment of a raw key.
func KeyDisplayPrefix(rawKey string) string {
	if len(rawKey) <= APIKeyDisplayLen {
		return rawKey
	}
	return rawKey[:APIKeyDisplayLen]
}

// ValidAnonymousToken reports whether a client-supplied anonymous session
// token is acceptable: non-empty, bounded length, printable ASCII without
// whitespace.
func ValidAnonymousToken(token string) bool {
	if token == "" || len(token) > anonymousTokenMaxLen {
		return false
	}
	for i := 0; i < len(token); i++ {
		if token[i] <= ' ' || token[i] > '~' {
			return false
		}
	}
	return true
}

// GenerateOTP returns a random numeric one-time code as a zero-padded string.
func GenerateOTP() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < otpDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, errRand := rand.Int(rand.Reader, max)
	if errRand != nil {
		return "", fmt.Errorf("security: generate otp: %w", errRand)
	}
	return fmt.Sprintf("%0*d", otpDigits, n), nil
}

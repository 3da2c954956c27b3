package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Sentinel errors for the authentication layer.
var (
	// ErrAuthRequired indicates no credential was presented.
	ErrAuthRequired = errors.New("auth: authentication required")
	// ErrInvalidCredentials indicates a credential was presented but did not
	// verify. Callers report it without revealing which factor failed.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
)

// SessionCookieName is the cookie carrying the signed session token.
const SessionCookieName = "parley_session"

// sessionClaims is the JWT payload for cookie sessions.
type sessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// TokenManager signs and verifies session tokens.
type TokenManager struct {
	secret []byte
	expiry time.Duration
}

// NewTokenManager constructs a TokenManager.
func NewTokenManager(secret string, expiry time.Duration) *TokenManager {
	return &TokenManager{secret: []byte(secret), expiry: expiry}
}

// Expiry returns the configured session lifetime.
func (m *TokenManager) Expiry() time.Duration { return m.expiry }

// Issue signs a session token for the given user.
func (m *TokenManager) Issue(userID, email string) (string, error) {
	if len(m.secret) == 0 {
		return "", fmt.Errorf("auth: session secret not configured")
	}
	now := time.Now().UTC()
	claims := sessionClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, errSign := token.SignedString(m.secret)
	if errSign != nil {
		return "", fmt.Errorf("auth: sign token: %w", errSign)
	}
	return signed, nil
}

// Verify parses and validates a session token, returning the principal it
// carries.
func (m *TokenManager) Verify(raw string) (Principal, error) {
	if raw == "" {
		return Principal{}, ErrAuthRequired
	}
	var claims sessionClaims
	token, errParse := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if errParse != nil || !token.Valid || claims.Subject == "" {
		return Principal{}, ErrInvalidCredentials
	}
	return Principal{UserID: claims.Subject, Email: claims.Email}, nil
}

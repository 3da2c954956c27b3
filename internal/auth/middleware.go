package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/parleychat/parley/internal/security"
	"github.com/parleychat/parley/internal/storage"
	log "github.com/sirupsen/logrus"
)

// Principal is the resolved identity attached to a request after
// authentication succeeds.
type Principal struct {
	UserID string
	Email  string
	// ViaAPIKey is true when the identity was synthesized from a bearer key
	// rather than a cookie session.
	ViaAPIKey bool
}

const principalContextKey = "parley.principal"

// PrincipalFromContext returns the principal set by the middleware, if any.
func PrincipalFromContext(c *gin.Context) (Principal, bool) {
	value, ok := c.Get(principalContextKey)
	if !ok {
		return Principal{}, false
	}
	principal, ok := value.(Principal)
	return principal, ok
}

func setPrincipal(c *gin.Context, principal Principal) {
	c.Set(principalContextKey, principal)
}

// Middleware resolves request identity before storage operations execute.
type Middleware struct {
	store  storage.Store
	tokens *TokenManager
}

// NewMiddleware constructs the authentication middleware.
func NewMiddleware(store storage.Store, tokens *TokenManager) *Middleware {
	return &Middleware{store: store, tokens: tokens}
}

// SetSessionCookie writes the signed session cookie for the given user.
func (m *Middleware) SetSessionCookie(c *gin.Context, userID, email string) error {
	token, errIssue := m.tokens.Issue(userID, email)
	if errIssue != nil {
		return errIssue
	}
	c.SetCookie(SessionCookieName, token, int(m.tokens.Expiry().Seconds()), "/", "", false, true)
	return nil
}

// ClearSessionCookie removes the session cookie.
func (m *Middleware) ClearSessionCookie(c *gin.Context) {
	c.SetCookie(SessionCookieName, "", -1, "/", "", false, true)
}

// sessionPrincipal resolves a principal from the session cookie.
func (m *Middleware) sessionPrincipal(c *gin.Context) (Principal, error) {
	raw, errCookie := c.Cookie(SessionCookieName)
	if errCookie != nil {
		return Principal{}, ErrAuthRequired
	}
	return m.tokens.Verify(raw)
}

// apiKeyPrincipal resolves a principal from a bearer API key. The hashing
// scheme is salted, so the raw key is compared against every stored hash.
func (m *Middleware) apiKeyPrincipal(ctx context.Context, header string) (Principal, error) {
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return Principal{}, ErrAuthRequired
	}
	rawKey := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if rawKey == "" {
		return Principal{}, ErrAuthRequired
	}

	keys, errList := m.store.ListAllAPIKeys(ctx)
	if errList != nil {
		return Principal{}, errList
	}

	for _, key := range keys {
		if !security.CompareSecret(key.KeyHash, rawKey) {
			continue
		}
		if errTouch := m.store.TouchAPIKeyLastUsed(ctx, key.KeyHash); errTouch != nil {
			log.WithError(errTouch).Warn("auth: touch api key failed")
		}
		user, errUser := m.store.GetUserByID(ctx, key.UserID)
		if errUser != nil {
			// Dangling key: the owning user was deleted.
			if errors.Is(errUser, storage.ErrNotFound) {
				return Principal{}, ErrInvalidCredentials
			}
			return Principal{}, errUser
		}
		return Principal{UserID: user.ID, Email: user.Email, ViaAPIKey: true}, nil
	}
	return Principal{}, ErrInvalidCredentials
}

// RequireSession accepts only cookie-session credentials.
func (m *Middleware) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, errResolve := m.sessionPrincipal(c)
		if errResolve != nil {
			abortUnauthorized(c, errResolve)
			return
		}
		setPrincipal(c, principal)
		c.Next()
	}
}

// RequireAPIKey accepts only bearer API key credentials.
func (m *Middleware) RequireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, errResolve := m.apiKeyPrincipal(c.Request.Context(), c.GetHeader("Authorization"))
		if errResolve != nil {
			abortUnauthorized(c, errResolve)
			return
		}
		setPrincipal(c, principal)
		c.Next()
	}
}

// RequireSessionOrAPIKey accepts either credential path and fails only when
// both are absent or invalid.
func (m *Middleware) RequireSessionOrAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if principal, errSession := m.sessionPrincipal(c); errSession == nil {
			setPrincipal(c, principal)
			c.Next()
			return
		}
		principal, errKey := m.apiKeyPrincipal(c.Request.Context(), c.GetHeader("Authorization"))
		if errKey != nil {
			abortUnauthorized(c, errKey)
			return
		}
		setPrincipal(c, principal)
		c.Next()
	}
}

// OptionalIdentity resolves a principal when either credential is present but
// never rejects the request. Anonymous callers proceed unauthenticated.
func (m *Middleware) OptionalIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if principal, errSession := m.sessionPrincipal(c); errSession == nil {
			setPrincipal(c, principal)
		} else if principal, errKey := m.apiKeyPrincipal(c.Request.Context(), c.GetHeader("Authorization")); errKey == nil {
			setPrincipal(c, principal)
		}
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrAuthRequired):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
	case errors.Is(err, ErrInvalidCredentials):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	default:
		log.WithError(err).Error("auth: credential check failed")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "authentication failed"})
	}
}

package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/parleychat/parley/internal/auth"
	"github.com/parleychat/parley/internal/models"
	"github.com/parleychat/parley/internal/security"
	"github.com/parleychat/parley/internal/storage"
	log "github.com/sirupsen/logrus"
)

// AnonymousSessionHeader carries the client-generated anonymous token used to
// scope sessions for callers without an account.
const AnonymousSessionHeader = "X-Anonymous-Session"

// SessionHandler serves chat session and message endpoints.
type SessionHandler struct {
	store storage.Store
}

// NewSessionHandler constructs a SessionHandler.
func NewSessionHandler(store storage.Store) *SessionHandler {
	return &SessionHandler{store: store}
}

// ownerAndToken resolves the filter criterion: an authenticated principal
// wins; otherwise the anonymous header token applies. Malformed tokens are
// treated as absent.
func ownerAndToken(c *gin.Context) (ownerUserID, anonymousToken string) {
	if principal, ok := auth.PrincipalFromContext(c); ok {
		return principal.UserID, ""
	}
	token := strings.TrimSpace(c.GetHeader(AnonymousSessionHeader))
	if !security.ValidAnonymousToken(token) {
		return "", ""
	}
	return "", token
}

// List returns the caller's sessions, newest first.
func (h *SessionHandler) List(c *gin.Context) {
	ownerUserID, anonymousToken := ownerAndToken(c)

	sessions, errList := h.store.ListChatSessions(c.Request.Context(), ownerUserID, anonymousToken)
	if errList != nil {
		log.WithError(errList).Error("list sessions failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch sessions"})
		return
	}
	c.JSON(http.StatusOK, sessions)
}

// Get returns one session by id.
func (h *SessionHandler) Get(c *gin.Context) {
	session, errGet := h.store.GetChatSession(c.Request.Context(), c.Param("id"))
	if errGet != nil {
		if errors.Is(errGet, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		log.WithError(errGet).Error("get session failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch session"})
		return
	}
	c.JSON(http.StatusOK, session)
}

// Create starts a new session owned by the authenticated user or scoped to
// the anonymous token.
func (h *SessionHandler) Create(c *gin.Context) {
	var body struct {
		Title string `json:"title"`
		Mode  string `json:"mode"`
	}
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	title := strings.TrimSpace(body.Title)
	if title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing title"})
		return
	}
	mode := body.Mode
	if mode == "" {
		mode = models.ModeChat
	}
	if !models.ValidMode(mode) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mode"})
		return
	}

	params := storage.CreateChatSessionParams{Title: title, Mode: mode}
	if ownerUserID, anonymousToken := ownerAndToken(c); ownerUserID != "" {
		params.UserID = &ownerUserID
	} else if anonymousToken != "" {
		params.AnonymousSessionID = &anonymousToken
	}

	session, errCreate := h.store.CreateChatSession(c.Request.Context(), params)
	if errCreate != nil {
		log.WithError(errCreate).Error("create session failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}
	c.JSON(http.StatusOK, session)
}

// Messages returns a session's messages, oldest first.
func (h *SessionHandler) Messages(c *gin.Context) {
	messages, errGet := h.store.GetMessages(c.Request.Context(), c.Param("id"))
	if errGet != nil {
		log.WithError(errGet).Error("get messages failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch messages"})
		return
	}
	c.JSON(http.StatusOK, messages)
}

// CreateMessage appends a message to a session.
func (h *SessionHandler) CreateMessage(c *gin.Context) {
	var body struct {
		SessionID string `json:"sessionId"`
		Role      string `json:"role"`
		Content   string `json:"content"`
	}
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.SessionID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing sessionId"})
		return
	}
	if !models.ValidRole(body.Role) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
		return
	}
	if body.Content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing content"})
		return
	}

	ctx := c.Request.Context()
	if _, errSession := h.store.GetChatSession(ctx, body.SessionID); errSession != nil {
		if errors.Is(errSession, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		log.WithError(errSession).Error("create message: session lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create message"})
		return
	}

	message, errCreate := h.store.CreateMessage(ctx, storage.CreateMessageParams{
		SessionID: body.SessionID,
		Role:      body.Role,
		Content:   body.Content,
	})
	if errCreate != nil {
		log.WithError(errCreate).Error("create message failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create message"})
		return
	}
	c.JSON(http.StatusOK, message)
}

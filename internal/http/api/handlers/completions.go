package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/parleychat/parley/internal/llm"
	"github.com/parleychat/parley/internal/models"
	"github.com/parleychat/parley/internal/ratelimit"
	"github.com/parleychat/parley/internal/storage"
	log "github.com/sirupsen/logrus"
)

// CompletionHandler proxies chat completion requests to the upstream model
// provider and optionally persists the exchange.
type CompletionHandler struct {
	store   storage.Store
	client  *llm.Client
	limiter *ratelimit.Manager
}

// NewCompletionHandler constructs a CompletionHandler. limiter may be nil to
// disable rate limiting.
func NewCompletionHandler(store storage.Store, client *llm.Client, limiter *ratelimit.Manager) *CompletionHandler {
	return &CompletionHandler{store: store, client: client, limiter: limiter}
}

type completionBody struct {
	Messages  []llm.ChatMessage `json:"messages"`
	Mode      string            `json:"mode"`
	SessionID string            `json:"sessionId"`
}

// Complete validates the conversation payload, enforces the per-principal
// rate limit, and returns the assistant reply. When sessionId names an
// existing session the final user turn and the reply are persisted to it.
func (h *CompletionHandler) Complete(c *gin.Context) {
	var body completionBody
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if len(body.Messages) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing messages"})
		return
	}
	for _, message := range body.Messages {
		if !models.ValidRole(message.Role) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message role"})
			return
		}
		if message.Content == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "empty message content"})
			return
		}
	}
	mode := body.Mode
	if mode == "" {
		mode = models.ModeChat
	}
	if !models.ValidMode(mode) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mode"})
		return
	}

	ctx := c.Request.Context()

	if h.limiter != nil && h.limiter.Limit() > 0 {
		ownerUserID, anonymousToken := ownerAndToken(c)
		key := ratelimit.PrincipalKey(ownerUserID, anonymousToken)
		if key == "" {
			// Callers with no resolvable identity share a per-address window.
			key = "ip:" + c.ClientIP()
		}
		result, errAllow := h.limiter.Allow(ctx, key)
		if errAllow != nil {
			log.WithError(errAllow).Warn("rate limit check failed; allowing request")
		} else if !result.Allowed {
			c.Header("Retry-After", "1")
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
	}

	completion, errComplete := h.client.Complete(ctx, mode, body.Messages)
	if errComplete != nil {
		if errors.Is(errComplete, llm.ErrNotConfigured) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "completion service not configured"})
			return
		}
		log.WithError(errComplete).Error("completion request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate completion"})
		return
	}

	if sessionID := strings.TrimSpace(body.SessionID); sessionID != "" {
		h.persistExchange(c, sessionID, body.Messages, completion)
	}

	c.JSON(http.StatusOK, gin.H{
		"content": completion.Content,
		"model":   llm.ModelForMode(mode),
		"usage":   completion.Usage,
	})
}

// persistExchange appends the last user turn and the assistant reply to the
// session. Persistence failures are logged but never fail the completion.
func (h *CompletionHandler) persistExchange(c *gin.Context, sessionID string, messages []llm.ChatMessage, completion *llm.Completion) {
	ctx := c.Request.Context()
	if _, errSession := h.store.GetChatSession(ctx, sessionID); errSession != nil {
		log.WithError(errSession).WithField("session_id", sessionID).Warn("completion persistence skipped")
		return
	}

	last := messages[len(messages)-1]
	if last.Role == models.RoleUser {
		if _, errUser := h.store.CreateMessage(ctx, storage.CreateMessageParams{
			SessionID: sessionID,
			Role:      models.RoleUser,
			Content:   last.Content,
		}); errUser != nil {
			log.WithError(errUser).Warn("persist user message failed")
		}
	}

	usage, errUsage := json.Marshal(completion.Usage)
	if errUsage != nil {
		usage = nil
	}
	if _, errAssistant := h.store.CreateMessage(ctx, storage.CreateMessageParams{
		SessionID: sessionID,
		Role:      models.RoleAssistant,
		Content:   completion.Content,
		Usage:     usage,
	}); errAssistant != nil {
		log.WithError(errAssistant).Warn("persist assistant message failed")
	}
}

package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/parleychat/parley/internal/auth"
	"github.com/parleychat/parley/internal/security"
	"github.com/parleychat/parley/internal/storage"
	log "github.com/sirupsen/logrus"
)

// APIKeyHandler manages the caller's API keys.
type APIKeyHandler struct {
	store storage.Store
}

// NewAPIKeyHandler constructs an APIKeyHandler.
func NewAPIKeyHandler(store storage.Store) *APIKeyHandler {
	return &APIKeyHandler{store: store}
}

// Create issues a new API key. The raw secret is returned here and never
// again.
func (h *APIKeyHandler) Create(c *gin.Context) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var body struct {
		Name string `json:"name"`
	}
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	name := strings.TrimSpace(body.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing name"})
		return
	}

	rawKey, errGenerate := security.GenerateAPIKey()
	if errGenerate != nil {
		log.WithError(errGenerate).Error("generate api key failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create api key"})
		return
	}
	keyHash, errHash := security.HashSecret(rawKey)
	if errHash != nil {
		log.WithError(errHash).Error("hash api key failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create api key"})
		return
	}

	key, errCreate := h.store.CreateAPIKey(c.Request.Context(), storage.CreateAPIKeyParams{
		UserID:    principal.UserID,
		Name:      name,
		KeyHash:   keyHash,
		KeyPrefix: security.KeyDisplayPrefix(rawKey),
	})
	if errCreate != nil {
		log.WithError(errCreate).Error("create api key failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create api key"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":        key.ID,
		"name":      key.Name,
		"key":       rawKey,
		"keyPrefix": key.KeyPrefix,
		"createdAt": key.CreatedAt,
	})
}

// List returns the caller's keys without secrets, newest first.
func (h *APIKeyHandler) List(c *gin.Context) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	keys, errList := h.store.ListAPIKeysByUser(c.Request.Context(), principal.UserID)
	if errList != nil {
		log.WithError(errList).Error("list api keys failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list api keys"})
		return
	}

	out := make([]gin.H, 0, len(keys))
	for _, key := range keys {
		out = append(out, gin.H{
			"id":         key.ID,
			"name":       key.Name,
			"keyPrefix":  key.KeyPrefix,
			"lastUsedAt": key.LastUsedAt,
			"createdAt":  key.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"apiKeys": out})
}

// Delete removes one of the caller's keys.
func (h *APIKeyHandler) Delete(c *gin.Context) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	id := c.Param("id")
	ctx := c.Request.Context()

	keys, errList := h.store.ListAPIKeysByUser(ctx, principal.UserID)
	if errList != nil {
		log.WithError(errList).Error("delete api key: list failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete api key"})
		return
	}
	owned := false
	for _, key := range keys {
		if key.ID == id {
			owned = true
			break
		}
	}
	if !owned {
		c.JSON(http.StatusNotFound, gin.H{"error": "api key not found"})
		return
	}

	if errDelete := h.store.DeleteAPIKey(ctx, id); errDelete != nil {
		if errors.Is(errDelete, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "api key not found"})
			return
		}
		log.WithError(errDelete).Error("delete api key failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete api key"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "api key deleted"})
}

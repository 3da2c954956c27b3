package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/parleychat/parley/internal/storage"
)

// HealthHandler serves liveness checks.
type HealthHandler struct {
	store storage.Store
}

// NewHealthHandler constructs a HealthHandler.
func NewHealthHandler(store storage.Store) *HealthHandler {
	return &HealthHandler{store: store}
}

// Healthz probes the storage backend with a cheap read and reports status.
func (h *HealthHandler) Healthz(c *gin.Context) {
	_, errProbe := h.store.GetUserByID(c.Request.Context(), "healthz-probe")
	if errProbe != nil && !errors.Is(errProbe, storage.ErrNotFound) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

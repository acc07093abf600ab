package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Banner identifies the service on the root path.
func (h *Handler) Banner(c *gin.Context) {
	c.String(http.StatusOK, "Push messenger v1")
}

// Health reports whether the database answers.
func (h *Handler) Health(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		h.logger.Warnf("Health check failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

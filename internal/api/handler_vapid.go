package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"push-messenger-backend/internal/push"
)

// GetVAPIDPublicKey returns the configured default VAPID public key to the client.
func (h *Handler) GetVAPIDPublicKey(c *gin.Context) {
	if h.defaults.VAPIDPublicKey == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "vapid keys are not configured"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"publicKey": h.defaults.VAPIDPublicKey})
}

// GenerateVAPIDKeys returns a fresh key pair. Nothing is stored; the caller
// keeps the private key and passes it back on send.
func (h *Handler) GenerateVAPIDKeys(c *gin.Context) {
	keys, err := push.GenerateVAPIDKeys()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, keys)
}

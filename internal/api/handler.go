package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"push-messenger-backend/internal/fanout"
	"push-messenger-backend/internal/push"
	"push-messenger-backend/internal/store"
)

// Broadcaster runs one fan-out.
type Broadcaster interface {
	Broadcast(ctx context.Context, req fanout.Request) (fanout.Result, error)
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store    store.Store
	engine   Broadcaster
	defaults push.Credentials
	logger   *zap.SugaredLogger
}

// NewHandler creates a new API handler. defaults is the sender identity used
// when a send request carries no key pair of its own.
func NewHandler(s store.Store, engine Broadcaster, defaults push.Credentials, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{
		store:    s,
		engine:   engine,
		defaults: defaults,
		logger:   logger,
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// fail maps store and engine errors onto status codes.
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, fanout.ErrNoTargets):
		badRequest(c, err.Error())
	case errors.Is(err, store.ErrUnavailable):
		h.logger.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
	default:
		h.logger.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"push-messenger-backend/config"
	"push-messenger-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(handler *Handler, cfg config.ServerConfig, logger *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(mw.AccessLog(logger), mw.Recovery(logger), mw.CORS(cfg.CORSAllowedOrigins))

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	responses := mw.NewResponseCache(time.Duration(cfg.CacheTTLSeconds) * time.Second)
	caching := responses.Cache()
	invalidateUser := responses.Invalidate(func(c *gin.Context) string {
		return "/api/v1/user/" + c.Param("userId") + "/"
	})

	r.GET("/", handler.Banner)
	r.GET("/healthz", handler.Health)

	api := r.Group("/api/v1")
	api.Use(rateLimiter)
	{
		api.POST("/user/", handler.CreateUser)
		api.GET("/user/:userId/devices/", caching, handler.ListDevices)
		api.POST("/user/:userId/device/", invalidateUser, handler.RegisterDevice)
		api.GET("/user/:userId/groups/", caching, handler.GetGroups)
		api.POST("/user/:userId/groups/", invalidateUser, handler.JoinGroups)
		api.DELETE("/user/:userId/groups/", invalidateUser, handler.LeaveGroups)

		api.POST("/send/", handler.Send)

		api.GET("/vapid_public_key", caching, handler.GetVAPIDPublicKey)
		api.POST("/vapid_keys", handler.GenerateVAPIDKeys)
	}

	return r
}

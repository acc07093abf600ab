package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"push-messenger-backend/config"
	"push-messenger-backend/internal/push"
	"push-messenger-backend/internal/store"
	"push-messenger-backend/internal/store/cache"
)

// newStore wraps the gorm store with the configured label cache. The returned
// func releases the cache connection.
func newStore(gormDB *gorm.DB, cfg config.CacheConfig, logger *zap.SugaredLogger) (store.Store, func(), error) {
	base := store.NewGormStore(gormDB)

	switch cfg.Backend {
	case config.CacheRedis:
		logger.Infof("initializing redis label cache at %s", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		return cache.NewCachedStore(base, redisClient, cfg.TTL), func() { redisClient.Close() }, nil
	case config.CacheMemory:
		logger.Info("using in-memory label cache")
		return cache.NewCachedStore(base, cache.NewMemoryClient(10*time.Minute), cfg.TTL), func() {}, nil
	default:
		return base, func() {}, nil
	}
}

// newSender registers a sender for every enabled platform. Web push is always
// available since its credentials arrive with each broadcast.
func newSender(ctx context.Context, cfg config.PushConfig) (*push.Router, error) {
	router := push.NewRouter().Handle(push.PlatformWeb, push.NewWebPushSender(&http.Client{}))

	if cfg.APNS.Enabled {
		apns, err := push.NewAPNSSender(push.APNSConfig{
			KeyFile:    cfg.APNS.KeyFile,
			KeyID:      cfg.APNS.KeyID,
			TeamID:     cfg.APNS.TeamID,
			BundleID:   cfg.APNS.BundleID,
			Production: cfg.APNS.Production,
		})
		if err != nil {
			return nil, fmt.Errorf("apns: %w", err)
		}
		router.Handle(push.PlatformAPNS, apns)
	}

	if cfg.FCM.Enabled {
		fcm, err := push.NewFCMSender(ctx, push.FCMConfig{
			ProjectID:       cfg.FCM.ProjectID,
			CredentialsFile: cfg.FCM.CredentialsFile,
		})
		if err != nil {
			return nil, fmt.Errorf("fcm: %w", err)
		}
		router.Handle(push.PlatformFCM, fcm)
	}

	return router, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"push-messenger-backend/config"
	"push-messenger-backend/internal/api"
	"push-messenger-backend/internal/db"
	"push-messenger-backend/internal/fanout"
	"push-messenger-backend/internal/logging"
	"push-messenger-backend/internal/push"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()
	logger.Infof("configuration loaded from %s", configPath)

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Infof("database initialized (%s)", cfg.Database.Driver)

	appStore, closeCache, err := newStore(gormDB, cfg.Cache, logger)
	if err != nil {
		logger.Fatalf("failed to initialize store: %v", err)
	}
	defer closeCache()

	sender, err := newSender(ctx, cfg.Push)
	if err != nil {
		logger.Fatalf("failed to initialize push senders: %v", err)
	}
	logger.Infof("push platforms enabled: %v", sender.Platforms())

	defaults := push.Credentials{
		Subject:         cfg.Push.Subject,
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		TTL:             cfg.Push.TTL,
		Urgency:         cfg.Push.Urgency,
	}
	if !defaults.HasVAPID() {
		logger.Warn("no default VAPID keys configured; send requests must carry their own key pair")
	}

	engine := fanout.NewEngine(appStore, sender, cfg.Fanout.Workers, cfg.Fanout.DeliveryTimeout,
		logger.With("component", "fanout"))

	handler := api.NewHandler(appStore, engine, defaults, logger.With("component", "api"))
	router := api.NewRouter(handler, cfg.Server, logger.With("component", "http"))
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start the server in a goroutine
	go func() {
		logger.Infof("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("Shutdown signal received, stopping services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("HTTP server Shutdown: %v", err)
	}
	cancel()

	if sqlDB, err := gormDB.DB(); err == nil {
		sqlDB.Close()
	}
	logger.Info("Server gracefully stopped")
}

// Package main is the entrypoint for the auth gateway server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/shelfmark/auth-gateway/internal/ban"
	"github.com/shelfmark/auth-gateway/internal/bootstrap"
	"github.com/shelfmark/auth-gateway/internal/clients"
	"github.com/shelfmark/auth-gateway/internal/config"
	"github.com/shelfmark/auth-gateway/internal/credential"
	"github.com/shelfmark/auth-gateway/internal/health"
	"github.com/shelfmark/auth-gateway/internal/login"
	"github.com/shelfmark/auth-gateway/internal/middleware"
	"github.com/shelfmark/auth-gateway/internal/session"
	"github.com/shelfmark/auth-gateway/internal/settings"
)

// settingsCredentials adapts the settings store to the orchestrator's
// credential source.
type settingsCredentials struct {
	store settings.Store
}

func (c settingsCredentials) Credential() credential.Credential {
	return credential.Credential{
		Login: c.store.Get(settings.KeyLogin, ""),
		Salt:  c.store.Get(settings.KeySalt, ""),
		Hash:  c.store.Get(settings.KeyHash, ""),
	}
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := config.MustNewLogger(cfg)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting auth gateway",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.Bool("ban_fail_open", cfg.BanFailOpen),
	)

	// Initialize Redis client (session, ban and remember-token stores)
	redisClient, err := clients.NewRedisClient(cfg.RedisURL)
	if err != nil {
		logger.Fatal("failed to create redis client", zap.Error(err))
	}
	defer func() { _ = redisClient.Close() }()

	// Initialize RabbitMQ client (security event stream)
	rabbitMQClient, err := clients.NewRabbitMQClient(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("failed to create rabbitmq client", zap.Error(err))
	}
	defer func() { _ = rabbitMQClient.Close() }()

	// Settings collaborator
	settingsStore, err := settings.NewFileStore(cfg.SettingsFile)
	if err != nil {
		logger.Fatal("failed to open settings store", zap.Error(err))
	}
	if !settingsStore.IsConfigured() {
		logger.Warn("no credential provisioned yet, install flow is open")
	}

	// Stay-signed-in token key follows the credential: a password change
	// invalidates outstanding tokens.
	rememberKey := func() []byte {
		return session.DeriveRememberKey(
			settingsStore.Get(settings.KeyHash, ""),
			settingsStore.Get(settings.KeyAPISecret, ""),
		)
	}

	sessionManager := session.NewManager(redisClient, redisClient, rememberKey, cfg, logger)
	banTracker := ban.NewTracker(redisClient, cfg, logger)
	credentials := settingsCredentials{store: settingsStore}

	orchestrator := login.NewOrchestrator(banTracker, credentials, sessionManager, rabbitMQClient, cfg, logger)
	loginHandler := login.NewHandler(orchestrator, cfg, logger)

	provisioner := bootstrap.NewProvisioner(settingsStore, rabbitMQClient, logger)
	installHandler := bootstrap.NewHandler(provisioner, sessionManager, cfg, logger)

	settingsHandler := settings.NewHandler(settingsStore, logger)

	// Create router
	mux := http.NewServeMux()

	// Health endpoints
	healthHandlers := health.NewHandlers(redisClient, rabbitMQClient)
	mux.HandleFunc("GET /health/live", healthHandlers.LiveHandler)
	mux.HandleFunc("GET /health/ready", healthHandlers.ReadyHandler)

	// First-run install flow
	mux.HandleFunc("GET /install", installHandler.HandleInstallForm)
	mux.HandleFunc("POST /install", installHandler.HandleInstall)

	// Login flow
	mux.HandleFunc("GET /login", loginHandler.HandleLoginForm)
	mux.HandleFunc("POST /login", loginHandler.HandleLogin)
	mux.HandleFunc("POST /logout", loginHandler.HandleLogout)
	mux.HandleFunc("GET /session", loginHandler.HandleSession)

	// Authenticated admin surface
	loginPath := strings.TrimSuffix(cfg.BasePath, "/") + "/login"
	guard := middleware.RequireLogin(loginHandler, loginPath, logger)
	mux.Handle("GET /admin/settings", guard(http.HandlerFunc(settingsHandler.HandleView)))
	mux.Handle("POST /admin/settings", guard(http.HandlerFunc(settingsHandler.HandleUpdate)))

	// Apply middleware chain
	var handler http.Handler = mux
	handler = middleware.Logging(logger)(handler)
	handler = middleware.Maintenance(cfg.MaintenanceMode, cfg.MaintenanceMessage, logger)(handler)
	handler = middleware.CorrelationID(cfg.CorrelationIDHeader)(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

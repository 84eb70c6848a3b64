package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/marketkit/membergate/internal/admission"
	"github.com/marketkit/membergate/internal/auth"
	"github.com/marketkit/membergate/internal/config"
	httpserver "github.com/marketkit/membergate/internal/http"
	"github.com/marketkit/membergate/internal/identitysync"
	"github.com/marketkit/membergate/internal/ingress"
	"github.com/marketkit/membergate/internal/repository"
	"github.com/marketkit/membergate/migrations"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	// Setup logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Connect to database
	db, err := repository.NewDB(repository.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	logger.Info("connected to database")

	if cfg.RunMigrations {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		if err := migrations.Apply(ctx, db); err != nil {
			cancel()
			logger.Error("failed to apply migrations", "error", err)
			os.Exit(1)
		}
		cancel()
		logger.Info("migrations applied")
	}

	// Initialize repositories
	membershipsRepo := repository.NewMembershipsRepository(db)
	auditRepo := repository.NewAuditLogRepository(db)

	// Initialize services
	admissionService := admission.NewService(membershipsRepo, auditRepo, cfg.MemberCap, logger)
	logger.Info("admission control configured", "member_cap", cfg.MemberCap)

	// Initialize identity sync if configured
	var syncer ingress.StatusSyncer
	if cfg.HasIdentitySync() {
		syncer = identitysync.NewClient(identitysync.Config{
			BaseURL:  cfg.IdentityBaseURL,
			APIToken: cfg.IdentityAPIToken,
			Timeout:  cfg.IdentitySyncTimeout,
		}, logger)
		logger.Info("identity sync enabled", "base_url", cfg.IdentityBaseURL)
	}

	processor := ingress.NewProcessor(logger, admissionService, syncer)

	// Initialize admin auth if configured
	var adminService *auth.AdminService
	if cfg.HasAdmin() {
		adminService = auth.NewAdminService(auth.AdminConfig{
			PasswordHash: cfg.AdminPasswordHash,
			TOTPSecret:   cfg.AdminTOTPSecret,
			JWTSecret:    []byte(cfg.JWTSecret),
			Issuer:       cfg.JWTIssuer,
			TokenTTL:     cfg.AccessTokenTTL,
		})
		logger.Info("admin surface enabled", "totp", adminService.TOTPEnabled())
	}

	// Create router
	router := httpserver.NewRouter(httpserver.RouterConfig{
		Logger:             logger,
		Processor:          processor,
		Lister:             admissionService,
		AdminService:       adminService,
		RateLimitConfig:    cfg.RateLimit,
		MaxRequestBodySize: cfg.MaxRequestBodySize,
	})

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.ServerAddr, cfg.ServerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}

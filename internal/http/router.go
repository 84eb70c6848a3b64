package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/marketkit/membergate/internal/auth"
	"github.com/marketkit/membergate/internal/config"
	"github.com/marketkit/membergate/internal/http/features/admin"
	"github.com/marketkit/membergate/internal/http/features/claims"
	"github.com/marketkit/membergate/internal/http/features/webhooks"
	"github.com/marketkit/membergate/internal/http/middleware"
	"github.com/marketkit/membergate/internal/httputil"
	"github.com/marketkit/membergate/internal/ingress"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Logger    *slog.Logger
	Processor *ingress.Processor
	Lister    admin.MembershipLister
	// AdminService gates the operator surface; nil disables it.
	AdminService       *auth.AdminService
	RateLimitConfig    config.RateLimitConfig
	MaxRequestBodySize int64
}

// NewRouter creates a new HTTP router with all routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply global middleware
	r.Use(middleware.Recover(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.RequestSizeLimit(cfg.MaxRequestBodySize))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Create rate limiters for different endpoint types
	rateLimiters := middleware.CreateRateLimiters(cfg.RateLimitConfig, cfg.Logger)

	// Webhook ingress
	webhookHandler := webhooks.NewHandler(cfg.Logger, cfg.Processor)
	r.Group(func(r chi.Router) {
		r.Use(rateLimiters["webhook"])
		r.Post("/v1/webhooks/payment", webhookHandler.Payment)
		r.Post("/v1/webhooks/identity", webhookHandler.Identity)
	})

	// Manual claims
	claimsHandler := claims.NewHandler(cfg.Logger, cfg.Processor)
	r.Group(func(r chi.Router) {
		r.Use(rateLimiters["claim"])
		r.Post("/v1/claims", claimsHandler.Claim)
	})

	// Admin surface (if configured)
	if cfg.AdminService != nil {
		adminHandler := admin.NewHandler(cfg.Logger, cfg.AdminService, cfg.Processor, cfg.Lister)
		r.Group(func(r chi.Router) {
			r.Use(rateLimiters["admin"])
			r.Post("/v1/admin/token", adminHandler.Token)
		})
		r.Group(func(r chi.Router) {
			r.Use(rateLimiters["admin"])
			r.Use(middleware.Auth(cfg.AdminService))
			r.Post("/v1/admin/memberships", adminHandler.CreateMembership)
			r.Get("/v1/admin/memberships", adminHandler.List)
			r.Post("/v1/admin/memberships/{id}/revoke", adminHandler.Revoke)
			r.Post("/v1/admin/memberships/{id}/link", adminHandler.Link)
			r.Post("/v1/admin/promote", adminHandler.Promote)
		})
	} else {
		cfg.Logger.Info("admin surface disabled, ADMIN_PASSWORD_HASH not set")
	}

	return r
}

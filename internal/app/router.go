package app

import (
	"github.com/avc/pointledger/internal/config"
	"github.com/avc/pointledger/internal/domain"
	"github.com/avc/pointledger/internal/handlers"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// setupRouter создает и настраивает роутер
func setupRouter(cfg *config.Config, deps *dependencies, logger *zap.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Глобальные middleware
	setupMiddleware(r, logger)

	// Маршруты
	setupRoutes(r, cfg, deps, logger)

	return r
}

// setupMiddleware настраивает middleware для роутера
func setupMiddleware(r *chi.Mux, logger *zap.Logger) {
	r.Use(handlers.RequestIDMiddleware())
	r.Use(handlers.LoggingMiddleware(logger))
	r.Use(handlers.RecoveryMiddleware(logger))
	r.Use(middleware.Compress(5))
}

// setupRoutes настраивает маршруты приложения
func setupRoutes(r *chi.Mux, cfg *config.Config, deps *dependencies, logger *zap.Logger) {
	h := deps.handlers

	// Служебные эндпоинты
	r.Get("/health", h.health.Health)
	r.Get("/ready", h.health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	// Публичные эндпоинты
	r.Post("/api/user/register", h.auth.Register)
	r.Post("/api/user/login", h.auth.Login)
	r.With(handlers.RateLimitMiddleware(deps.limiter, "webhook_ip", cfg.WebhookRateLimit, logger)).
		Get("/api/webhook/purchase", h.claims.Webhook)

	// Защищенные эндпоинты
	r.Group(func(r chi.Router) {
		r.Use(handlers.AuthMiddleware(deps.jwtManager, logger))

		r.Get("/api/user/me", h.auth.Me)

		r.Get("/api/points/balance", h.points.Balance)
		r.Get("/api/points/history", h.points.History)
		r.Post("/api/points/spend", h.points.Spend)

		r.Route("/api/transfers", func(r chi.Router) {
			r.Post("/", h.transfers.Create)
			r.Get("/", h.transfers.List)
			r.Post("/{transferID}/accept", h.transfers.Accept)
			r.Post("/{transferID}/decline", h.transfers.Decline)
			r.Post("/{transferID}/cancel", h.transfers.Cancel)
		})

		r.Route("/api/claims", func(r chi.Router) {
			r.With(handlers.RateLimitMiddleware(deps.limiter, "claim_ip", cfg.ClaimRateLimit, logger)).
				Post("/", h.claims.Submit)
			r.Get("/", h.claims.List)
			r.Get("/{claimID}", h.claims.Get)

			// Права менеджера на магазин заявки проверяет сервис
			r.Group(func(r chi.Router) {
				r.Use(handlers.RequireRole(logger, domain.RoleStoreManager, domain.RoleAdmin))
				r.Post("/{claimID}/approve", h.claims.Approve)
				r.Post("/{claimID}/reject", h.claims.Reject)
			})
		})

		r.Route("/api/stores/{storeID}", func(r chi.Router) {
			r.Use(handlers.RequireRole(logger, domain.RoleStoreManager, domain.RoleAdmin))
			r.Get("/claims", h.claims.ListByStore)
			r.Get("/deposit", h.stores.DepositSummary)
			r.Post("/deposit/charge", h.stores.Charge)
			r.Put("/auto-charge", h.stores.SetupAutoCharge)
			r.Delete("/auto-charge", h.stores.DisableAutoCharge)
			r.Post("/webhook-keys", h.stores.IssueWebhookKey)
		})

		// Администрирование
		r.Route("/api/admin", func(r chi.Router) {
			r.Use(handlers.RequireRole(logger, domain.RoleAdmin))
			r.Post("/stores", h.stores.Create)
			r.Get("/stores", h.stores.List)
			r.Post("/stores/{storeID}/managers", h.stores.AddManager)
			r.Post("/users/{userID}/points", h.points.Credit)
			r.Get("/findings", h.admin.ListFindings)
			r.Get("/findings/stats", h.admin.FindingStats)
			r.Post("/findings/{findingID}/resolve", h.admin.ResolveFinding)
			r.Get("/reconciliation", h.admin.ListReconciliation)
			r.Post("/reconciliation/{itemID}/resolve", h.admin.ResolveReconciliation)
		})
	})
}

package entitlementapi

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/chat-entitlement/internal/http/handlers/admin"
	"github.com/magabrotheeeer/chat-entitlement/internal/http/handlers/auth/login"
	"github.com/magabrotheeeer/chat-entitlement/internal/http/handlers/auth/register"
	"github.com/magabrotheeeer/chat-entitlement/internal/http/handlers/chat"
	"github.com/magabrotheeeer/chat-entitlement/internal/http/handlers/payment/checkout"
	"github.com/magabrotheeeer/chat-entitlement/internal/http/handlers/payment/webhook"
	subhandler "github.com/magabrotheeeer/chat-entitlement/internal/http/handlers/subscription"
	"github.com/magabrotheeeer/chat-entitlement/internal/http/middlewarectx"
	"github.com/magabrotheeeer/chat-entitlement/internal/models"
)

// AuthService регистрирует пользователей, выдаёт и проверяет токены.
type AuthService interface {
	register.Service
	login.Service
	middlewarectx.Service
}

// SubscriptionService выполняет операции над подписками, включая процедуры восстановления.
type SubscriptionService interface {
	subhandler.Service
	admin.Service
}

// PaymentService создаёт счета и принимает уведомления провайдера.
type PaymentService interface {
	checkout.Service
	webhook.Service
}

// Deps содержит зависимости HTTP-маршрутов.
type Deps struct {
	Auth          AuthService
	Subscriptions SubscriptionService
	Payments      PaymentService
	Limiter       *middlewarectx.RateLimiter
	WebhookSecret string
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, deps Deps) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
	)

	subscriptions := subhandler.New(logger, deps.Subscriptions)
	adminHandler := admin.New(logger, deps.Subscriptions)

	r.Route("/api/v1", func(r chi.Router) {
		// Открытые конечные точки
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.RateLimitMiddleware(logger, deps.Limiter))
			r.Post("/register", register.New(logger, deps.Auth).ServeHTTP)
			r.Post("/login", login.New(logger, deps.Auth).ServeHTTP)
		})

		// Webhook провайдера проверяется подписью, а не JWT
		r.Post("/payments/webhook", webhook.New(logger, deps.Payments, deps.WebhookSecret).ServeHTTP)

		// Группа с JWT аутентификацией
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(deps.Auth, logger))
			r.Use(middlewarectx.RateLimitMiddleware(logger, deps.Limiter))

			r.Get("/subscription/status", subscriptions.Status)
			r.Post("/subscription/trial", subscriptions.StartTrial)
			r.Post("/subscription/cancel", subscriptions.Cancel)
			r.Post("/payments/checkout", checkout.New(logger, deps.Payments).ServeHTTP)

			r.Group(func(r chi.Router) {
				r.Use(middlewarectx.EntitlementMiddleware(logger, deps.Subscriptions))
				r.Get("/chat/access", chat.New(logger).ServeHTTP)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(middlewarectx.RequireRole(logger, models.RoleAdmin))
				r.Post("/users/{uid}/reconcile", adminHandler.Reconcile)
				r.Post("/users/{uid}/trial", adminHandler.GrantTrial)
				r.Post("/sweep", adminHandler.Sweep)
			})
		})
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/docs/*", httpSwagger.WrapHandler)
}

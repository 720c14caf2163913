// Package entitlementapi собирает HTTP-сервис доступа к чату.
package entitlementapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"

	"github.com/magabrotheeeer/chat-entitlement/internal/app/core"
	"github.com/magabrotheeeer/chat-entitlement/internal/config"
	"github.com/magabrotheeeer/chat-entitlement/internal/http/middlewarectx"
	"github.com/magabrotheeeer/chat-entitlement/internal/lib/jwt"
	"github.com/magabrotheeeer/chat-entitlement/internal/migrations"
	"github.com/magabrotheeeer/chat-entitlement/internal/services/auth"
	"github.com/magabrotheeeer/chat-entitlement/internal/services/payment"
)

// App представляет HTTP-приложение.
type App struct {
	server *http.Server
	logger *slog.Logger
	core   *core.Core
}

// New подключает зависимости, применяет миграции и собирает роутер.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	c, err := core.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err = migrations.Run(c.Storage.DB, cfg.MigrationsPath); err != nil {
		c.Close()
		return nil, err
	}

	jwtMaker := jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL)
	authService := auth.NewAuthService(c.Storage, jwtMaker)
	paymentService := payment.New(c.Storage, c.Subscriptions, cfg.PaymentProvider, logger)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, Deps{
		Auth:          authService,
		Subscriptions: c.Subscriptions,
		Payments:      paymentService,
		Limiter:       middlewarectx.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		WebhookSecret: cfg.WebhookSecret,
	})

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server: srv,
		logger: logger,
		core:   c,
	}, nil
}

// Run запускает сервер и останавливает его при отмене ctx.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		a.core.Close()
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		a.core.Close()
		return err
	}
}

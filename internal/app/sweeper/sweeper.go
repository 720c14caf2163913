// Package sweeper содержит приложение плановой очистки просроченных подписок.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/chat-entitlement/internal/app/core"
	"github.com/magabrotheeeer/chat-entitlement/internal/config"
	"github.com/magabrotheeeer/chat-entitlement/internal/services/scheduler"
)

// App представляет приложение планировщика.
type App struct {
	schedulerService *scheduler.SchedulerService
	core             *core.Core
	logger           *slog.Logger
}

// New создает новый экземпляр приложения планировщика.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	c, err := core.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := c.WaitForDB(ctx, 10, 3*time.Second); err != nil {
		c.Close()
		return nil, err
	}

	return &App{
		schedulerService: scheduler.NewSchedulerService(c.Subscriptions, cfg.SweepInterval, logger),
		core:             c,
		logger:           logger,
	}, nil
}

// Run запускает планировщик и блокируется до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	a.schedulerService.Run(ctx)

	a.logger.Info("shutting down sweeper")
	a.core.Close()
	return nil
}

// Package main содержит точку входа HTTP-сервиса доступа к чату.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/magabrotheeeer/chat-entitlement/internal/app/entitlementapi"
	"github.com/magabrotheeeer/chat-entitlement/internal/config"
	"github.com/magabrotheeeer/chat-entitlement/internal/lib/sl"
)

func main() {
	cfg := config.MustLoad()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	logger.Info("starting entitlement-api", slog.String("env", cfg.Env))
	logger.Debug("debug messages are enabled")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := entitlementapi.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize entitlement-api", sl.Err(err))
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("entitlement-api stopped with error", sl.Err(err))
		os.Exit(1)
	}
	logger.Info("entitlement-api stopped")
}

// Package main содержит операторскую утилиту для процедур восстановления подписок.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/magabrotheeeer/chat-entitlement/internal/app/core"
	"github.com/magabrotheeeer/chat-entitlement/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(openCore, os.Stdout)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// openCore подключается к тем же хранилищам, что и сервис.
func openCore(ctx context.Context, configPath string) (Operations, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	c, err := core.New(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return c.Subscriptions, c.Close, nil
}

// Package core собирает общие зависимости приложений: хранилище, кеш,
// брокер событий, клиент провайдера и сервис подписок.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/chat-entitlement/internal/cache"
	"github.com/magabrotheeeer/chat-entitlement/internal/config"
	"github.com/magabrotheeeer/chat-entitlement/internal/lib/sl"
	"github.com/magabrotheeeer/chat-entitlement/internal/paymentprovider"
	"github.com/magabrotheeeer/chat-entitlement/internal/rabbitmq"
	"github.com/magabrotheeeer/chat-entitlement/internal/services/subscription"
	"github.com/magabrotheeeer/chat-entitlement/internal/storage/repository"
)

// Core хранит подключения, общие для всех бинарников.
type Core struct {
	Storage       *repository.Storage
	Cache         *cache.Cache
	Provider      *paymentprovider.Client
	Subscriptions *subscription.Service

	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *slog.Logger
}

// New подключается к PostgreSQL и, если они настроены, к Redis и RabbitMQ.
// Без Redis статус не кешируется, без RabbitMQ события не публикуются.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Core, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	c := &Core{
		Storage:  db,
		Provider: paymentprovider.NewClient(cfg.PaymentProvider),
		logger:   logger,
	}

	var statusCache subscription.Cache
	if cfg.AddressRedis != "" {
		c.Cache, err = cache.InitServer(ctx, cfg.RedisConnection)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("cache not initialized: %w", err)
		}
		statusCache = c.Cache
	} else {
		logger.Warn("redis address is not set, entitlement cache disabled")
	}

	var events subscription.EventPublisher
	if cfg.RabbitMQURL != "" {
		c.conn, err = rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
		}
		c.ch, err = rabbitmq.SetupChannel(c.conn, rabbitmq.EntitlementQueues())
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
		}
		events = rabbitmq.NewPublisher(c.ch)
	} else {
		logger.Warn("rabbitmq url is not set, subscription events disabled")
	}

	c.Subscriptions = subscription.New(db, c.Provider, statusCache, events, cfg.Entitlement, logger)
	return c, nil
}

// WaitForDB ждёт, пока схема базы не будет создана миграциями.
func (c *Core) WaitForDB(ctx context.Context, attempts int, delay time.Duration) error {
	for range attempts {
		if err := repository.CheckDatabaseReady(ctx, c.Storage); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("database not ready after %d attempts", attempts)
}

// Close закрывает все открытые подключения.
func (c *Core) Close() {
	if c.ch != nil {
		if err := c.ch.Close(); err != nil {
			c.logger.Error("failed to close channel", sl.Err(err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("failed to close connection", sl.Err(err))
		}
	}
	if c.Cache != nil {
		if err := c.Cache.Close(); err != nil {
			c.logger.Error("failed to close cache", sl.Err(err))
		}
	}
	if c.Storage != nil {
		if err := c.Storage.Close(); err != nil {
			c.logger.Error("failed to close storage", sl.Err(err))
		}
	}
}

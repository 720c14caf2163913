// Package subscription реализует жизненный цикл доступа к чату: вычисление статуса,
// пробный период, активацию премиума по платежу, отмену, плановую очистку
// и процедуры восстановления расхождений с платёжным провайдером.
package subscription

import (
	"context"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/chat-entitlement/internal/config"
	"github.com/magabrotheeeer/chat-entitlement/internal/lib/sl"
	"github.com/magabrotheeeer/chat-entitlement/internal/models"
	"github.com/magabrotheeeer/chat-entitlement/internal/paymentprovider"
)

// Repository описывает операции хранилища, нужные сервису.
type Repository interface {
	// RunInTx выполняет fn в одной транзакции; вложенные вызовы используют внешнюю.
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error

	GetUser(ctx context.Context, userUID string) (*models.User, error)
	MarkTrialUsed(ctx context.Context, userUID string) (bool, error)

	// GetLatestSubscription возвращает nil, nil если подписок нет.
	GetLatestSubscription(ctx context.Context, userUID string) (*models.Subscription, error)
	GetAllSubscriptions(ctx context.Context, userUID string) ([]*models.Subscription, error)
	GetSubscriptionByTransaction(ctx context.Context, transactionID string) (*models.Subscription, error)
	CreateSubscription(ctx context.Context, sub models.Subscription) (int64, error)
	UpdateSubscription(ctx context.Context, id int64, upd models.SubscriptionUpdate) error
	// ExpireSubscription переводит устаревшую active-запись в unsubscribed.
	ExpireSubscription(ctx context.Context, id int64, now time.Time) (bool, error)
	SweepExpiredSubscriptions(ctx context.Context, now time.Time) ([]*models.ExpiredSubscription, error)
	CancelOtherActiveSubscriptions(ctx context.Context, userUID string, keepID int64, now time.Time) (int, error)

	GetPaymentsForUser(ctx context.Context, userUID string) ([]*models.Payment, error)
	LinkPayment(ctx context.Context, paymentID, subscriptionID int64, externalSubscriptionID *string) error
}

// Provider описывает платёжного провайдера рекуррентных списаний.
type Provider interface {
	CreateSubscription(ctx context.Context, req paymentprovider.CreateSubscriptionRequest) (*paymentprovider.SubscriptionInfo, error)
	GetSubscriptionStatus(ctx context.Context, subscriptionID string) (*paymentprovider.SubscriptionInfo, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
	GetTransaction(ctx context.Context, transactionID string) (*paymentprovider.TransactionInfo, error)
}

// Cache хранит вычисленные статусы доступа.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// EventPublisher публикует события жизненного цикла подписок.
type EventPublisher interface {
	PublishEvent(event models.SubscriptionEvent) error
}

// Service реализует операции над подписками пользователя.
// provider, cache и events могут быть nil.
type Service struct {
	repo     Repository
	provider Provider
	cache    Cache
	events   EventPublisher
	cfg      config.Entitlement
	log      *slog.Logger
	now      func() time.Time
}

// New создаёт сервис подписок.
func New(repo Repository, provider Provider, cache Cache, events EventPublisher, cfg config.Entitlement, log *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		provider: provider,
		cache:    cache,
		events:   events,
		cfg:      cfg,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock подменяет источник текущего времени.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func cacheKey(userUID string) string {
	return "entitlement:" + userUID
}

// invalidate сбрасывает кеш статуса. Ошибка кеша не влияет на результат операции.
func (s *Service) invalidate(ctx context.Context, userUID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, cacheKey(userUID)); err != nil {
		s.log.Warn("failed to invalidate entitlement cache", slog.String("user_uid", userUID), sl.Err(err))
	}
}

func (s *Service) publish(eventType string, sub *models.Subscription, at time.Time) {
	if s.events == nil || sub == nil {
		return
	}
	event := models.SubscriptionEvent{
		Type:           eventType,
		UserUID:        sub.UserUID,
		SubscriptionID: sub.ID,
		PlanType:       sub.PlanType,
		OccurredAt:     at,
	}
	if err := s.events.PublishEvent(event); err != nil {
		s.log.Warn("failed to publish subscription event",
			slog.String("type", eventType),
			slog.String("user_uid", sub.UserUID),
			sl.Err(err))
	}
}

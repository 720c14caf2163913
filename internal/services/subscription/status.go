package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/chat-entitlement/internal/entitlement"
	"github.com/magabrotheeeer/chat-entitlement/internal/lib/metrics"
	"github.com/magabrotheeeer/chat-entitlement/internal/lib/sl"
	"github.com/magabrotheeeer/chat-entitlement/internal/models"
)

// GetSubscriptionStatus возвращает текущий доступ пользователя.
//
// Устаревшая active-запись считается неактивной сразу, а её перевод в unsubscribed
// выполняется попутно; ошибка этой записи логируется и не влияет на ответ.
func (s *Service) GetSubscriptionStatus(ctx context.Context, userUID string) (*models.EntitlementStatus, error) {
	const op = "subscription.GetSubscriptionStatus"
	log := s.log.With(slog.String("op", op), slog.String("user_uid", userUID))

	if s.cache != nil {
		var cached models.EntitlementStatus
		found, err := s.cache.Get(ctx, cacheKey(userUID), &cached)
		if err != nil {
			log.Warn("failed to read entitlement cache", sl.Err(err))
		}
		if found && s.cachedStillValid(&cached) {
			metrics.StatusChecks.WithLabelValues(metrics.AccessLabel(cached.HasAccess), "cache").Inc()
			return &cached, nil
		}
	}

	status, err := s.evaluate(ctx, userUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	metrics.StatusChecks.WithLabelValues(metrics.AccessLabel(status.HasAccess), "store").Inc()

	if s.cache != nil {
		if ttl := s.cacheTTL(status); ttl > 0 {
			if err := s.cache.Set(ctx, cacheKey(userUID), status, ttl); err != nil {
				log.Warn("failed to write entitlement cache", sl.Err(err))
			}
		}
	}
	return status, nil
}

// evaluate читает последнюю подписку из хранилища и вычисляет доступ без кеша.
func (s *Service) evaluate(ctx context.Context, userUID string) (*models.EntitlementStatus, error) {
	user, err := s.repo.GetUser(ctx, userUID)
	if err != nil {
		return nil, err
	}
	latest, err := s.repo.GetLatestSubscription(ctx, userUID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	decision := entitlement.Evaluate(latest, user.TrialUsed, now)
	if decision.NeedsExpiry {
		s.expireLazily(ctx, latest, now)
	}
	return &decision.Status, nil
}

func (s *Service) expireLazily(ctx context.Context, sub *models.Subscription, now time.Time) {
	changed, err := s.repo.ExpireSubscription(ctx, sub.ID, now)
	if err != nil {
		metrics.LazyExpiries.WithLabelValues("error").Inc()
		s.log.Warn("failed to expire stale subscription",
			slog.Int64("subscription_id", sub.ID),
			slog.String("user_uid", sub.UserUID),
			sl.Err(err))
		return
	}
	if !changed {
		metrics.LazyExpiries.WithLabelValues("noop").Inc()
		return
	}
	metrics.LazyExpiries.WithLabelValues("ok").Inc()
	s.publish(models.EventSubscriptionExpired, sub, now)
}

// cacheTTL ограничивает время жизни записи моментом истечения доступа.
func (s *Service) cacheTTL(status *models.EntitlementStatus) time.Duration {
	ttl := s.cfg.StatusCacheTTL
	if status.HasAccess && status.ExpiresAt != nil {
		if left := status.ExpiresAt.Sub(s.now()); left < ttl {
			ttl = left
		}
	}
	return ttl
}

func (s *Service) cachedStillValid(status *models.EntitlementStatus) bool {
	if !status.HasAccess || status.ExpiresAt == nil {
		return true
	}
	return status.ExpiresAt.After(s.now())
}

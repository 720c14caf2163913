package subscription

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/chat-entitlement/internal/lib/metrics"
	"github.com/magabrotheeeer/chat-entitlement/internal/models"
)

// SweepExpiredSubscriptions переводит все устаревшие active-записи в unsubscribed
// и возвращает затронутые строки. Повторный запуск ничего не находит.
func (s *Service) SweepExpiredSubscriptions(ctx context.Context) ([]*models.ExpiredSubscription, error) {
	const op = "subscription.SweepExpiredSubscriptions"
	now := s.now()

	expired, err := s.repo.SweepExpiredSubscriptions(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	metrics.SweptSubscriptions.Add(float64(len(expired)))
	for _, e := range expired {
		s.invalidate(ctx, e.UserUID)
		s.publish(models.EventSubscriptionExpired, &models.Subscription{
			ID:       e.ID,
			UserUID:  e.UserUID,
			PlanType: e.PlanType,
		}, now)
	}
	if len(expired) > 0 {
		s.log.Info("expired subscriptions swept", slog.String("op", op), slog.Int("count", len(expired)))
	}
	return expired, nil
}

// Package scheduler периодически переводит просроченные подписки в терминальный статус.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/chat-entitlement/internal/lib/sl"
	"github.com/magabrotheeeer/chat-entitlement/internal/models"
)

// Sweeper закрывает просроченные подписки.
type Sweeper interface {
	SweepExpiredSubscriptions(ctx context.Context) ([]*models.ExpiredSubscription, error)
}

// SchedulerService запускает очистку с заданным интервалом.
type SchedulerService struct {
	sweeper  Sweeper
	interval time.Duration
	log      *slog.Logger
}

// NewSchedulerService создает новый экземпляр SchedulerService.
func NewSchedulerService(sweeper Sweeper, interval time.Duration, log *slog.Logger) *SchedulerService {
	return &SchedulerService{
		sweeper:  sweeper,
		interval: interval,
		log:      log,
	}
}

// Run выполняет очистку сразу и затем на каждом тике, пока не отменён ctx.
func (s *SchedulerService) Run(ctx context.Context) {
	s.runSweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweep scheduler stopped")
			return
		case <-ticker.C:
			s.runSweep(ctx)
		}
	}
}

// RunOnce выполняет один проход очистки и возвращает число закрытых подписок.
func (s *SchedulerService) RunOnce(ctx context.Context) (int, error) {
	expired, err := s.sweeper.SweepExpiredSubscriptions(ctx)
	if err != nil {
		return 0, err
	}
	return len(expired), nil
}

func (s *SchedulerService) runSweep(ctx context.Context) {
	s.log.Info("starting sweep of expired subscriptions")
	count, err := s.RunOnce(ctx)
	if err != nil {
		s.log.Error("failed to sweep subscriptions", sl.Err(err))
		return
	}
	if count == 0 {
		s.log.Info("no expired subscriptions found")
		return
	}
	s.log.Info("expired subscriptions swept", "count", count)
}

package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/chat-entitlement/internal/entitlement"
	"github.com/magabrotheeeer/chat-entitlement/internal/models"
	"github.com/magabrotheeeer/chat-entitlement/internal/paymentprovider"
)

// StartTrial запускает пробный период.
//
// Отказывает с ErrAlreadySubscribed, если доступ уже действует,
// и с ErrTrialAlreadyUsed, если пробный период уже был.
func (s *Service) StartTrial(ctx context.Context, userUID string) (*models.Subscription, error) {
	const op = "subscription.StartTrial"
	sub, err := s.startTrial(ctx, userUID, false)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// GrantTrial выполняет административное восстановление: запускает пробный период
// даже при выставленном trial_used. Действующий доступ по-прежнему не перекрывается.
func (s *Service) GrantTrial(ctx context.Context, userUID string) (*models.Subscription, error) {
	const op = "subscription.GrantTrial"
	sub, err := s.startTrial(ctx, userUID, true)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("trial granted by operator", slog.String("user_uid", userUID), slog.Int64("subscription_id", sub.ID))
	return sub, nil
}

func (s *Service) startTrial(ctx context.Context, userUID string, ignoreTrialUsed bool) (*models.Subscription, error) {
	now := s.now()
	var created *models.Subscription

	err := s.repo.RunInTx(ctx, func(ctx context.Context) error {
		user, err := s.repo.GetUser(ctx, userUID)
		if err != nil {
			return err
		}
		latest, err := s.repo.GetLatestSubscription(ctx, userUID)
		if err != nil {
			return err
		}
		if entitlement.IsActive(latest, now) {
			return models.ErrAlreadySubscribed
		}
		if user.TrialUsed && !ignoreTrialUsed {
			return models.ErrTrialAlreadyUsed
		}
		if latest != nil && latest.IsStale(now) {
			if _, err := s.repo.ExpireSubscription(ctx, latest.ID, now); err != nil {
				return err
			}
		}

		expiresAt := now.Add(s.cfg.TrialDuration)
		sub := models.Subscription{
			UserUID:   userUID,
			Status:    models.StatusActive,
			PlanType:  models.PlanTrial,
			StartDate: now,
			ExpiresAt: &expiresAt,
			CreatedAt: now,
			UpdatedAt: now,
		}
		id, err := s.repo.CreateSubscription(ctx, sub)
		if err != nil {
			return err
		}
		sub.ID = id
		flipped, err := s.repo.MarkTrialUsed(ctx, userUID)
		if err != nil {
			return err
		}
		if !flipped && !ignoreTrialUsed {
			// пробный период успела начать параллельная транзакция
			return models.ErrTrialAlreadyUsed
		}
		created = &sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, userUID)
	s.publish(models.EventSubscriptionActivated, created, now)
	return created, nil
}

// ActivatePremiumFromPayment выдаёт или продлевает премиум по успешному платежу.
//
// Операция идемпотентна по платежу: если подписка уже ссылается на транзакцию
// платежа или платёж уже привязан к подписке, она возвращается без изменений.
// Срок продлевается до max(текущий, now+BillingPeriod) и никогда не сокращается.
func (s *Service) ActivatePremiumFromPayment(ctx context.Context, userUID string, payment *models.Payment) (*models.Subscription, error) {
	const op = "subscription.ActivatePremiumFromPayment"
	if payment == nil || payment.Status != models.PaymentSucceeded {
		return nil, fmt.Errorf("%s: payment is not succeeded: %w", op, models.ErrInvariantViolation)
	}
	if payment.UserUID != "" && payment.UserUID != userUID {
		return nil, fmt.Errorf("%s: payment belongs to another user: %w", op, models.ErrInvariantViolation)
	}

	existing, err := s.subscriptionForPayment(ctx, userUID, payment)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if existing != nil {
		if existing.UserUID != userUID {
			return nil, fmt.Errorf("%s: transaction belongs to another user: %w", op, models.ErrInvariantViolation)
		}
		return existing, nil
	}

	now := s.now()
	var activated *models.Subscription
	err = s.repo.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.repo.GetUser(ctx, userUID); err != nil {
			return err
		}
		latest, err := s.repo.GetLatestSubscription(ctx, userUID)
		if err != nil {
			return err
		}

		if latest == nil {
			expiresAt := now.Add(s.cfg.BillingPeriod)
			sub := models.Subscription{
				UserUID:                userUID,
				Status:                 models.StatusActive,
				PlanType:               models.PlanPremium,
				StartDate:              now,
				ExpiresAt:              &expiresAt,
				ExternalSubscriptionID: payment.ExternalSubscriptionID,
				ExternalTransactionID:  payment.ExternalTransactionID,
				CreatedAt:              now,
				UpdatedAt:              now,
			}
			id, err := s.repo.CreateSubscription(ctx, sub)
			if err != nil {
				return err
			}
			sub.ID = id
			activated = &sub
		} else {
			expiresAt := entitlement.ExtendedExpiry(latest.ExpiresAt, now, s.cfg.BillingPeriod)
			status, plan := models.StatusActive, models.PlanPremium
			upd := models.SubscriptionUpdate{
				Status:                 &status,
				PlanType:               &plan,
				ExpiresAt:              &expiresAt,
				ClearCancelledAt:       true,
				ExternalSubscriptionID: payment.ExternalSubscriptionID,
				ExternalTransactionID:  payment.ExternalTransactionID,
			}
			if err := s.repo.UpdateSubscription(ctx, latest.ID, upd); err != nil {
				return err
			}
			sub := *latest
			applyUpdate(&sub, upd)
			activated = &sub
		}

		if payment.ID != 0 && payment.SubscriptionID == nil {
			if err := s.repo.LinkPayment(ctx, payment.ID, activated.ID, payment.ExternalSubscriptionID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.invalidate(ctx, userUID)
	s.publish(models.EventSubscriptionActivated, activated, now)
	return activated, nil
}

// subscriptionForPayment находит подписку, уже созданную по этому платежу.
// external_transaction_id подписки хранит только последнюю транзакцию, поэтому
// более ранние платежи находятся по привязке payments.subscription_id.
func (s *Service) subscriptionForPayment(ctx context.Context, userUID string, payment *models.Payment) (*models.Subscription, error) {
	if payment.ExternalTransactionID != nil {
		sub, err := s.repo.GetSubscriptionByTransaction(ctx, *payment.ExternalTransactionID)
		if err != nil || sub != nil {
			return sub, err
		}
	}
	if payment.SubscriptionID == nil {
		return nil, nil
	}
	subs, err := s.repo.GetAllSubscriptions(ctx, userUID)
	if err != nil {
		return nil, err
	}
	for _, sub := range subs {
		if sub.ID == *payment.SubscriptionID {
			return sub, nil
		}
	}
	return nil, nil
}

// EnsureRecurringBilling создаёт у провайдера рекуррентную подписку для
// оплаченной записи, если её ещё нет. Первое списание назначается на дату истечения.
func (s *Service) EnsureRecurringBilling(ctx context.Context, sub *models.Subscription, payment *models.Payment) (*models.Subscription, error) {
	const op = "subscription.EnsureRecurringBilling"
	log := s.log.With(slog.String("op", op), slog.String("user_uid", sub.UserUID))

	if s.provider == nil || sub.ExternalSubscriptionID != nil {
		return sub, nil
	}
	if payment.ExternalTransactionID == nil {
		return nil, fmt.Errorf("%s: payment has no transaction id: %w", op, models.ErrInvariantViolation)
	}

	tx, err := s.provider.GetTransaction(ctx, *payment.ExternalTransactionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !tx.Status.Succeeded() {
		return nil, fmt.Errorf("%s: transaction %s is %s: %w", op, tx.ID, tx.Status, models.ErrProviderUnavailable)
	}
	if tx.Token == "" {
		log.Warn("transaction has no card token, recurring billing skipped", slog.String("transaction_id", tx.ID))
		return sub, nil
	}

	user, err := s.repo.GetUser(ctx, sub.UserUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	startDate := s.now().Add(s.cfg.BillingPeriod)
	if sub.ExpiresAt != nil {
		startDate = *sub.ExpiresAt
	}
	currency := tx.Currency
	if currency == "" {
		currency = payment.Currency
	}
	amount := tx.Amount
	if amount == 0 {
		amount = payment.Amount
	}

	info, err := s.provider.CreateSubscription(ctx, paymentprovider.CreateSubscriptionRequest{
		Token:       tx.Token,
		AccountID:   sub.UserUID,
		Email:       user.Email,
		Description: "Premium chat access",
		Amount:      amount,
		Currency:    currency,
		Interval:    paymentprovider.IntervalDay,
		Period:      billingDays(s.cfg.BillingPeriod),
		StartDate:   startDate,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	upd := models.SubscriptionUpdate{ExternalSubscriptionID: &info.ID}
	err = s.repo.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.UpdateSubscription(ctx, sub.ID, upd); err != nil {
			return err
		}
		if payment.ID != 0 {
			return s.repo.LinkPayment(ctx, payment.ID, sub.ID, &info.ID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.invalidate(ctx, sub.UserUID)

	updated := *sub
	applyUpdate(&updated, upd)
	log.Info("recurring billing created", slog.String("provider_subscription_id", info.ID))
	return &updated, nil
}

// CancelSubscription отменяет действующую подписку: сначала у провайдера,
// затем локально. Ошибка провайдера оставляет локальное состояние без изменений.
func (s *Service) CancelSubscription(ctx context.Context, userUID string) (*models.Subscription, error) {
	const op = "subscription.CancelSubscription"
	now := s.now()

	latest, err := s.repo.GetLatestSubscription(ctx, userUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if latest == nil {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	if !entitlement.IsActive(latest, now) {
		return nil, fmt.Errorf("%s: subscription is not active: %w", op, models.ErrInvariantViolation)
	}

	if latest.ExternalSubscriptionID != nil && s.provider != nil {
		if err := s.provider.CancelSubscription(ctx, *latest.ExternalSubscriptionID); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	status := models.StatusCancelled
	upd := models.SubscriptionUpdate{Status: &status, CancelledAt: &now}
	if err := s.repo.UpdateSubscription(ctx, latest.ID, upd); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cancelled := *latest
	applyUpdate(&cancelled, upd)
	s.invalidate(ctx, userUID)
	s.publish(models.EventSubscriptionCancelled, &cancelled, now)
	return &cancelled, nil
}

// applyUpdate отражает изменения в копии записи, чтобы не перечитывать её.
func applyUpdate(sub *models.Subscription, upd models.SubscriptionUpdate) {
	if upd.Status != nil {
		sub.Status = *upd.Status
	}
	if upd.PlanType != nil {
		sub.PlanType = *upd.PlanType
	}
	if upd.ExpiresAt != nil {
		t := *upd.ExpiresAt
		sub.ExpiresAt = &t
	}
	if upd.ClearCancelledAt {
		sub.CancelledAt = nil
	} else if upd.CancelledAt != nil {
		t := *upd.CancelledAt
		sub.CancelledAt = &t
	}
	if upd.ExternalSubscriptionID != nil {
		sub.ExternalSubscriptionID = upd.ExternalSubscriptionID
	}
	if upd.ExternalTransactionID != nil {
		sub.ExternalTransactionID = upd.ExternalTransactionID
	}
	if upd.TouchCreatedAt != nil {
		sub.CreatedAt = *upd.TouchCreatedAt
	}
}

func billingDays(period time.Duration) int {
	days := int((period + 24*time.Hour - 1) / (24 * time.Hour))
	if days < 1 {
		return 1
	}
	return days
}

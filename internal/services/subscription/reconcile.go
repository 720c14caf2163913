package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/chat-entitlement/internal/entitlement"
	"github.com/magabrotheeeer/chat-entitlement/internal/lib/metrics"
	"github.com/magabrotheeeer/chat-entitlement/internal/lib/sl"
	"github.com/magabrotheeeer/chat-entitlement/internal/models"
)

// Branch обозначает выбранную процедуру восстановления.
type Branch string

const (
	// BranchNone: расхождений не найдено.
	BranchNone Branch = "none"
	// BranchActivate: подписок нет, но есть успешный платёж.
	BranchActivate Branch = "activate"
	// BranchPromote: подписка оплаченного платежа не является последней.
	BranchPromote Branch = "promote"
	// BranchReactivate: последняя подписка неактивна при успешном платеже.
	BranchReactivate Branch = "reactivate"
	// BranchExtend: последняя подписка active, но срок истёк.
	BranchExtend Branch = "extend"
	// BranchNormalize: исправление несогласованных полей записи.
	BranchNormalize Branch = "normalize"
)

// ReconcileReport описывает результат сверки одного пользователя.
// Committed=false вместе с Error означает, что ветка не применена.
type ReconcileReport struct {
	UserUID         string                    `json:"user_uid"`
	Branch          Branch                    `json:"branch"`
	SubscriptionID  int64                     `json:"subscription_id,omitempty"`
	PaymentID       int64                     `json:"payment_id,omitempty"`
	Committed       bool                      `json:"committed"`
	CancelledOthers int                       `json:"cancelled_others,omitempty"`
	Error           string                    `json:"error,omitempty"`
	Verification    *models.EntitlementStatus `json:"verification,omitempty"`
}

type repairPlan struct {
	branch  Branch
	target  *models.Subscription
	payment *models.Payment
}

// ReconcileUser находит и исправляет расхождение между локальными подписками
// пользователя и его платежами у провайдера. За один вызов применяется одна ветка
// в одной транзакции, после чего статус перечитывается для проверки.
// Повторный вызов после успешной ветки ничего не меняет.
//
// Вызывающая сторона не должна запускать сверку одного пользователя параллельно.
func (s *Service) ReconcileUser(ctx context.Context, userUID string) (*ReconcileReport, error) {
	const op = "subscription.ReconcileUser"
	log := s.log.With(slog.String("op", op), slog.String("user_uid", userUID))

	if _, err := s.repo.GetUser(ctx, userUID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	subs, err := s.repo.GetAllSubscriptions(ctx, userUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	payments, err := s.repo.GetPaymentsForUser(ctx, userUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now()
	report := &ReconcileReport{UserUID: userUID}
	plan := planRepair(subs, latestSucceeded(payments), now)
	report.describe(plan)

	if plan.payment != nil && plan.branch != BranchNone {
		confirmed, err := s.confirmPayment(ctx, plan.payment)
		if err != nil {
			return s.failReconcile(log, op, report, err)
		}
		if !confirmed {
			log.Warn("succeeded payment is not confirmed by provider", slog.Int64("payment_id", plan.payment.ID))
			plan = planRepair(subs, nil, now)
			report.describe(plan)
		}
	}

	if plan.branch == BranchNone {
		metrics.ReconcileRuns.WithLabelValues(string(BranchNone), "ok").Inc()
		return s.verifyReconcile(ctx, op, report)
	}

	var providerNext *time.Time
	if plan.payment != nil {
		providerNext, err = s.providerNextPayment(ctx, plan)
		if err != nil {
			return s.failReconcile(log, op, report, err)
		}
	}

	err = s.repo.RunInTx(ctx, func(ctx context.Context) error {
		cancelled, err := s.applyRepair(ctx, userUID, plan, providerNext, now)
		report.CancelledOthers = cancelled
		return err
	})
	if err != nil {
		report.CancelledOthers = 0
		return s.failReconcile(log, op, report, err)
	}

	report.Committed = true
	metrics.ReconcileRuns.WithLabelValues(string(plan.branch), "ok").Inc()
	log.Info("reconciliation branch committed",
		slog.String("branch", string(plan.branch)),
		slog.Int64("subscription_id", report.SubscriptionID))
	s.invalidate(ctx, userUID)
	return s.verifyReconcile(ctx, op, report)
}

func (r *ReconcileReport) describe(plan repairPlan) {
	r.Branch = plan.branch
	r.SubscriptionID = 0
	r.PaymentID = 0
	if plan.target != nil {
		r.SubscriptionID = plan.target.ID
	}
	if plan.payment != nil {
		r.PaymentID = plan.payment.ID
	}
}

func (s *Service) failReconcile(log *slog.Logger, op string, report *ReconcileReport, err error) (*ReconcileReport, error) {
	report.Error = err.Error()
	metrics.ReconcileRuns.WithLabelValues(string(report.Branch), "error").Inc()
	log.Error("reconciliation branch failed", slog.String("branch", string(report.Branch)), sl.Err(err))
	return report, fmt.Errorf("%s: branch %s: %w", op, report.Branch, err)
}

func (s *Service) verifyReconcile(ctx context.Context, op string, report *ReconcileReport) (*ReconcileReport, error) {
	status, err := s.evaluate(ctx, report.UserUID)
	if err != nil {
		report.Error = "verification: " + err.Error()
		return report, fmt.Errorf("%s: verification: %w", op, err)
	}
	report.Verification = status
	return report, nil
}

// planRepair выбирает ветку восстановления по набору подписок и последнему успешному платежу.
func planRepair(subs []*models.Subscription, payment *models.Payment, now time.Time) repairPlan {
	latest := entitlement.Latest(subs)
	if latest == nil {
		if payment != nil {
			return repairPlan{branch: BranchActivate, payment: payment}
		}
		return repairPlan{branch: BranchNone}
	}

	if payment == nil {
		if needsNormalization(latest, now) {
			return repairPlan{branch: BranchNormalize, target: latest}
		}
		return repairPlan{branch: BranchNone, target: latest}
	}

	if linked := linkedSubscription(subs, payment); linked != nil && linked.ID != latest.ID {
		return repairPlan{branch: BranchPromote, target: linked, payment: payment}
	}

	switch {
	case latest.Status != models.StatusActive:
		return repairPlan{branch: BranchReactivate, target: latest, payment: payment}
	case latest.IsStale(now):
		return repairPlan{branch: BranchExtend, target: latest, payment: payment}
	case latest.PlanType != models.PlanPremium,
		latest.ExpiresAt == nil,
		latest.CancelledAt != nil,
		payment.SubscriptionID == nil,
		hasOtherActive(subs, latest.ID, now):
		return repairPlan{branch: BranchNormalize, target: latest, payment: payment}
	}
	return repairPlan{branch: BranchNone, target: latest, payment: payment}
}

func needsNormalization(sub *models.Subscription, now time.Time) bool {
	switch {
	case sub.IsStale(now):
		return true
	case sub.Status == models.StatusActive && sub.CancelledAt != nil:
		return true
	case sub.Status == models.StatusCancelled && sub.CancelledAt == nil:
		return true
	}
	return false
}

// applyRepair применяет ветку внутри транзакции и возвращает число отменённых лишних подписок.
func (s *Service) applyRepair(ctx context.Context, userUID string, plan repairPlan, providerNext *time.Time, now time.Time) (int, error) {
	if plan.payment == nil {
		return 0, s.normalizeUnpaid(ctx, plan.target, now)
	}
	payment := plan.payment

	if plan.branch == BranchActivate {
		expiresAt := laterOf(now.Add(s.cfg.BillingPeriod), providerNext)
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
			return 0, err
		}
		if payment.ID != 0 {
			return 0, s.repo.LinkPayment(ctx, payment.ID, id, payment.ExternalSubscriptionID)
		}
		return 0, nil
	}

	target := plan.target
	status, planType := models.StatusActive, models.PlanPremium
	upd := models.SubscriptionUpdate{
		Status:           &status,
		PlanType:         &planType,
		ClearCancelledAt: true,
	}
	if target.ExternalTransactionID == nil {
		upd.ExternalTransactionID = payment.ExternalTransactionID
	}
	if target.ExternalSubscriptionID == nil {
		upd.ExternalSubscriptionID = payment.ExternalSubscriptionID
	}

	var expiresAt time.Time
	switch plan.branch {
	case BranchPromote:
		expiresAt = laterOf(entitlement.ExtendedExpiry(target.ExpiresAt, now, s.cfg.BillingPeriod), providerNext)
		upd.TouchCreatedAt = &now
	case BranchReactivate:
		expiresAt = laterOf(entitlement.ExtendedExpiry(target.ExpiresAt, now, s.cfg.BillingPeriod), providerNext)
	case BranchExtend:
		expiresAt = laterOf(now.Add(s.cfg.BillingPeriod), providerNext)
	default:
		if target.ExpiresAt == nil || !target.ExpiresAt.After(now) {
			expiresAt = now.Add(s.cfg.BillingPeriod)
		} else {
			expiresAt = *target.ExpiresAt
		}
		expiresAt = laterOf(expiresAt, providerNext)
	}
	upd.ExpiresAt = &expiresAt

	if err := s.repo.UpdateSubscription(ctx, target.ID, upd); err != nil {
		return 0, err
	}
	cancelled, err := s.repo.CancelOtherActiveSubscriptions(ctx, userUID, target.ID, now)
	if err != nil {
		return 0, err
	}
	if payment.ID != 0 && payment.SubscriptionID == nil {
		if err := s.repo.LinkPayment(ctx, payment.ID, target.ID, payment.ExternalSubscriptionID); err != nil {
			return 0, err
		}
	}
	return cancelled, nil
}

// normalizeUnpaid исправляет поля записи без оплаты: доступ не восстанавливается.
func (s *Service) normalizeUnpaid(ctx context.Context, sub *models.Subscription, now time.Time) error {
	if sub.IsStale(now) {
		_, err := s.repo.ExpireSubscription(ctx, sub.ID, now)
		return err
	}
	var upd models.SubscriptionUpdate
	switch {
	case sub.Status == models.StatusActive && sub.CancelledAt != nil:
		upd.ClearCancelledAt = true
	case sub.Status == models.StatusCancelled && sub.CancelledAt == nil:
		upd.CancelledAt = &now
	default:
		return nil
	}
	return s.repo.UpdateSubscription(ctx, sub.ID, upd)
}

// confirmPayment сверяет успешный платёж с транзакцией у провайдера.
func (s *Service) confirmPayment(ctx context.Context, payment *models.Payment) (bool, error) {
	if s.provider == nil || payment.ExternalTransactionID == nil {
		return true, nil
	}
	tx, err := s.provider.GetTransaction(ctx, *payment.ExternalTransactionID)
	if err != nil {
		return false, providerErr(err)
	}
	return tx.Status.Succeeded(), nil
}

// providerNextPayment возвращает дату следующего списания действующей
// рекуррентной подписки провайдера, если она позже текущего момента.
func (s *Service) providerNextPayment(ctx context.Context, plan repairPlan) (*time.Time, error) {
	if s.provider == nil {
		return nil, nil
	}
	var externalID *string
	if plan.target != nil && plan.target.ExternalSubscriptionID != nil {
		externalID = plan.target.ExternalSubscriptionID
	} else if plan.payment != nil {
		externalID = plan.payment.ExternalSubscriptionID
	}
	if externalID == nil {
		return nil, nil
	}

	info, err := s.provider.GetSubscriptionStatus(ctx, *externalID)
	if err != nil {
		return nil, providerErr(err)
	}
	if !info.Status.IsActive() || info.NextPaymentDate == nil || !info.NextPaymentDate.After(s.now()) {
		return nil, nil
	}
	return info.NextPaymentDate, nil
}

func providerErr(err error) error {
	if errors.Is(err, models.ErrProviderUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", models.ErrProviderUnavailable, err)
}

// latestSucceeded возвращает самый поздний успешный платёж.
func latestSucceeded(payments []*models.Payment) *models.Payment {
	var latest *models.Payment
	for _, p := range payments {
		if p == nil || p.Status != models.PaymentSucceeded {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) ||
			(p.CreatedAt.Equal(latest.CreatedAt) && p.ID > latest.ID) {
			latest = p
		}
	}
	return latest
}

// linkedSubscription находит подписку, оплаченную платежом.
func linkedSubscription(subs []*models.Subscription, payment *models.Payment) *models.Subscription {
	for _, sub := range subs {
		if payment.SubscriptionID != nil && sub.ID == *payment.SubscriptionID {
			return sub
		}
	}
	if payment.ExternalTransactionID == nil {
		return nil
	}
	for _, sub := range subs {
		if sub.ExternalTransactionID != nil && *sub.ExternalTransactionID == *payment.ExternalTransactionID {
			return sub
		}
	}
	return nil
}

func hasOtherActive(subs []*models.Subscription, keepID int64, now time.Time) bool {
	for _, sub := range subs {
		if sub.ID != keepID && entitlement.IsActive(sub, now) {
			return true
		}
	}
	return false
}

func laterOf(t time.Time, other *time.Time) time.Time {
	if other != nil && other.After(t) {
		return *other
	}
	return t
}

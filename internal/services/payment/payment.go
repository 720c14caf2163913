// Package payment принимает платежи: создаёт счета для виджета оплаты и
// обрабатывает уведомления провайдера об их исходе.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/chat-entitlement/internal/config"
	"github.com/magabrotheeeer/chat-entitlement/internal/lib/metrics"
	"github.com/magabrotheeeer/chat-entitlement/internal/models"
)

// Repository описывает операции хранилища платежей.
type Repository interface {
	CreatePayment(ctx context.Context, p models.Payment) (int64, error)
	GetPaymentByExternalID(ctx context.Context, externalPaymentID string) (*models.Payment, error)
	UpdatePaymentStatus(ctx context.Context, id int64, status models.PaymentStatus, transactionID *string) (bool, error)
}

// Activator выдаёт доступ по успешному платежу.
type Activator interface {
	ActivatePremiumFromPayment(ctx context.Context, userUID string, payment *models.Payment) (*models.Subscription, error)
	EnsureRecurringBilling(ctx context.Context, sub *models.Subscription, payment *models.Payment) (*models.Subscription, error)
}

// Event описывает проверенное уведомление провайдера о платеже.
type Event struct {
	ExternalPaymentID      string
	UserUID                string
	ExternalTransactionID  *string
	ExternalSubscriptionID *string
	Amount                 int64
	Currency               string
	Status                 models.PaymentStatus
}

// Result описывает итог обработки уведомления.
type Result struct {
	Payment      *models.Payment
	Subscription *models.Subscription
	// Ignored выставлен, если уведомление пришло с устаревшим статусом и ничего не изменило.
	Ignored bool
}

// Checkout содержит параметры счёта для виджета оплаты.
type Checkout struct {
	InvoiceID string `json:"invoice_id"`
	PublicID  string `json:"public_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	AccountID string `json:"account_id"`
}

// Service обрабатывает платежи.
type Service struct {
	repo      Repository
	activator Activator
	cfg       config.PaymentProvider
	log       *slog.Logger
}

// New создаёт сервис платежей.
func New(repo Repository, activator Activator, cfg config.PaymentProvider, log *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		activator: activator,
		cfg:       cfg,
		log:       log,
	}
}

// CreateCheckout создаёт pending-платёж с новым номером счёта.
func (s *Service) CreateCheckout(ctx context.Context, userUID string) (*Checkout, error) {
	const op = "payment.CreateCheckout"
	invoiceID := uuid.NewString()
	p := models.Payment{
		UserUID:           userUID,
		ExternalPaymentID: invoiceID,
		Amount:            s.cfg.PremiumAmount,
		Currency:          s.cfg.PremiumCurrency,
		Status:            models.PaymentPending,
	}
	if _, err := s.repo.CreatePayment(ctx, p); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Checkout{
		InvoiceID: invoiceID,
		PublicID:  s.cfg.ProviderPublicID,
		Amount:    p.Amount,
		Currency:  p.Currency,
		AccountID: userUID,
	}, nil
}

// RecordPayment сохраняет исход платежа. Повтор уведомления ничего не меняет,
// статус двигается только из pending. Успешный платёж активирует премиум и
// рекуррентные списания; при их ошибке уведомление нужно повторить.
func (s *Service) RecordPayment(ctx context.Context, event Event) (*Result, error) {
	const op = "payment.RecordPayment"
	log := s.log.With(
		slog.String("op", op),
		slog.String("payment_id", event.ExternalPaymentID),
		slog.String("status", string(event.Status)),
	)

	p, ignored, err := s.upsert(ctx, event)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(string(event.Status), "error").Inc()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if ignored {
		metrics.WebhookEvents.WithLabelValues(string(event.Status), "ignored").Inc()
		log.Warn("payment notification ignored", slog.String("current_status", string(p.Status)))
		return &Result{Payment: p, Ignored: true}, nil
	}

	res := &Result{Payment: p}
	if p.Status != models.PaymentSucceeded {
		metrics.WebhookEvents.WithLabelValues(string(event.Status), "ok").Inc()
		return res, nil
	}

	sub, err := s.activator.ActivatePremiumFromPayment(ctx, p.UserUID, p)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(string(event.Status), "error").Inc()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	sub, err = s.activator.EnsureRecurringBilling(ctx, sub, p)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(string(event.Status), "error").Inc()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	res.Subscription = sub

	metrics.WebhookEvents.WithLabelValues(string(event.Status), "ok").Inc()
	log.Info("payment succeeded", slog.String("user_uid", p.UserUID), slog.Int64("subscription_id", sub.ID))
	return res, nil
}

// upsert создаёт платёж или переводит его статус. Второй результат true,
// если переход недопустим и уведомление следует проигнорировать.
func (s *Service) upsert(ctx context.Context, event Event) (*models.Payment, bool, error) {
	existing, err := s.repo.GetPaymentByExternalID(ctx, event.ExternalPaymentID)
	if errors.Is(err, models.ErrNotFound) {
		// счёт без checkout-записи, например рекуррентное списание
		if err := checkPaidAmount(event, s.cfg.PremiumAmount, s.cfg.PremiumCurrency); err != nil {
			return nil, false, err
		}
		now := time.Now().UTC()
		p := models.Payment{
			UserUID:                event.UserUID,
			ExternalPaymentID:      event.ExternalPaymentID,
			ExternalTransactionID:  event.ExternalTransactionID,
			ExternalSubscriptionID: event.ExternalSubscriptionID,
			Amount:                 event.Amount,
			Currency:               event.Currency,
			Status:                 event.Status,
			CreatedAt:              now,
			UpdatedAt:              now,
		}
		id, err := s.repo.CreatePayment(ctx, p)
		if err != nil {
			return nil, false, err
		}
		p.ID = id
		return &p, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if existing.UserUID != event.UserUID {
		return nil, false, fmt.Errorf("payment %s belongs to another user: %w", event.ExternalPaymentID, models.ErrInvariantViolation)
	}
	if err := checkPaidAmount(event, existing.Amount, existing.Currency); err != nil {
		return nil, false, err
	}
	if existing.Status == event.Status {
		return existing, false, nil
	}
	if !existing.Status.CanTransition(event.Status) {
		return existing, true, nil
	}

	changed, err := s.repo.UpdatePaymentStatus(ctx, existing.ID, event.Status, event.ExternalTransactionID)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		// статус успел смениться параллельным уведомлением
		current, err := s.repo.GetPaymentByExternalID(ctx, event.ExternalPaymentID)
		if err != nil {
			return nil, false, err
		}
		return current, current.Status != event.Status, nil
	}

	existing.Status = event.Status
	if event.ExternalTransactionID != nil {
		existing.ExternalTransactionID = event.ExternalTransactionID
	}
	if existing.ExternalSubscriptionID == nil {
		existing.ExternalSubscriptionID = event.ExternalSubscriptionID
	}
	return existing, false, nil
}

// checkPaidAmount сверяет сумму успешного платежа с выставленной в счёте.
// Сумма в виджете задаётся на клиенте, поэтому ей нельзя доверять.
func checkPaidAmount(event Event, amount int64, currency string) error {
	if event.Status != models.PaymentSucceeded {
		return nil
	}
	if event.Amount != amount || !strings.EqualFold(event.Currency, currency) {
		return fmt.Errorf("payment %s paid %d %s, invoiced %d %s: %w",
			event.ExternalPaymentID, event.Amount, event.Currency, amount, currency, models.ErrInvariantViolation)
	}
	return nil
}

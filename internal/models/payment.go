package models

import "time"

// PaymentStatus: статус платежа.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentCanceled  PaymentStatus = "canceled"
	PaymentFailed    PaymentStatus = "failed"
)

// CanTransition проверяет допустимость перехода статуса платежа.
// Разрешён только переход из pending; повтор того же статуса считается no-op.
func (p PaymentStatus) CanTransition(next PaymentStatus) bool {
	if p == next {
		return true
	}
	if p != PaymentPending {
		return false
	}
	switch next {
	case PaymentSucceeded, PaymentCanceled, PaymentFailed:
		return true
	}
	return false
}

// Payment представляет платёж пользователя.
// SubscriptionID может быть nil: платёж иногда приходит раньше подписки.
type Payment struct {
	ID                     int64
	UserUID                string
	SubscriptionID         *int64
	ExternalPaymentID      string  // Идентификатор платежа (invoice) у провайдера
	ExternalTransactionID  *string // Идентификатор транзакции у провайдера
	ExternalSubscriptionID *string // Рекуррентная подписка у провайдера, если есть
	Amount                 int64   // Сумма в копейках
	Currency               string
	Status                 PaymentStatus
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

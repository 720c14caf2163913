package models

import "time"

// SubscriptionStatus: статус записи подписки.
type SubscriptionStatus string

const (
	// StatusActive: подписка действует (если не истёк срок).
	StatusActive SubscriptionStatus = "active"
	// StatusCancelled: подписка отменена пользователем или процедурой восстановления.
	StatusCancelled SubscriptionStatus = "cancelled"
	// StatusUnsubscribed: срок подписки истёк, терминальный статус.
	StatusUnsubscribed SubscriptionStatus = "unsubscribed"
	// StatusExpired: устаревшее значение истечения, встречается в старых записях.
	StatusExpired SubscriptionStatus = "expired"
)

// PlanType: тип тарифа.
type PlanType string

const (
	// PlanTrial: пробный период.
	PlanTrial PlanType = "trial"
	// PlanPremium: оплаченная подписка.
	PlanPremium PlanType = "premium"
)

// Subscription представляет одну запись подписки пользователя.
// ExpiresAt == nil означает, что подписка не истекает по времени.
type Subscription struct {
	ID                     int64              `json:"id"`
	UserUID                string             `json:"user_uid"`
	Status                 SubscriptionStatus `json:"status"`
	PlanType               PlanType           `json:"plan_type"`
	StartDate              time.Time          `json:"start_date"`
	ExpiresAt              *time.Time         `json:"expires_at"`
	CancelledAt            *time.Time         `json:"cancelled_at,omitempty"`
	ExternalSubscriptionID *string            `json:"external_subscription_id,omitempty"` // Идентификатор подписки у платёжного провайдера
	ExternalTransactionID  *string            `json:"external_transaction_id,omitempty"`  // Идентификатор транзакции у платёжного провайдера
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

// IsStale сообщает, что запись всё ещё active, но срок уже прошёл.
func (s *Subscription) IsStale(now time.Time) bool {
	return s.Status == StatusActive && s.ExpiresAt != nil && !s.ExpiresAt.After(now)
}

// SubscriptionUpdate описывает изменяемые поля подписки.
// Nil-поле не изменяется; Clear* явно обнуляют соответствующие столбцы.
type SubscriptionUpdate struct {
	Status                 *SubscriptionStatus
	PlanType               *PlanType
	ExpiresAt              *time.Time
	CancelledAt            *time.Time
	ClearCancelledAt       bool
	ExternalSubscriptionID *string
	ExternalTransactionID  *string
	TouchCreatedAt         *time.Time // Перенос created_at делает запись «последней»
}

// ExpiredSubscription: строка, переведённая плановой очисткой в unsubscribed.
type ExpiredSubscription struct {
	ID       int64     `json:"id"`
	UserUID  string    `json:"user_uid"`
	PlanType PlanType  `json:"plan_type"`
	Expired  time.Time `json:"expired_at"`
}

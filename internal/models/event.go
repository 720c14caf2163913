package models

import "time"

// Типы событий жизненного цикла подписки. Совпадают с ключами маршрутизации брокера.
const (
	EventSubscriptionExpired   = "subscription.expired"
	EventSubscriptionActivated = "subscription.activated"
	EventSubscriptionCancelled = "subscription.cancelled"
)

// SubscriptionEvent: сообщение о смене состояния подписки.
type SubscriptionEvent struct {
	Type           string    `json:"type"`
	UserUID        string    `json:"user_uid"`
	SubscriptionID int64     `json:"subscription_id"`
	PlanType       PlanType  `json:"plan_type"`
	OccurredAt     time.Time `json:"occurred_at"`
}

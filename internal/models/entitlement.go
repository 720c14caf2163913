package models

import "time"

// StatusNone: статус для пользователя без единой подписки.
const StatusNone = "none"

// DenialReason объясняет, почему доступ не предоставлен.
type DenialReason string

const (
	ReasonNone            DenialReason = ""
	ReasonNeverSubscribed DenialReason = "never_subscribed"
	ReasonLapsed          DenialReason = "lapsed"
	ReasonProviderError   DenialReason = "provider_error"
)

// EntitlementStatus: вычисленное право пользователя на доступ к чату в момент времени.
type EntitlementStatus struct {
	HasAccess              bool         `json:"has_access"`
	Type                   *PlanType    `json:"type"`
	Status                 string       `json:"status"`
	ExpiresAt              *time.Time   `json:"expires_at"`
	TrialUsed              bool         `json:"trial_used"`
	ExternalSubscriptionID *string      `json:"external_subscription_id"`
	Reason                 DenialReason `json:"reason,omitempty"`
}

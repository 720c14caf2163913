// Package entitlement содержит чистые функции вычисления доступа пользователя
// к платной функции по его записям подписок. Пакет не обращается к хранилищу:
// отложенная запись истечения выполняется вызывающей стороной.
package entitlement

import (
	"time"

	"github.com/magabrotheeeer/chat-entitlement/internal/models"
)

// Decision: результат вычисления доступа.
type Decision struct {
	Status models.EntitlementStatus
	// NeedsExpiry: запись active, но срок истёк; её нужно перевести в unsubscribed.
	NeedsExpiry bool
}

// IsActive сообщает, даёт ли запись доступ в момент now.
func IsActive(sub *models.Subscription, now time.Time) bool {
	if sub == nil || sub.Status != models.StatusActive {
		return false
	}
	return sub.ExpiresAt == nil || sub.ExpiresAt.After(now)
}

// Evaluate вычисляет доступ по последней записи подписки.
// Решение не зависит от того, выполнена ли запись истечения.
func Evaluate(latest *models.Subscription, trialUsed bool, now time.Time) Decision {
	if latest == nil {
		return Decision{Status: models.EntitlementStatus{
			HasAccess: false,
			Status:    models.StatusNone,
			TrialUsed: trialUsed,
			Reason:    models.ReasonNeverSubscribed,
		}}
	}

	active := IsActive(latest, now)
	stale := latest.IsStale(now)

	status := latest.Status
	if stale {
		status = models.StatusUnsubscribed
	}

	res := models.EntitlementStatus{
		HasAccess: active,
		Status:    string(status),
		ExpiresAt: latest.ExpiresAt,
		TrialUsed: trialUsed,
	}
	if active {
		plan := latest.PlanType
		res.Type = &plan
		res.ExternalSubscriptionID = latest.ExternalSubscriptionID
	} else {
		res.Reason = models.ReasonLapsed
	}
	return Decision{Status: res, NeedsExpiry: stale}
}

// Latest выбирает авторитетную запись: самую позднюю по created_at,
// при равенстве выбирается больший ID.
func Latest(subs []*models.Subscription) *models.Subscription {
	var latest *models.Subscription
	for _, s := range subs {
		if s == nil {
			continue
		}
		if latest == nil || newer(s, latest) {
			latest = s
		}
	}
	return latest
}

func newer(a, b *models.Subscription) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID > b.ID
	}
	return a.CreatedAt.After(b.CreatedAt)
}

// ExtendedExpiry возвращает max(current, now+period): продление никогда не сокращает срок.
func ExtendedExpiry(current *time.Time, now time.Time, period time.Duration) time.Time {
	target := now.Add(period)
	if current != nil && current.After(target) {
		return *current
	}
	return target
}

package rabbitmq

import "github.com/magabrotheeeer/chat-entitlement/internal/models"

// QueueConfig связывает очередь с ключом маршрутизации.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

const (
	RoutingKeyExpired   = models.EventSubscriptionExpired
	RoutingKeyActivated = models.EventSubscriptionActivated
	RoutingKeyCancelled = models.EventSubscriptionCancelled
)

// EntitlementQueues возвращает очереди, которые читают потребители событий подписок.
func EntitlementQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: "entitlement.expired", RoutingKey: RoutingKeyExpired},
		{QueueName: "entitlement.activated", RoutingKey: RoutingKeyActivated},
		{QueueName: "entitlement.cancelled", RoutingKey: RoutingKeyCancelled},
	}
}

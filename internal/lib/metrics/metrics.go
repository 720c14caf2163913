// Package metrics регистрирует метрики Prometheus сервиса доступа.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "entitlement"

var (
	// StatusChecks считает вычисления статуса доступа по результату и источнику.
	StatusChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "status_checks_total",
		Help:      "Entitlement status evaluations by access result and source (cache or store).",
	}, []string{"access", "source"})

	// LazyExpiries считает подписки, переведённые в неактивные при чтении статуса.
	LazyExpiries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lazy_expiries_total",
		Help:      "Stale subscriptions expired on read, by outcome.",
	}, []string{"outcome"})

	SweptSubscriptions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "swept_subscriptions_total",
		Help:      "Subscriptions expired by the background sweep.",
	})

	// ReconcileRuns считает ветки сверки и их исход.
	ReconcileRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_runs_total",
		Help:      "Reconciliation runs by chosen branch and outcome.",
	}, []string{"branch", "outcome"})

	ProviderErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_errors_total",
		Help:      "Failed payment provider calls by method.",
	}, []string{"method"})

	// WebhookEvents считает входящие уведомления о платежах.
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payment_webhooks_total",
		Help:      "Payment webhook notifications by payment status and result.",
	}, []string{"status", "result"})
)

// AccessLabel переводит флаг доступа в значение метки.
func AccessLabel(hasAccess bool) string {
	if hasAccess {
		return "granted"
	}
	return "denied"
}

// OutcomeLabel возвращает "ok" или "error".
func OutcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

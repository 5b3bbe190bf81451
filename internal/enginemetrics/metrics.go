package enginemetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequestsTotal counts processor webhook requests by event type and status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "givebridge",
		Subsystem: "engine",
		Name:      "webhook_requests_total",
		Help:      "Total processor webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks processor webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "givebridge",
		Subsystem: "engine",
		Name:      "webhook_duration_seconds",
		Help:      "Processor webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// ReconciliationTotal counts reconciliation outcomes for confirmed payments.
	ReconciliationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "givebridge",
		Subsystem: "engine",
		Name:      "reconciliation_total",
		Help:      "Reconciliation outcomes (recorded, duplicate, enriched, draft_missing).",
	}, []string{"outcome"})

	// NotificationsTotal counts notification delivery attempts by outcome.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "givebridge",
		Subsystem: "engine",
		Name:      "notifications_total",
		Help:      "Notification delivery attempts by template and outcome.",
	}, []string{"template", "outcome"})

	// SubscriptionsByStatus tracks the number of subscriptions per status.
	SubscriptionsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "givebridge",
		Subsystem: "engine",
		Name:      "subscriptions_by_status",
		Help:      "Number of subscriptions by lifecycle status.",
	}, []string{"status"})

	// RecurringFailuresTotal counts classified recurring charge failures.
	RecurringFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "givebridge",
		Subsystem: "engine",
		Name:      "recurring_failures_total",
		Help:      "Recurring charge failures by classified cause and fatality.",
	}, []string{"cause", "fatal"})
)

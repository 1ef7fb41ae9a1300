// Package metrics holds the Prometheus collectors shared across the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aurum",
		Name:      "orders_created_total",
		Help:      "Orders placed, by payment provider.",
	}, []string{"provider"})

	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aurum",
		Name:      "order_status_transitions_total",
		Help:      "Order status transitions, by target status and source.",
	}, []string{"status", "source"})

	PaymentConfirmations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aurum",
		Name:      "payment_confirmations_total",
		Help:      "Payment confirmation attempts, by provider, source and outcome.",
	}, []string{"provider", "source", "outcome"})

	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aurum",
		Name:      "webhook_events_total",
		Help:      "Webhook deliveries, by provider and outcome.",
	}, []string{"provider", "outcome"})

	OutboxDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aurum",
		Name:      "outbox_deliveries_total",
		Help:      "Outbox message delivery attempts, by kind and outcome.",
	}, []string{"kind", "outcome"})

	ReconcileActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aurum",
		Name:      "reconcile_actions_total",
		Help:      "Reconciler decisions on pending orders.",
	}, []string{"action"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "aurum",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency, by route pattern, method and status class.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method", "code"})
)

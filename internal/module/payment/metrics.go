package payment

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checkoutsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "merchants",
		Subsystem: "payment",
		Name:      "checkouts_created_total",
		Help:      "Checkout sessions created, by provider.",
	}, []string{"provider"})

	webhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "merchants",
		Subsystem: "payment",
		Name:      "webhook_events_total",
		Help:      "Webhook events received, by provider and outcome.",
	}, []string{"provider", "outcome"})

	stateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "merchants",
		Subsystem: "payment",
		Name:      "state_transitions_total",
		Help:      "Payment state writes, by resulting state.",
	}, []string{"state"})

	providerCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "merchants",
		Subsystem: "payment",
		Name:      "provider_calls_total",
		Help:      "Outbound provider calls, by provider, operation and outcome.",
	}, []string{"provider", "op", "outcome"})
)

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

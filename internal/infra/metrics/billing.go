package metrics

import (
	"payportal/internal/domain/model"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		billingSweepsTotal,
		billingOutcomesTotal,
		subscriptionsTotal,
	)
}

var (
	billingSweepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payportal_billing_sweeps_total",
			Help: "Billing sweeps by result (ok|error).",
		},
		[]string{"result"},
	)

	// outcome: promoted|renewed|pending|past_due|error
	billingOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payportal_billing_outcomes_total",
			Help: "Per-subscription results of billing sweeps.",
		},
		[]string{"outcome"},
	)

	subscriptionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "payportal_subscriptions",
			Help: "Current number of subscriptions by status.",
		},
		[]string{"status"},
	)
)

func IncBillingSweep(result string) {
	billingSweepsTotal.WithLabelValues(norm(result)).Inc()
}

func AddBillingOutcome(outcome string, n int) {
	if n > 0 {
		billingOutcomesTotal.WithLabelValues(norm(outcome)).Add(float64(n))
	}
}

func SetSubscriptionsTotal(counts map[model.SubscriptionStatus]int) {
	statuses := []model.SubscriptionStatus{
		model.SubscriptionStatusTrialing,
		model.SubscriptionStatusActive,
		model.SubscriptionStatusPastDue,
		model.SubscriptionStatusPaused,
		model.SubscriptionStatusCanceled,
	}
	for _, status := range statuses {
		subscriptionsTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

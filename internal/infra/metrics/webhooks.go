package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(webhookDeliveriesTotal) }

// result: delivered|retry|dropped
var webhookDeliveriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "payportal_webhook_deliveries_total",
		Help: "Webhook delivery attempts by event type and result.",
	},
	[]string{"event", "result"},
)

func IncWebhookDelivery(event, result string) {
	webhookDeliveriesTotal.WithLabelValues(norm(event), norm(result)).Inc()
}

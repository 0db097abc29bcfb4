package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		chainChecksTotal,
		chainCheckDuration,
		confirmResultsTotal,
	)
}

var (
	// result: found|not_found|reverted|unknown|timeout|error
	chainChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payportal_chain_checks_total",
			Help: "Provider lookups by chain and result.",
		},
		[]string{"chain_id", "result"},
	)

	chainCheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payportal_chain_check_duration_seconds",
			Help:    "Provider lookup latency in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"chain_id"},
	)

	// status: confirmed|pending|failed
	confirmResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payportal_confirm_results_total",
			Help: "Payment confirmations by kind (link|subscription), status and reason.",
		},
		[]string{"kind", "status", "reason"},
	)
)

func ObserveChainCheck(chainID int64, result string, d time.Duration) {
	id := strconv.FormatInt(chainID, 10)
	chainChecksTotal.WithLabelValues(id, norm(result)).Inc()
	chainCheckDuration.WithLabelValues(id).Observe(d.Seconds())
}

func IncConfirmResult(kind, status, reason string) {
	confirmResultsTotal.WithLabelValues(norm(kind), norm(status), norm(reason)).Inc()
}

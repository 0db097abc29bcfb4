package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"payportal/internal/domain/model"
	"payportal/internal/domain/ports/usecase"
	"payportal/internal/infra/logging"
	"payportal/internal/infra/metrics"
)

// StatusCounter reports subscription totals for the status gauge.
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[model.SubscriptionStatus]int, error)
}

// BillingWorker runs the billing sweep on a fixed interval.
type BillingWorker struct {
	interval time.Duration
	timeout  time.Duration
	billing  usecase.BillingProcessor
	counter  StatusCounter
	log      *zerolog.Logger
	now      func() time.Time
}

// NewBillingWorker builds the worker. counter may be nil.
func NewBillingWorker(interval time.Duration, billing usecase.BillingProcessor, counter StatusCounter, logger *zerolog.Logger) *BillingWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	lg := logger.With().Str("component", "BillingWorker").Logger()
	return &BillingWorker{
		interval: interval,
		timeout:  interval,
		billing:  billing,
		counter:  counter,
		log:      &lg,
		now:      time.Now,
	}
}

// Run sweeps once at start and then every interval until ctx is done.
func (w *BillingWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("starting billing worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("stopping billing worker")
			return ctx.Err()
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one bounded billing pass and publishes its outcome.
func (w *BillingWorker) Sweep(ctx context.Context) usecase.BillingReport {
	defer logging.TraceDuration(w.log, "BillingWorker.Sweep")()
	runCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	rep, err := w.billing.ProcessDue(runCtx, w.now())
	if err != nil {
		metrics.IncBillingSweep("error")
		w.log.Error().Err(err).Msg("billing sweep failed")
	} else {
		metrics.IncBillingSweep("ok")
	}
	metrics.AddBillingOutcome("promoted", rep.Promoted)
	metrics.AddBillingOutcome("renewed", rep.Renewed)
	metrics.AddBillingOutcome("pending", rep.Pending)
	metrics.AddBillingOutcome("past_due", rep.PastDue)
	metrics.AddBillingOutcome("error", rep.Errors)
	if rep.Scanned > 0 {
		w.log.Info().
			Int("scanned", rep.Scanned).
			Int("promoted", rep.Promoted).
			Int("renewed", rep.Renewed).
			Int("pending", rep.Pending).
			Int("past_due", rep.PastDue).
			Int("errors", rep.Errors).
			Msg("billing sweep finished")
	}

	if w.counter != nil {
		counts, err := w.counter.CountByStatus(runCtx)
		if err != nil {
			w.log.Warn().Err(err).Msg("count subscriptions by status")
		} else {
			metrics.SetSubscriptionsTotal(counts)
		}
	}
	return rep
}

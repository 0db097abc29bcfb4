package usecase

import (
	"context"
	"time"
)

// BillingReport summarizes one sweep over due subscriptions.
type BillingReport struct {
	Scanned  int
	Promoted int // trials that ended and became active
	Renewed  int
	Pending  int
	PastDue  int
	Errors   int
}

// BillingProcessor defines the billing operations needed by background workers.
type BillingProcessor interface {
	ProcessDue(ctx context.Context, now time.Time) (BillingReport, error)
}

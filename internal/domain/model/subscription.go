package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"payportal/internal/domain"
)

type SubscriptionStatus string

const (
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusPaused   SubscriptionStatus = "paused"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// allowedTransitions lists the explicit and billing-driven moves out of each status.
// Canceled is terminal.
var allowedTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionStatusTrialing: {SubscriptionStatusActive, SubscriptionStatusPastDue, SubscriptionStatusPaused, SubscriptionStatusCanceled},
	SubscriptionStatusActive:   {SubscriptionStatusActive, SubscriptionStatusPastDue, SubscriptionStatusPaused, SubscriptionStatusCanceled},
	SubscriptionStatusPastDue:  {SubscriptionStatusActive, SubscriptionStatusPastDue, SubscriptionStatusPaused, SubscriptionStatusCanceled},
	SubscriptionStatusPaused:   {SubscriptionStatusActive, SubscriptionStatusCanceled},
	SubscriptionStatusCanceled: {},
}

// CanTransition reports whether a subscription may move from one status to another.
func CanTransition(from, to SubscriptionStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Subscription is a recurring obligation of one subscriber address to one link.
type Subscription struct {
	ID                string             `json:"id"` // UUID
	PaymentLinkID     string             `json:"paymentLinkId"`
	SubscriberAddress string             `json:"subscriberAddress"`
	Interval          Interval           `json:"interval"`
	Status            SubscriptionStatus `json:"status"`
	NextPaymentDue    time.Time          `json:"nextPaymentDue"`
	// BillingAnchor is the first due date; cycle n is due at anchor + n intervals.
	BillingAnchor   time.Time  `json:"billingAnchor"`
	CycleCount      int        `json:"cycleCount"`
	TrialEnd        *time.Time `json:"trialEnd,omitempty"`
	GracePeriodDays int        `json:"gracePeriodDays,omitempty"`
	// PendingTxRef holds a submitted charge that was not yet settled on chain.
	PendingTxRef  *string    `json:"pendingTxRef,omitempty"`
	LastPaymentAt *time.Time `json:"lastPaymentAt,omitempty"`
	CanceledAt    *time.Time `json:"canceledAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// NewSubscription starts a subscription for address on link. With a trial the
// subscription is trialing and first due when the trial ends; otherwise it is
// active and due immediately.
func NewSubscription(link *PaymentLink, address string, now time.Time) (*Subscription, error) {
	if link == nil || link.Subscription == nil {
		return nil, fmt.Errorf("%w: payment link does not offer a subscription", domain.ErrInvalidArgument)
	}
	address = NormalizeAddress(address)
	if address == "" {
		return nil, fmt.Errorf("%w: subscriber address is required", domain.ErrInvalidArgument)
	}
	terms := link.Subscription
	s := &Subscription{
		ID:                uuid.NewString(),
		PaymentLinkID:     link.ID,
		SubscriberAddress: address,
		Interval:          terms.Interval,
		Status:            SubscriptionStatusActive,
		NextPaymentDue:    now,
		BillingAnchor:     now,
		GracePeriodDays:   terms.GracePeriodDays,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if terms.TrialDays > 0 {
		end := now.AddDate(0, 0, terms.TrialDays)
		s.Status = SubscriptionStatusTrialing
		s.TrialEnd = &end
		s.NextPaymentDue = end
		s.BillingAnchor = end
	}
	return s, nil
}

// GracePeriod returns the grace window as a duration.
func (s *Subscription) GracePeriod() time.Duration {
	return time.Duration(s.GracePeriodDays) * 24 * time.Hour
}

// NextCycle is the number of the billing cycle the next charge pays for.
func (s *Subscription) NextCycle() int {
	return s.CycleCount + 1
}

// ChargeKey identifies the charge of the next billing cycle.
func (s *Subscription) ChargeKey() string {
	return SubscriptionChargeKey(s.ID, s.NextCycle())
}

// IsPaymentDue is true for active or past_due subscriptions whose due date has passed.
func (s *Subscription) IsPaymentDue(now time.Time) bool {
	if s.Status != SubscriptionStatusActive && s.Status != SubscriptionStatusPastDue {
		return false
	}
	return !now.Before(s.NextPaymentDue)
}

// IsInTrialPeriod is true while a trial end is set and not yet reached.
func (s *Subscription) IsInTrialPeriod(now time.Time) bool {
	return s.TrialEnd != nil && now.Before(*s.TrialEnd)
}

// IsWithinGracePeriod is true for past_due subscriptions still inside the grace window.
func (s *Subscription) IsWithinGracePeriod(now time.Time) bool {
	if s.Status != SubscriptionStatusPastDue {
		return false
	}
	return now.Before(s.NextPaymentDue.Add(s.GracePeriod()))
}

// HasAccess reports whether the subscriber may use the protected resource.
func (s *Subscription) HasAccess(now time.Time) bool {
	switch s.Status {
	case SubscriptionStatusActive:
		return true
	case SubscriptionStatusTrialing:
		return s.IsInTrialPeriod(now)
	case SubscriptionStatusPastDue:
		return s.IsWithinGracePeriod(now)
	default:
		return false
	}
}

// TransitionTo moves the subscription to status or fails with ErrInvalidTransition.
func (s *Subscription) TransitionTo(status SubscriptionStatus, now time.Time) error {
	if !CanTransition(s.Status, status) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, s.Status, status)
	}
	s.Status = status
	s.UpdatedAt = now
	if status == SubscriptionStatusCanceled {
		s.CanceledAt = &now
		s.PendingTxRef = nil
	}
	return nil
}

// RecordCharge applies a settled charge: one more cycle, due date advanced
// from the anchor, status back to active.
func (s *Subscription) RecordCharge(now time.Time) error {
	if err := s.TransitionTo(SubscriptionStatusActive, now); err != nil {
		return err
	}
	s.CycleCount++
	s.NextPaymentDue = NextBillingDate(s.BillingAnchor, s.Interval, s.CycleCount)
	s.LastPaymentAt = &now
	s.PendingTxRef = nil
	return nil
}

// RecordMissedCharge marks the subscription past_due. The due date is kept
// so the grace window is measured from the missed date.
func (s *Subscription) RecordMissedCharge(now time.Time) error {
	s.PendingTxRef = nil
	return s.TransitionTo(SubscriptionStatusPastDue, now)
}

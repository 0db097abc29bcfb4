package model

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventPaymentConfirmed     EventType = "payment.confirmed"
	EventPaymentFailed        EventType = "payment.failed"
	EventLinkCreated          EventType = "link.created"
	EventLinkDisabled         EventType = "link.disabled"
	EventSubscriptionCreated  EventType = "subscription.created"
	EventSubscriptionRenewed  EventType = "subscription.renewed"
	EventSubscriptionPastDue  EventType = "subscription.past_due"
	EventSubscriptionPaused   EventType = "subscription.paused"
	EventSubscriptionResumed  EventType = "subscription.resumed"
	EventSubscriptionCanceled EventType = "subscription.canceled"
)

// Event is a plain data notification about a state change. Consumers read it;
// they never mutate state through it.
type Event struct {
	ID           string        `json:"id"`
	Type         EventType     `json:"type"`
	OccurredAt   time.Time     `json:"occurredAt"`
	Link         *PaymentLink  `json:"paymentLink,omitempty"`
	Payment      *Payment      `json:"payment,omitempty"`
	Subscription *Subscription `json:"subscription,omitempty"`
	Reason       string        `json:"reason,omitempty"`
}

func NewEvent(t EventType, now time.Time) Event {
	return Event{ID: uuid.NewString(), Type: t, OccurredAt: now}
}

// SubscriptionEvent maps a subscription status to the event announcing it.
func SubscriptionEvent(status SubscriptionStatus) EventType {
	switch status {
	case SubscriptionStatusPastDue:
		return EventSubscriptionPastDue
	case SubscriptionStatusPaused:
		return EventSubscriptionPaused
	case SubscriptionStatusCanceled:
		return EventSubscriptionCanceled
	default:
		return EventSubscriptionResumed
	}
}

package adapter

import (
	"context"

	"payportal/internal/domain/model"
)

// EventPublisher hands domain events to out-of-core delivery. Publishing must
// not block the caller on delivery.
type EventPublisher interface {
	Publish(ctx context.Context, e model.Event)
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, model.Event) {}

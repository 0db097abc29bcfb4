package repository

import (
	"context"
	"time"

	"payportal/internal/domain/model"
)

// -----------------------------
// Subscriptions
// -----------------------------

type SubscriptionRepository interface {
	// Insert fails with ErrAlreadyExists when the (link, subscriber) pair is taken.
	Insert(ctx context.Context, tx Tx, s *model.Subscription) error
	Update(ctx context.Context, tx Tx, s *model.Subscription) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Subscription, error)
	FindByAddress(ctx context.Context, tx Tx, linkID, address string) (*model.Subscription, error)
	ListByLink(ctx context.Context, tx Tx, linkID string) ([]*model.Subscription, error)
	// ListDue returns active, past_due and trialing subscriptions with
	// nextPaymentDue <= before, oldest due first.
	ListDue(ctx context.Context, tx Tx, before time.Time, limit int) ([]*model.Subscription, error)
	List(ctx context.Context, tx Tx, limit, offset int) ([]*model.Subscription, error)
	CountByStatus(ctx context.Context, tx Tx) (map[model.SubscriptionStatus]int, error)
}

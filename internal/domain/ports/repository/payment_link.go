package repository

import (
	"context"
	"time"

	"payportal/internal/domain/model"
)

// -----------------------------
// Payment links
// -----------------------------

type PaymentLinkRepository interface {
	Save(ctx context.Context, tx Tx, l *model.PaymentLink) error
	// Update overwrites a stored link; ErrNotFound when absent.
	Update(ctx context.Context, tx Tx, l *model.PaymentLink) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.PaymentLink, error)
	Delete(ctx context.Context, tx Tx, id string) error
	List(ctx context.Context, tx Tx, limit, offset int) ([]*model.PaymentLink, error)
	// IncrementUsage atomically bumps the used count while it is below the
	// max-use count (or unbounded) and returns the updated link.
	// ErrUsageLimitReached when the link is used up.
	IncrementUsage(ctx context.Context, tx Tx, id string, now time.Time) (*model.PaymentLink, error)
}

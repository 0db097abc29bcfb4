package repository

import (
	"context"
	"time"

	"payportal/internal/domain/model"
)

// -----------------------------
// Payments
// -----------------------------

type PaymentRepository interface {
	// Insert stores a payment. Transaction references are exclusive across the
	// whole store: a second insert of the same reference fails with
	// ErrDuplicateTransaction.
	Insert(ctx context.Context, tx Tx, p *model.Payment) error
	// MarkConfirmed upgrades an unconfirmed payment of the same charge in place.
	MarkConfirmed(ctx context.Context, tx Tx, id string, payer, amount, token string, at time.Time) error
	FindByTxRef(ctx context.Context, tx Tx, txRef string) (*model.Payment, error)
	// FindConfirmedForLink returns the confirmed single-payment charge of a
	// link; subscription charges are not considered.
	FindConfirmedForLink(ctx context.Context, tx Tx, linkID string) (*model.Payment, error)
	ListByLink(ctx context.Context, tx Tx, linkID string) ([]*model.Payment, error)
	List(ctx context.Context, tx Tx, limit, offset int) ([]*model.Payment, error)
}

package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"payportal/internal/domain"
	"payportal/internal/domain/model"
	"payportal/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

const paymentColumns = `id, payment_link_id, chain_id, tx_ref, payer_address, amount, token_symbol, confirmed,
  failure_reason, subscription_id, cycle, created_at, confirmed_at`

// Insert claims the transaction reference. ON CONFLICT keeps a surrounding
// transaction usable when another charge already owns the reference.
func (r *paymentRepo) Insert(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	const q = `INSERT INTO payments (` + paymentColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (tx_ref) DO NOTHING;`
	ref := model.NormalizeTxRef(p.TxRef)
	tag, err := execSQL(ctx, r.pool, tx, q, p.ID, p.PaymentLinkID, p.ChainID, ref, p.PayerAddress, p.Amount,
		p.TokenSymbol, p.Confirmed, p.FailureReason, p.SubscriptionID, p.Cycle, p.CreatedAt, p.ConfirmedAt)
	if err != nil {
		// primary key or a second confirmed payment of one link
		if isUniqueViolation(err, "") {
			return domain.ErrAlreadyExists
		}
		return mapWriteErr(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicateTransaction
	}
	p.TxRef = ref
	return nil
}

func (r *paymentRepo) MarkConfirmed(ctx context.Context, tx repository.Tx, id string, payer, amount, token string, at time.Time) error {
	const q = `
UPDATE payments SET confirmed=TRUE, payer_address=$2, amount=$3, token_symbol=$4, failure_reason='', confirmed_at=$5
 WHERE id=$1 AND NOT confirmed;`
	tag, err := execSQL(ctx, r.pool, tx, q, id, payer, amount, token, at)
	if err != nil {
		return mapWriteErr(err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	// already confirmed is fine; a missing row is not
	var exists bool
	row, err := pickRow(ctx, r.pool, tx, `SELECT EXISTS (SELECT 1 FROM payments WHERE id=$1);`, id)
	if err != nil {
		return err
	}
	if err := row.Scan(&exists); err != nil {
		return mapScanErr(err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return nil
}

func (r *paymentRepo) FindByTxRef(ctx context.Context, tx repository.Tx, txRef string) (*model.Payment, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE tx_ref=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, model.NormalizeTxRef(txRef))
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func (r *paymentRepo) FindConfirmedForLink(ctx context.Context, tx repository.Tx, linkID string) (*model.Payment, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payments
 WHERE payment_link_id=$1 AND confirmed AND subscription_id IS NULL
 LIMIT 1;`
	row, err := pickRow(ctx, r.pool, tx, q, linkID)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func (r *paymentRepo) ListByLink(ctx context.Context, tx repository.Tx, linkID string) ([]*model.Payment, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE payment_link_id=$1 ORDER BY created_at ASC, id ASC;`
	return r.list(ctx, tx, q, linkID)
}

func (r *paymentRepo) List(ctx context.Context, tx repository.Tx, limit, offset int) ([]*model.Payment, error) {
	limit, offset = limitOffset(limit, offset)
	const q = `SELECT ` + paymentColumns + ` FROM payments ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2;`
	return r.list(ctx, tx, q, limit, offset)
}

func (r *paymentRepo) list(ctx context.Context, tx repository.Tx, q string, args ...any) ([]*model.Payment, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, mapWriteErr(err)
	}
	defer rows.Close()
	var out []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanPayment(row pgx.Row) (*model.Payment, error) {
	p := &model.Payment{}
	if err := row.Scan(&p.ID, &p.PaymentLinkID, &p.ChainID, &p.TxRef, &p.PayerAddress, &p.Amount, &p.TokenSymbol,
		&p.Confirmed, &p.FailureReason, &p.SubscriptionID, &p.Cycle, &p.CreatedAt, &p.ConfirmedAt); err != nil {
		return nil, mapScanErr(err)
	}
	return p, nil
}

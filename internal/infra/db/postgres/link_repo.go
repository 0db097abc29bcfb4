package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"payportal/internal/domain"
	"payportal/internal/domain/model"
	"payportal/internal/domain/ports/repository"
)

var _ repository.PaymentLinkRepository = (*linkRepo)(nil)

type linkRepo struct{ pool *pgxpool.Pool }

func NewPaymentLinkRepo(pool *pgxpool.Pool) *linkRepo {
	return &linkRepo{pool: pool}
}

const linkColumns = `id, target_url, amount, token_symbol, chain_id, recipient_address, status, max_uses, used_count,
  expires_at, description, metadata, sub_interval, trial_days, grace_period_days, created_at, updated_at`

func linkArgs(l *model.PaymentLink) ([]any, error) {
	var meta []byte
	if len(l.Metadata) > 0 {
		b, err := json.Marshal(l.Metadata)
		if err != nil {
			return nil, domain.ErrInvalidArgument
		}
		meta = b
	}
	var interval *string
	trial, grace := 0, 0
	if l.Subscription != nil {
		s := string(l.Subscription.Interval)
		interval = &s
		trial, grace = l.Subscription.TrialDays, l.Subscription.GracePeriodDays
	}
	return []any{
		l.ID, l.TargetURL, l.Price.Amount, l.Price.TokenSymbol, l.Price.ChainID, l.RecipientAddress, string(l.Status),
		l.MaxUses, l.UsedCount, l.ExpiresAt, l.Description, meta, interval, trial, grace, l.CreatedAt, l.UpdatedAt,
	}, nil
}

func (r *linkRepo) Save(ctx context.Context, tx repository.Tx, l *model.PaymentLink) error {
	args, err := linkArgs(l)
	if err != nil {
		return err
	}
	const q = `INSERT INTO payment_links (` + linkColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17);`
	if _, err := execSQL(ctx, r.pool, tx, q, args...); err != nil {
		if isUniqueViolation(err, "") {
			return domain.ErrAlreadyExists
		}
		return mapWriteErr(err)
	}
	return nil
}

func (r *linkRepo) Update(ctx context.Context, tx repository.Tx, l *model.PaymentLink) error {
	args, err := linkArgs(l)
	if err != nil {
		return err
	}
	const q = `
UPDATE payment_links SET
  target_url=$2, amount=$3, token_symbol=$4, chain_id=$5, recipient_address=$6, status=$7, max_uses=$8,
  used_count=$9, expires_at=$10, description=$11, metadata=$12, sub_interval=$13, trial_days=$14,
  grace_period_days=$15, updated_at=$17
WHERE id=$1;`
	tag, err := execSQL(ctx, r.pool, tx, q, args...)
	if err != nil {
		return mapWriteErr(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *linkRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PaymentLink, error) {
	q := `SELECT ` + linkColumns + ` FROM payment_links WHERE id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q+";", id)
	if err != nil {
		return nil, err
	}
	return scanLink(row)
}

func (r *linkRepo) Delete(ctx context.Context, tx repository.Tx, id string) error {
	tag, err := execSQL(ctx, r.pool, tx, `DELETE FROM payment_links WHERE id=$1;`, id)
	if err != nil {
		return mapWriteErr(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *linkRepo) List(ctx context.Context, tx repository.Tx, limit, offset int) ([]*model.PaymentLink, error) {
	limit, offset = limitOffset(limit, offset)
	const q = `SELECT ` + linkColumns + ` FROM payment_links ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, limit, offset)
	if err != nil {
		return nil, mapWriteErr(err)
	}
	defer rows.Close()
	var out []*model.PaymentLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

// IncrementUsage consumes one use in a single conditional UPDATE, so
// concurrent redirects can never push used_count past max_uses.
func (r *linkRepo) IncrementUsage(ctx context.Context, tx repository.Tx, id string, now time.Time) (*model.PaymentLink, error) {
	const q = `
UPDATE payment_links SET used_count = used_count + 1, updated_at=$2
 WHERE id=$1 AND (max_uses IS NULL OR used_count < max_uses)
RETURNING ` + linkColumns + `;`
	row, err := pickRow(ctx, r.pool, tx, q, id, now)
	if err != nil {
		return nil, err
	}
	l, err := scanLink(row)
	if err == nil {
		return l, nil
	}
	if err != domain.ErrNotFound {
		return nil, err
	}
	// nothing updated: either the link is gone or its uses are spent
	var exists bool
	row, err = pickRow(ctx, r.pool, tx, `SELECT EXISTS (SELECT 1 FROM payment_links WHERE id=$1);`, id)
	if err != nil {
		return nil, err
	}
	if err := row.Scan(&exists); err != nil {
		return nil, mapScanErr(err)
	}
	if !exists {
		return nil, domain.ErrNotFound
	}
	return nil, domain.ErrUsageLimitReached
}

func scanLink(row pgx.Row) (*model.PaymentLink, error) {
	var (
		l        model.PaymentLink
		status   string
		meta     []byte
		interval *string
		trial    int
		grace    int
	)
	if err := row.Scan(&l.ID, &l.TargetURL, &l.Price.Amount, &l.Price.TokenSymbol, &l.Price.ChainID, &l.RecipientAddress,
		&status, &l.MaxUses, &l.UsedCount, &l.ExpiresAt, &l.Description, &meta, &interval, &trial, &grace,
		&l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, mapScanErr(err)
	}
	l.Status = model.LinkStatus(status)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &l.Metadata); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
	}
	if interval != nil {
		l.Subscription = &model.SubscriptionTerms{
			Interval:        model.Interval(*interval),
			TrialDays:       trial,
			GracePeriodDays: grace,
		}
	}
	return &l, nil
}

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

// Ensure subscriptionRepo implements repository.SubscriptionRepository
var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

const subColumns = `id, payment_link_id, subscriber_address, billing_interval, status, next_payment_due, billing_anchor,
  cycle_count, trial_end, grace_period_days, pending_tx_ref, last_payment_at, canceled_at, created_at, updated_at`

func (r *subscriptionRepo) Insert(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	const q = `INSERT INTO subscriptions (` + subColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15);`
	_, err := execSQL(ctx, r.pool, tx, q, s.ID, s.PaymentLinkID, s.SubscriberAddress, string(s.Interval), string(s.Status),
		s.NextPaymentDue, s.BillingAnchor, s.CycleCount, s.TrialEnd, s.GracePeriodDays, s.PendingTxRef, s.LastPaymentAt,
		s.CanceledAt, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "") {
			return domain.ErrAlreadyExists
		}
		return mapWriteErr(err)
	}
	return nil
}

// Update writes the mutable billing state. Link and subscriber never change.
func (r *subscriptionRepo) Update(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	const q = `
UPDATE subscriptions SET
  status=$2, next_payment_due=$3, billing_anchor=$4, cycle_count=$5, trial_end=$6, pending_tx_ref=$7,
  last_payment_at=$8, canceled_at=$9, updated_at=$10
WHERE id=$1;`
	tag, err := execSQL(ctx, r.pool, tx, q, s.ID, string(s.Status), s.NextPaymentDue, s.BillingAnchor, s.CycleCount,
		s.TrialEnd, s.PendingTxRef, s.LastPaymentAt, s.CanceledAt, s.UpdatedAt)
	if err != nil {
		return mapWriteErr(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *subscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	q := `SELECT ` + subColumns + ` FROM subscriptions WHERE id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	return r.queryOne(ctx, tx, q+";", id)
}

func (r *subscriptionRepo) FindByAddress(ctx context.Context, tx repository.Tx, linkID, address string) (*model.Subscription, error) {
	const q = `SELECT ` + subColumns + ` FROM subscriptions WHERE payment_link_id=$1 AND subscriber_address=$2;`
	return r.queryOne(ctx, tx, q, linkID, model.NormalizeAddress(address))
}

func (r *subscriptionRepo) ListByLink(ctx context.Context, tx repository.Tx, linkID string) ([]*model.Subscription, error) {
	const q = `SELECT ` + subColumns + ` FROM subscriptions WHERE payment_link_id=$1 ORDER BY created_at DESC, id DESC;`
	return r.list(ctx, tx, q, linkID)
}

func (r *subscriptionRepo) ListDue(ctx context.Context, tx repository.Tx, before time.Time, limit int) ([]*model.Subscription, error) {
	limit, _ = limitOffset(limit, 0)
	const q = `
SELECT ` + subColumns + `
  FROM subscriptions
 WHERE status IN ('active','past_due','trialing') AND next_payment_due <= $1
 ORDER BY next_payment_due ASC, id ASC
 LIMIT $2;`
	return r.list(ctx, tx, q, before, limit)
}

func (r *subscriptionRepo) List(ctx context.Context, tx repository.Tx, limit, offset int) ([]*model.Subscription, error) {
	limit, offset = limitOffset(limit, offset)
	const q = `SELECT ` + subColumns + ` FROM subscriptions ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2;`
	return r.list(ctx, tx, q, limit, offset)
}

func (r *subscriptionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.SubscriptionStatus]int, error) {
	const q = `SELECT status, COUNT(*) FROM subscriptions GROUP BY status;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, mapWriteErr(err)
	}
	defer rows.Close()

	counts := make(map[model.SubscriptionStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		counts[model.SubscriptionStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return counts, nil
}

func (r *subscriptionRepo) list(ctx context.Context, tx repository.Tx, q string, args ...any) ([]*model.Subscription, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, mapWriteErr(err)
	}
	defer rows.Close()
	var out []*model.Subscription
	for rows.Next() {
		s, err := scanSub(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *subscriptionRepo) queryOne(ctx context.Context, tx repository.Tx, sql string, args ...any) (*model.Subscription, error) {
	row, err := pickRow(ctx, r.pool, tx, sql, args...)
	if err != nil {
		return nil, err
	}
	return scanSub(row)
}

func scanSub(row pgx.Row) (*model.Subscription, error) {
	s := &model.Subscription{}
	var interval, status string
	if err := row.Scan(&s.ID, &s.PaymentLinkID, &s.SubscriberAddress, &interval, &status, &s.NextPaymentDue,
		&s.BillingAnchor, &s.CycleCount, &s.TrialEnd, &s.GracePeriodDays, &s.PendingTxRef, &s.LastPaymentAt,
		&s.CanceledAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, mapScanErr(err)
	}
	s.Interval = model.Interval(interval)
	s.Status = model.SubscriptionStatus(status)
	return s, nil
}

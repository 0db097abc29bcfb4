package memory

import (
	"context"
	"time"

	"payportal/internal/domain"
	"payportal/internal/domain/model"
	"payportal/internal/domain/ports/repository"
)

type PaymentRepo struct{ s *Store }

var _ repository.PaymentRepository = (*PaymentRepo)(nil)

func clonePayment(p *model.Payment) *model.Payment {
	cp := *p
	if p.ConfirmedAt != nil {
		v := *p.ConfirmedAt
		cp.ConfirmedAt = &v
	}
	if p.SubscriptionID != nil {
		v := *p.SubscriptionID
		cp.SubscriptionID = &v
	}
	return &cp
}

// Insert is the exclusive check-and-insert on the transaction reference.
func (r *PaymentRepo) Insert(_ context.Context, _ repository.Tx, p *model.Payment) error {
	ref := model.NormalizeTxRef(p.TxRef)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, taken := r.s.paymentByTx[ref]; taken {
		return domain.ErrDuplicateTransaction
	}
	if _, ok := r.s.payments[p.ID]; ok {
		return domain.ErrAlreadyExists
	}
	cp := clonePayment(p)
	cp.TxRef = ref
	r.s.payments[p.ID] = cp
	r.s.paymentByTx[ref] = p.ID
	r.s.paymentByLink[p.PaymentLinkID] = append(r.s.paymentByLink[p.PaymentLinkID], p.ID)
	return nil
}

func (r *PaymentRepo) MarkConfirmed(_ context.Context, _ repository.Tx, id string, payer, amount, token string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Confirmed {
		return nil
	}
	p.Confirmed = true
	p.PayerAddress = payer
	p.Amount = amount
	p.TokenSymbol = token
	p.FailureReason = ""
	p.ConfirmedAt = &at
	return nil
}

func (r *PaymentRepo) FindByTxRef(_ context.Context, _ repository.Tx, txRef string) (*model.Payment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.paymentByTx[model.NormalizeTxRef(txRef)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clonePayment(r.s.payments[id]), nil
}

func (r *PaymentRepo) FindConfirmedForLink(_ context.Context, _ repository.Tx, linkID string) (*model.Payment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, id := range r.s.paymentByLink[linkID] {
		p := r.s.payments[id]
		if p.Confirmed && p.SubscriptionID == nil {
			return clonePayment(p), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *PaymentRepo) ListByLink(_ context.Context, _ repository.Tx, linkID string) ([]*model.Payment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	ids := r.s.paymentByLink[linkID]
	out := make([]*model.Payment, 0, len(ids))
	for _, id := range ids {
		out = append(out, clonePayment(r.s.payments[id]))
	}
	return out, nil
}

func (r *PaymentRepo) List(_ context.Context, _ repository.Tx, limit, offset int) ([]*model.Payment, error) {
	r.s.mu.RLock()
	out := make([]*model.Payment, 0, len(r.s.payments))
	for _, p := range r.s.payments {
		out = append(out, clonePayment(p))
	}
	r.s.mu.RUnlock()
	sortNewestFirst(out, func(p *model.Payment) int64 { return p.CreatedAt.UnixNano() }, func(p *model.Payment) string { return p.ID })
	return page(out, limit, offset), nil
}

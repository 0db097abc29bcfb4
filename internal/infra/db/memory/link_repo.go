package memory

import (
	"context"
	"time"

	"payportal/internal/domain"
	"payportal/internal/domain/model"
	"payportal/internal/domain/ports/repository"
)

type PaymentLinkRepo struct{ s *Store }

var _ repository.PaymentLinkRepository = (*PaymentLinkRepo)(nil)

func cloneLink(l *model.PaymentLink) *model.PaymentLink {
	cp := *l
	if l.MaxUses != nil {
		v := *l.MaxUses
		cp.MaxUses = &v
	}
	if l.ExpiresAt != nil {
		v := *l.ExpiresAt
		cp.ExpiresAt = &v
	}
	if l.Subscription != nil {
		v := *l.Subscription
		cp.Subscription = &v
	}
	if l.Metadata != nil {
		cp.Metadata = make(map[string]string, len(l.Metadata))
		for k, v := range l.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func (r *PaymentLinkRepo) Save(_ context.Context, _ repository.Tx, l *model.PaymentLink) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.links[l.ID]; ok {
		return domain.ErrAlreadyExists
	}
	r.s.links[l.ID] = cloneLink(l)
	return nil
}

func (r *PaymentLinkRepo) Update(_ context.Context, _ repository.Tx, l *model.PaymentLink) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.links[l.ID]; !ok {
		return domain.ErrNotFound
	}
	r.s.links[l.ID] = cloneLink(l)
	return nil
}

func (r *PaymentLinkRepo) FindByID(_ context.Context, _ repository.Tx, id string) (*model.PaymentLink, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	l, ok := r.s.links[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneLink(l), nil
}

func (r *PaymentLinkRepo) Delete(_ context.Context, _ repository.Tx, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.links[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.s.links, id)
	return nil
}

func (r *PaymentLinkRepo) List(_ context.Context, _ repository.Tx, limit, offset int) ([]*model.PaymentLink, error) {
	r.s.mu.RLock()
	out := make([]*model.PaymentLink, 0, len(r.s.links))
	for _, l := range r.s.links {
		out = append(out, cloneLink(l))
	}
	r.s.mu.RUnlock()
	sortNewestFirst(out, func(l *model.PaymentLink) int64 { return l.CreatedAt.UnixNano() }, func(l *model.PaymentLink) string { return l.ID })
	return page(out, limit, offset), nil
}

func (r *PaymentLinkRepo) IncrementUsage(_ context.Context, _ repository.Tx, id string, now time.Time) (*model.PaymentLink, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.links[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if l.IsLimitReached() {
		return nil, domain.ErrUsageLimitReached
	}
	l.UsedCount++
	l.UpdatedAt = now
	return cloneLink(l), nil
}

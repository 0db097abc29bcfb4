package memory

import (
	"context"
	"sort"
	"time"

	"payportal/internal/domain"
	"payportal/internal/domain/model"
	"payportal/internal/domain/ports/repository"
)

type SubscriptionRepo struct{ s *Store }

var _ repository.SubscriptionRepository = (*SubscriptionRepo)(nil)

func addrKey(linkID, address string) string {
	return linkID + "\x00" + model.NormalizeAddress(address)
}

func cloneSub(s *model.Subscription) *model.Subscription {
	cp := *s
	for _, p := range []**time.Time{&cp.TrialEnd, &cp.LastPaymentAt, &cp.CanceledAt} {
		if *p != nil {
			v := **p
			*p = &v
		}
	}
	if s.PendingTxRef != nil {
		v := *s.PendingTxRef
		cp.PendingTxRef = &v
	}
	return &cp
}

func (r *SubscriptionRepo) Insert(_ context.Context, _ repository.Tx, s *model.Subscription) error {
	key := addrKey(s.PaymentLinkID, s.SubscriberAddress)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, taken := r.s.subByAddr[key]; taken {
		return domain.ErrAlreadyExists
	}
	if _, ok := r.s.subs[s.ID]; ok {
		return domain.ErrAlreadyExists
	}
	r.s.subs[s.ID] = cloneSub(s)
	r.s.subByAddr[key] = s.ID
	return nil
}

func (r *SubscriptionRepo) Update(_ context.Context, _ repository.Tx, s *model.Subscription) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	old, ok := r.s.subs[s.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if old.PaymentLinkID != s.PaymentLinkID || old.SubscriberAddress != s.SubscriberAddress {
		return domain.ErrInvalidArgument
	}
	r.s.subs[s.ID] = cloneSub(s)
	return nil
}

func (r *SubscriptionRepo) FindByID(_ context.Context, _ repository.Tx, id string) (*model.Subscription, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	s, ok := r.s.subs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneSub(s), nil
}

func (r *SubscriptionRepo) FindByAddress(_ context.Context, _ repository.Tx, linkID, address string) (*model.Subscription, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.subByAddr[addrKey(linkID, address)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneSub(r.s.subs[id]), nil
}

func (r *SubscriptionRepo) ListByLink(_ context.Context, _ repository.Tx, linkID string) ([]*model.Subscription, error) {
	r.s.mu.RLock()
	var out []*model.Subscription
	for _, s := range r.s.subs {
		if s.PaymentLinkID == linkID {
			out = append(out, cloneSub(s))
		}
	}
	r.s.mu.RUnlock()
	sortNewestFirst(out, func(s *model.Subscription) int64 { return s.CreatedAt.UnixNano() }, func(s *model.Subscription) string { return s.ID })
	return out, nil
}

func (r *SubscriptionRepo) ListDue(_ context.Context, _ repository.Tx, before time.Time, limit int) ([]*model.Subscription, error) {
	r.s.mu.RLock()
	var out []*model.Subscription
	for _, s := range r.s.subs {
		switch s.Status {
		case model.SubscriptionStatusActive, model.SubscriptionStatusPastDue, model.SubscriptionStatusTrialing:
			if !s.NextPaymentDue.After(before) {
				out = append(out, cloneSub(s))
			}
		}
	}
	r.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextPaymentDue.Equal(out[j].NextPaymentDue) {
			return out[i].NextPaymentDue.Before(out[j].NextPaymentDue)
		}
		return out[i].ID < out[j].ID
	})
	return page(out, limit, 0), nil
}

func (r *SubscriptionRepo) List(_ context.Context, _ repository.Tx, limit, offset int) ([]*model.Subscription, error) {
	r.s.mu.RLock()
	out := make([]*model.Subscription, 0, len(r.s.subs))
	for _, s := range r.s.subs {
		out = append(out, cloneSub(s))
	}
	r.s.mu.RUnlock()
	sortNewestFirst(out, func(s *model.Subscription) int64 { return s.CreatedAt.UnixNano() }, func(s *model.Subscription) string { return s.ID })
	return page(out, limit, offset), nil
}

func (r *SubscriptionRepo) CountByStatus(_ context.Context, _ repository.Tx) (map[model.SubscriptionStatus]int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make(map[model.SubscriptionStatus]int)
	for _, s := range r.s.subs {
		out[s.Status]++
	}
	return out, nil
}

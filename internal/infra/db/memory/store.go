// Package memory is the in-process record store: indexed tables behind one
// RWMutex, plus a keyed locker for per-entity serialization in the engines.
package memory

import (
	"context"
	"sort"
	"sync"

	"payportal/internal/domain/model"
	"payportal/internal/domain/ports/repository"
)

// Store holds every table and secondary index. Repositories are thin views
// over one Store so cross-table lookups stay consistent.
type Store struct {
	mu sync.RWMutex

	links map[string]*model.PaymentLink

	payments      map[string]*model.Payment
	paymentByTx   map[string]string // normalized tx ref -> payment id
	paymentByLink map[string][]string

	subs      map[string]*model.Subscription
	subByAddr map[string]string // link id + "\x00" + address -> subscription id
}

func NewStore() *Store {
	return &Store{
		links:         make(map[string]*model.PaymentLink),
		payments:      make(map[string]*model.Payment),
		paymentByTx:   make(map[string]string),
		paymentByLink: make(map[string][]string),
		subs:          make(map[string]*model.Subscription),
		subByAddr:     make(map[string]string),
	}
}

func (s *Store) Links() *PaymentLinkRepo { return &PaymentLinkRepo{s: s} }
func (s *Store) Payments() *PaymentRepo { return &PaymentRepo{s: s} }
func (s *Store) Subscriptions() *SubscriptionRepo { return &SubscriptionRepo{s: s} }

// TxManager satisfies the transaction port for the memory store. Each
// repository call is atomic on its own; fn runs without a wider transaction.
type TxManager struct{}

var _ repository.TransactionManager = TxManager{}

func (TxManager) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, repository.NoTX)
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func sortNewestFirst[T any](items []T, created func(T) int64, id func(T) string) {
	sort.Slice(items, func(i, j int) bool {
		ci, cj := created(items[i]), created(items[j])
		if ci != cj {
			return ci > cj
		}
		return id(items[i]) < id(items[j])
	})
}

//go:build !integration

package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"payportal/internal/domain"
	"payportal/internal/domain/model"
)

func intPtr(v int) *int { return &v }

func TestPaymentLinkRepo(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("should return copies so callers cannot mutate stored rows", func(t *testing.T) {
		repo := NewStore().Links()
		_ = repo.Save(ctx, nil, &model.PaymentLink{ID: "L1", MaxUses: intPtr(3), CreatedAt: now})
		got, _ := repo.FindByID(ctx, nil, "L1")
		*got.MaxUses = 100
		got.UsedCount = 50
		again, _ := repo.FindByID(ctx, nil, "L1")
		if *again.MaxUses != 3 || again.UsedCount != 0 {
			t.Errorf("stored row was mutated: %+v", again)
		}
	})

	t.Run("should never increment past max uses under contention", func(t *testing.T) {
		repo := NewStore().Links()
		_ = repo.Save(ctx, nil, &model.PaymentLink{ID: "L2", MaxUses: intPtr(5), CreatedAt: now})

		var ok, refused int32
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := repo.IncrementUsage(ctx, nil, "L2", now)
				switch {
				case err == nil:
					atomic.AddInt32(&ok, 1)
				case errors.Is(err, domain.ErrUsageLimitReached):
					atomic.AddInt32(&refused, 1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		if ok != 5 || refused != 45 {
			t.Errorf("expected 5 increments and 45 refusals, got %d and %d", ok, refused)
		}
		l, _ := repo.FindByID(ctx, nil, "L2")
		if l.UsedCount != 5 {
			t.Errorf("expected usedCount 5, got %d", l.UsedCount)
		}
	})

	t.Run("should report missing links", func(t *testing.T) {
		repo := NewStore().Links()
		if _, err := repo.FindByID(ctx, nil, "nope"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := repo.Update(ctx, nil, &model.PaymentLink{ID: "nope"}); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := repo.Delete(ctx, nil, "nope"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("should page newest first", func(t *testing.T) {
		repo := NewStore().Links()
		for i, id := range []string{"A", "B", "C"} {
			_ = repo.Save(ctx, nil, &model.PaymentLink{ID: id, CreatedAt: now.Add(time.Duration(i) * time.Second)})
		}
		got, _ := repo.List(ctx, nil, 2, 0)
		if len(got) != 2 || got[0].ID != "C" || got[1].ID != "B" {
			t.Errorf("unexpected first page: %v", got)
		}
		got, _ = repo.List(ctx, nil, 2, 2)
		if len(got) != 1 || got[0].ID != "A" {
			t.Errorf("unexpected second page: %v", got)
		}
	})
}

func TestPaymentRepo(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("should reject a second payment with the same reference in any casing", func(t *testing.T) {
		repo := NewStore().Payments()
		if err := repo.Insert(ctx, nil, &model.Payment{ID: "P1", PaymentLinkID: "L1", TxRef: "0xABC"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		err := repo.Insert(ctx, nil, &model.Payment{ID: "P2", PaymentLinkID: "L2", TxRef: "0xabc"})
		if !errors.Is(err, domain.ErrDuplicateTransaction) {
			t.Errorf("expected ErrDuplicateTransaction, got %v", err)
		}
	})

	t.Run("should let exactly one concurrent insert win", func(t *testing.T) {
		repo := NewStore().Payments()
		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				p := &model.Payment{ID: string(rune('a' + i)), PaymentLinkID: "L", TxRef: "0xrace"}
				if repo.Insert(ctx, nil, p) == nil {
					atomic.AddInt32(&wins, 1)
				}
			}(i)
		}
		wg.Wait()
		if wins != 1 {
			t.Errorf("expected one winner, got %d", wins)
		}
	})

	t.Run("should find only confirmed single-payment charges for a link", func(t *testing.T) {
		repo := NewStore().Payments()
		sub := "S1"
		_ = repo.Insert(ctx, nil, &model.Payment{ID: "P1", PaymentLinkID: "L1", TxRef: "0x1", Confirmed: false})
		_ = repo.Insert(ctx, nil, &model.Payment{ID: "P2", PaymentLinkID: "L1", TxRef: "0x2", Confirmed: true, SubscriptionID: &sub, Cycle: 1})
		if _, err := repo.FindConfirmedForLink(ctx, nil, "L1"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if err := repo.MarkConfirmed(ctx, nil, "P1", "0xPAYER", "0.001", "ETH", now); err != nil {
			t.Fatalf("mark confirmed: %v", err)
		}
		p, err := repo.FindConfirmedForLink(ctx, nil, "L1")
		if err != nil || p.ID != "P1" || p.PayerAddress != "0xPAYER" || p.ConfirmedAt == nil {
			t.Errorf("unexpected confirmed payment %+v, err %v", p, err)
		}
		all, _ := repo.ListByLink(ctx, nil, "L1")
		if len(all) != 2 {
			t.Errorf("expected 2 payments for link, got %d", len(all))
		}
	})
}

func TestSubscriptionRepo(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	t.Run("should keep one subscription per link and address", func(t *testing.T) {
		repo := NewStore().Subscriptions()
		_ = repo.Insert(ctx, nil, &model.Subscription{ID: "S1", PaymentLinkID: "L1", SubscriberAddress: "0xA"})
		err := repo.Insert(ctx, nil, &model.Subscription{ID: "S2", PaymentLinkID: "L1", SubscriberAddress: "0xA"})
		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Errorf("expected ErrAlreadyExists, got %v", err)
		}
		if err := repo.Insert(ctx, nil, &model.Subscription{ID: "S3", PaymentLinkID: "L2", SubscriberAddress: "0xA"}); err != nil {
			t.Errorf("same address on another link should be allowed: %v", err)
		}
	})

	t.Run("should list due subscriptions oldest first and skip paused and canceled", func(t *testing.T) {
		repo := NewStore().Subscriptions()
		add := func(id string, st model.SubscriptionStatus, due time.Time) {
			_ = repo.Insert(ctx, nil, &model.Subscription{ID: id, PaymentLinkID: "L", SubscriberAddress: id, Status: st, NextPaymentDue: due})
		}
		add("late", model.SubscriptionStatusPastDue, base.Add(-48*time.Hour))
		add("due", model.SubscriptionStatusActive, base)
		add("trial", model.SubscriptionStatusTrialing, base.Add(-time.Hour))
		add("future", model.SubscriptionStatusActive, base.Add(time.Hour))
		add("paused", model.SubscriptionStatusPaused, base.Add(-time.Hour))
		add("canceled", model.SubscriptionStatusCanceled, base.Add(-time.Hour))

		got, err := repo.ListDue(ctx, nil, base, 10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var ids []string
		for _, s := range got {
			ids = append(ids, s.ID)
		}
		want := []string{"late", "trial", "due"}
		if len(ids) != len(want) {
			t.Fatalf("expected %v, got %v", want, ids)
		}
		for i := range want {
			if ids[i] != want[i] {
				t.Fatalf("expected %v, got %v", want, ids)
			}
		}

		limited, _ := repo.ListDue(ctx, nil, base, 1)
		if len(limited) != 1 || limited[0].ID != "late" {
			t.Errorf("expected only the oldest, got %v", limited)
		}

		counts, _ := repo.CountByStatus(ctx, nil)
		if counts[model.SubscriptionStatusActive] != 2 || counts[model.SubscriptionStatusCanceled] != 1 {
			t.Errorf("unexpected counts %v", counts)
		}
	})
}

func TestKeyedLocker(t *testing.T) {
	t.Run("should serialize holders of the same key", func(t *testing.T) {
		l := NewKeyedLocker()
		var inside, maxInside int32
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock, err := l.Lock(context.Background(), "k")
				if err != nil {
					t.Errorf("lock: %v", err)
					return
				}
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				unlock()
			}()
		}
		wg.Wait()
		if maxInside != 1 {
			t.Errorf("expected at most one holder, saw %d", maxInside)
		}
		if len(l.keys) != 0 {
			t.Errorf("expected idle keys to be dropped, have %d", len(l.keys))
		}
	})

	t.Run("should not block other keys", func(t *testing.T) {
		l := NewKeyedLocker()
		unlockA, _ := l.Lock(context.Background(), "a")
		defer unlockA()
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		unlockB, err := l.Lock(ctx, "b")
		if err != nil {
			t.Fatalf("expected lock on another key, got %v", err)
		}
		unlockB()
	})

	t.Run("should give up when the context ends", func(t *testing.T) {
		l := NewKeyedLocker()
		unlock, _ := l.Lock(context.Background(), "k")
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if _, err := l.Lock(ctx, "k"); !errors.Is(err, domain.ErrLockNotAcquired) {
			t.Errorf("expected ErrLockNotAcquired, got %v", err)
		}
		unlock()
		unlock() // second call is a no-op
		again, err := l.Lock(context.Background(), "k")
		if err != nil {
			t.Fatalf("expected lock after release, got %v", err)
		}
		again()
	})
}

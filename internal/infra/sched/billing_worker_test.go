//go:build !integration

package sched

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"payportal/internal/domain/model"
	"payportal/internal/domain/ports/usecase"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

type mockBilling struct {
	calls       atomic.Int32
	ProcessFunc func(ctx context.Context, now time.Time) (usecase.BillingReport, error)
}

func (m *mockBilling) ProcessDue(ctx context.Context, now time.Time) (usecase.BillingReport, error) {
	m.calls.Add(1)
	if m.ProcessFunc != nil {
		return m.ProcessFunc(ctx, now)
	}
	return usecase.BillingReport{}, nil
}

type mockCounter struct {
	calls  int
	counts map[model.SubscriptionStatus]int
	err    error
}

func (m *mockCounter) CountByStatus(context.Context) (map[model.SubscriptionStatus]int, error) {
	m.calls++
	return m.counts, m.err
}

func TestBillingWorkerSweep(t *testing.T) {
	t.Run("should pass the clock and a deadline to the sweep", func(t *testing.T) {
		fixed := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		var gotNow time.Time
		var hadDeadline bool
		b := &mockBilling{ProcessFunc: func(ctx context.Context, now time.Time) (usecase.BillingReport, error) {
			gotNow = now
			_, hadDeadline = ctx.Deadline()
			return usecase.BillingReport{Scanned: 3, Renewed: 2, PastDue: 1}, nil
		}}
		w := NewBillingWorker(time.Minute, b, nil, newTestLogger())
		w.now = func() time.Time { return fixed }

		rep := w.Sweep(context.Background())
		if !gotNow.Equal(fixed) || !hadDeadline {
			t.Errorf("expected fixed clock and a deadline, got %v %v", gotNow, hadDeadline)
		}
		if rep.Renewed != 2 || rep.PastDue != 1 {
			t.Errorf("unexpected report %+v", rep)
		}
	})

	t.Run("should survive sweep errors", func(t *testing.T) {
		b := &mockBilling{ProcessFunc: func(context.Context, time.Time) (usecase.BillingReport, error) {
			return usecase.BillingReport{Errors: 1}, errors.New("store down")
		}}
		w := NewBillingWorker(time.Minute, b, nil, newTestLogger())
		if rep := w.Sweep(context.Background()); rep.Errors != 1 {
			t.Errorf("unexpected report %+v", rep)
		}
	})

	t.Run("should publish subscription totals", func(t *testing.T) {
		c := &mockCounter{counts: map[model.SubscriptionStatus]int{model.SubscriptionStatusActive: 7}}
		w := NewBillingWorker(time.Minute, &mockBilling{}, c, newTestLogger())
		w.Sweep(context.Background())
		if c.calls != 1 {
			t.Errorf("expected one status count, got %d", c.calls)
		}
	})
}

func TestBillingWorkerRun(t *testing.T) {
	b := &mockBilling{}
	w := NewBillingWorker(10*time.Millisecond, b, &mockCounter{err: errors.New("x")}, newTestLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	err := w.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected the context error, got %v", err)
	}
	if n := b.calls.Load(); n < 2 {
		t.Errorf("expected an initial sweep plus ticks, got %d", n)
	}
}

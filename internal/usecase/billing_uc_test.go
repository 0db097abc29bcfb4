//go:build !integration

package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"payportal/internal/domain"
	"payportal/internal/domain/model"
	"payportal/internal/domain/ports/repository"
)

const subscriber = "0xSUB"

func (h *harness) subscriptionLink(t *testing.T, trialDays, graceDays int) *model.PaymentLink {
	t.Helper()
	return h.createLink(t, func(in *model.CreatePaymentLinkInput) {
		in.Subscription = &model.SubscriptionTerms{
			Interval:        model.IntervalMonthly,
			TrialDays:       trialDays,
			GracePeriodDays: graceDays,
		}
	})
}

// subscribePaid subscribes and settles the first cycle with ref.
func (h *harness) subscribePaid(t *testing.T, link *model.PaymentLink, ref string) *model.Subscription {
	t.Helper()
	h.settle(ref)
	sub, res, err := h.billing.Subscribe(context.Background(), link.ID, subscriber, ref)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if res == nil || res.Status != model.ConfirmStatusConfirmed {
		t.Fatalf("expected first charge confirmed, got %+v", res)
	}
	return sub
}

func TestBillingUseCase_Subscribe(t *testing.T) {
	ctx := context.Background()

	t.Run("should charge the first cycle at once and keep month-end anchoring", func(t *testing.T) {
		h := newHarness(t)
		link := h.subscriptionLink(t, 0, 3)
		sub := h.subscribePaid(t, link, "0xs1")

		if sub.Status != model.SubscriptionStatusActive || sub.CycleCount != 1 {
			t.Errorf("expected active with one cycle, got %s %d", sub.Status, sub.CycleCount)
		}
		want := time.Date(2026, 2, 28, 10, 0, 0, 0, time.UTC)
		if !sub.NextPaymentDue.Equal(want) {
			t.Errorf("expected next due %s, got %s", want, sub.NextPaymentDue)
		}
		p, err := h.payments.FindByTxRef(ctx, nil, "0xs1")
		if err != nil || p.SubscriptionID == nil || *p.SubscriptionID != sub.ID || p.Cycle != 1 {
			t.Errorf("expected a cycle 1 payment for the subscription, got %+v %v", p, err)
		}
		if !h.events.has(model.EventSubscriptionCreated) || !h.events.has(model.EventSubscriptionRenewed) {
			t.Errorf("expected created and renewed events, got %v", h.events.types())
		}
	})

	t.Run("should start a trial without charging", func(t *testing.T) {
		h := newHarness(t)
		link := h.subscriptionLink(t, 7, 0)
		sub, res, err := h.billing.Subscribe(ctx, link.ID, subscriber, "0xignored")
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		if res != nil {
			t.Errorf("expected no charge during a trial, got %+v", res)
		}
		if sub.Status != model.SubscriptionStatusTrialing || sub.TrialEnd == nil {
			t.Fatalf("expected trialing, got %+v", sub)
		}
		if h.chain.Calls() != 0 {
			t.Errorf("expected no provider call, got %d", h.chain.Calls())
		}
		if ok, _ := h.billing.HasAccess(ctx, link.ID, subscriber); !ok {
			t.Error("expected access during the trial")
		}
	})

	t.Run("should refuse a second subscription for the same address", func(t *testing.T) {
		h := newHarness(t)
		link := h.subscriptionLink(t, 0, 0)
		h.subscribePaid(t, link, "0xs1")
		if _, _, err := h.billing.Subscribe(ctx, link.ID, subscriber, ""); !errors.Is(err, domain.ErrAlreadyExists) {
			t.Errorf("expected ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("should treat hex addresses in any casing as one subscriber", func(t *testing.T) {
		h := newHarness(t)
		link := h.subscriptionLink(t, 0, 0)
		lower := "0xabcdef0000000000000000000000000000000001"
		upper := "0xABCDEF0000000000000000000000000000000001"
		sub, _, err := h.billing.Subscribe(ctx, link.ID, upper, "")
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		if sub.SubscriberAddress != lower {
			t.Errorf("expected the normalized address, got %s", sub.SubscriberAddress)
		}
		if _, _, err := h.billing.Subscribe(ctx, link.ID, lower, ""); !errors.Is(err, domain.ErrAlreadyExists) {
			t.Errorf("expected ErrAlreadyExists, got %v", err)
		}
		if all, _ := h.billing.List(ctx, link.ID, 10, 0); len(all) != 1 {
			t.Errorf("expected one subscription, got %d", len(all))
		}
		got, err := h.billing.GetByAddress(ctx, link.ID, "0xAbCdEf0000000000000000000000000000000001")
		if err != nil || got.ID != sub.ID {
			t.Errorf("expected lookup in another casing to find %s, got %+v %v", sub.ID, got, err)
		}
		if ok, _ := h.billing.HasAccess(ctx, link.ID, upper); !ok {
			t.Error("expected access for the same address in another casing")
		}
	})

	t.Run("should refuse one-time links", func(t *testing.T) {
		h := newHarness(t)
		link := h.createLink(t, nil)
		if _, _, err := h.billing.Subscribe(ctx, link.ID, subscriber, ""); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("should refuse disabled links", func(t *testing.T) {
		h := newHarness(t)
		link := h.subscriptionLink(t, 0, 0)
		_, _ = h.link.Disable(ctx, link.ID)
		if _, _, err := h.billing.Subscribe(ctx, link.ID, subscriber, ""); !errors.Is(err, domain.ErrLinkUnavailable) {
			t.Errorf("expected ErrLinkUnavailable, got %v", err)
		}
	})

	t.Run("should create an unpaid subscription without a reference", func(t *testing.T) {
		h := newHarness(t)
		link := h.subscriptionLink(t, 0, 0)
		sub, res, err := h.billing.Subscribe(ctx, link.ID, subscriber, "")
		if err != nil || res != nil || sub.CycleCount != 0 {
			t.Fatalf("unexpected subscribe result %+v %+v %v", sub, res, err)
		}
		if ok, _ := h.billing.HasAccess(ctx, link.ID, subscriber); !ok {
			t.Error("a fresh active subscription grants access")
		}
	})
}

func TestBillingUseCase_SubmitCharge(t *testing.T) {
	ctx := context.Background()

	t.Run("should park a pending reference and renew it on the next sweep", func(t *testing.T) {
		h := newHarness(t)
		link := h.subscriptionLink(t, 0, 3)
		sub := h.subscribePaid(t, link, "0xs1")
		h.clock = sub.NextPaymentDue

		h.chain.Settle("0xs2", "0.001", "ETH", testRecipient, 1)
		got, res, err := h.billing.SubmitCharge(ctx, sub.ID, "0xS2")
		if err != nil || res.Status != model.ConfirmStatusPending {
			t.Fatalf("expected pending, got %+v %v", res, err)
		}
		if got.PendingTxRef == nil || *got.PendingTxRef != "0xs2" {
			t.Fatalf("expected parked reference, got %+v", got.PendingTxRef)
		}

		h.settle("0xs2")
		report, err := h.billing.ProcessDue(ctx, h.now())
		if err != nil {
			t.Fatalf("process due: %v", err)
		}
		if report.Scanned != 1 || report.Renewed != 1 {
			t.Errorf("unexpected report %+v", report)
		}
		stored, _ := h.billing.Get(ctx, sub.ID)
		want := time.Date(2026, 3, 31, 10, 0, 0, 0, time.UTC)
		if stored.CycleCount != 2 || !stored.NextPaymentDue.Equal(want) || stored.PendingTxRef != nil {
			t.Errorf("expected cycle 2 due %s, got %d %s %v", want, stored.CycleCount, stored.NextPaymentDue, stored.PendingTxRef)
		}
	})

	t.Run("should accept an early payment for the next cycle", func(t *testing.T) {
		h := newHarness(t)
		link := h.subscriptionLink(t, 0, 0)
		sub := h.subscribePaid(t, link, "0xs1")
		h.advance(10 * 24 * time.Hour)
		h.settle("0xs2")
		got, res, err := h.billing.SubmitCharge(ctx, sub.ID, "0xs2")
		if err != nil || res.Status != model.ConfirmStatusConfirmed {
			t.Fatalf("expected confirmed, got %+v %v", res, err)
		}
		if got.CycleCount != 2 {
			t.Errorf("expected cycle 2, got %d", got.CycleCount)
		}
	})

	t.Run("should move a due subscription to past due on a failed charge", func(t *testing.T) {
		h := newHarness(t)
		link := h.subscriptionLink(t, 0, 3)
		sub := h.subscribePaid(t, link, "0xs1")
		h.clock = sub.NextPaymentDue

		h.chain.Settle("0xbad", "0.0001", "ETH", testRecipient, testThreshold)
		got, res, err := h.billing.SubmitCharge(ctx, sub.ID, "0xbad")
		if err != nil || res.Status != model.ConfirmStatusFailed || res.Reason != string(domain.ReasonAmountMismatch) {
			t.Fatalf("expected failed amount-mismatch, got %+v %v", res, err)
		}
		if got.Status != model.SubscriptionStatusPastDue {
			t.Errorf("expected past_due, got %s", got.Status)
		}
		if !h.events.has(model.EventSubscriptionPastDue) {
			t.Error("expected subscription.past_due event")
		}
		if ok, _ := h.billing.HasAccess(ctx, link.ID, subscriber); !ok {
			t.Error("expected access within the grace period")
		}

		h.advance(4 * 24 * time.Hour)
		if ok, _ := h.billing.HasAccess(ctx, link.ID, subscriber); ok {
			t.Error("expected no access after the grace period")
		}
		if _, err := h.billing.ProcessDue(ctx, h.now()); err != nil {
			t.Fatalf("process due: %v", err)
		}
		stored, _ := h.billing.Get(ctx, sub.ID)
		if stored.Status != model.SubscriptionStatusPastDue {
			t.Errorf("expected the subscription to stay past_due, got %s", stored.Status)
		}

		h.settle("0xlate")
		got, res, _ = h.billing.SubmitCharge(ctx, sub.ID, "0xlate")
		if res.Status != model.ConfirmStatusConfirmed || got.Status != model.SubscriptionStatusActive || got.CycleCount != 2 {
			t.Errorf("expected a late payment to reactivate, got %+v %+v", res, got)
		}
	})

	t.Run("should not set back a subscription for a bad early payment", func(t *testing.T) {
		h := newHarness(t)
		link := h.subscriptionLink(t, 0, 0)
		sub := h.subscribePaid(t, link, "0xs1")
		h.advance(24 * time.Hour)
		h.chain.Settle("0xbad", "0.001", "ETH", "0xBBB", testThreshold)
		got, res, _ := h.billing.SubmitCharge(ctx, sub.ID, "0xbad")
		if res.Reason != string(domain.ReasonRecipientMismatch) || got.Status != model.SubscriptionStatusActive {
			t.Errorf("expected recipient-mismatch on an active subscription, got %+v %s", res, got.Status)
		}
	})

	t.Run("should reject a reference already used by an earlier cycle", func(t *testing.T) {
		h := newHarness(t)
		link := h.subscriptionLink(t, 0, 0)
		sub := h.subscribePaid(t, link, "0xs1")
		h.clock = sub.NextPaymentDue
		calls := h.chain.Calls()
		_, res, err := h.billing.SubmitCharge(ctx, sub.ID, "0xs1")
		if err != nil || res.Reason != string(domain.ReasonDuplicateTransaction) {
			t.Errorf("expected duplicate-transaction, got %+v %v", res, err)
		}
		if h.chain.Calls() != calls {
			t.Error("expected no provider call for a reused reference")
		}
	})

	t.Run("should refuse charges outside active and past due", func(t *testing.T) {
		h := newHarness(t)
		link := h.subscriptionLink(t, 0, 0)
		sub := h.subscribePaid(t, link, "0xs1")
		_, _ = h.billing.Pause(ctx, sub.ID)
		if _, _, err := h.billing.SubmitCharge(ctx, sub.ID, "0xs2"); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
		if _, _, err := h.billing.SubmitCharge(ctx, sub.ID, ""); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("should leave the subscription untouched when the write fails", func(t *testing.T) {
		h := newHarness(t)
		link := h.subscriptionLink(t, 0, 0)
		sub := h.subscribePaid(t, link, "0xs1")
		boom := errors.New("tx aborted")
		h.txm.WithTxFunc = func(context.Context, func(context.Context, repository.Tx) error) error { return boom }
		h.settle("0xs2")
		if _, _, err := h.billing.SubmitCharge(ctx, sub.ID, "0xs2"); !errors.Is(err, boom) {
			t.Errorf("expected tx error, got %v", err)
		}
		stored, _ := h.billing.Get(ctx, sub.ID)
		if stored.CycleCount != 1 {
			t.Errorf("expected cycle count 1, got %d", stored.CycleCount)
		}
	})
}

func TestBillingUseCase_ProcessDue(t *testing.T) {
	ctx := context.Background()

	t.Run("should promote an ended trial and mark it past due when unpaid", func(t *testing.T) {
		h := newHarness(t)
		link := h.subscriptionLink(t, 7, 2)
		sub, _, _ := h.billing.Subscribe(ctx, link.ID, subscriber, "")
		h.advance(7 * 24 * time.Hour)

		report, err := h.billing.ProcessDue(ctx, h.now())
		if err != nil {
			t.Fatalf("process due: %v", err)
		}
		if report.Promoted != 1 || report.PastDue != 1 {
			t.Errorf("unexpected report %+v", report)
		}
		stored, _ := h.billing.Get(ctx, sub.ID)
		if stored.Status != model.SubscriptionStatusPastDue {
			t.Errorf("expected past_due, got %s", stored.Status)
		}
	})

	t.Run("should skip subscriptions that are not due", func(t *testing.T) {
		h := newHarness(t)
		link := h.subscriptionLink(t, 0, 0)
		h.subscribePaid(t, link, "0xs1")
		report, _ := h.billing.ProcessDue(ctx, h.now())
		if report.Scanned != 0 {
			t.Errorf("expected nothing to scan, got %+v", report)
		}
	})

	t.Run("should count per-subscription errors and keep going", func(t *testing.T) {
		h := newHarness(t)
		link := h.subscriptionLink(t, 0, 0)
		a := h.subscribePaid(t, link, "0xs1")
		other := h.subscriptionLink(t, 0, 0)
		h.settle("0xs2")
		if _, _, err := h.billing.Subscribe(ctx, other.ID, "0xOTHER", "0xs2"); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		h.clock = a.NextPaymentDue

		boom := errors.New("write failed")
		h.subs.UpdateFunc = func(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
			if s.ID == a.ID {
				return boom
			}
			return h.subs.SubscriptionRepo.Update(ctx, tx, s)
		}
		report, err := h.billing.ProcessDue(ctx, h.now())
		if err != nil {
			t.Fatalf("process due: %v", err)
		}
		if report.Scanned != 2 || report.Errors != 1 || report.PastDue != 1 {
			t.Errorf("unexpected report %+v", report)
		}
	})
}

func TestBillingUseCase_Transitions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	link := h.subscriptionLink(t, 0, 0)
	sub := h.subscribePaid(t, link, "0xs1")

	if _, err := h.billing.Resume(ctx, sub.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("resume of an active subscription: expected ErrInvalidTransition, got %v", err)
	}
	got, err := h.billing.Pause(ctx, sub.ID)
	if err != nil || got.Status != model.SubscriptionStatusPaused {
		t.Fatalf("pause: %+v %v", got, err)
	}
	if ok, _ := h.billing.HasAccess(ctx, link.ID, subscriber); ok {
		t.Error("paused subscriptions have no access")
	}
	if _, err := h.billing.Pause(ctx, sub.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("second pause: expected ErrInvalidTransition, got %v", err)
	}
	if got, err = h.billing.Resume(ctx, sub.ID); err != nil || got.Status != model.SubscriptionStatusActive {
		t.Fatalf("resume: %+v %v", got, err)
	}
	if got, err = h.billing.Cancel(ctx, sub.ID); err != nil || got.CanceledAt == nil {
		t.Fatalf("cancel: %+v %v", got, err)
	}
	for name, op := range map[string]func(context.Context, string) (*model.Subscription, error){
		"resume": h.billing.Resume, "pause": h.billing.Pause, "cancel": h.billing.Cancel,
	} {
		if _, err := op(ctx, sub.ID); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("%s after cancel: expected ErrInvalidTransition, got %v", name, err)
		}
	}
	for _, want := range []model.EventType{model.EventSubscriptionPaused, model.EventSubscriptionResumed, model.EventSubscriptionCanceled} {
		if !h.events.has(want) {
			t.Errorf("expected %s event", want)
		}
	}
	counts, _ := h.billing.CountByStatus(ctx)
	if counts[model.SubscriptionStatusCanceled] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}
}

func TestBillingUseCase_EvaluateSubscriber(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	link := h.subscriptionLink(t, 0, 0)
	h.subscribePaid(t, link, "0xs1")

	t.Run("should redirect an active subscriber and count the use", func(t *testing.T) {
		d, err := h.billing.EvaluateSubscriber(ctx, link.ID, subscriber)
		if err != nil || d.Kind != model.AccessRedirect || d.TargetURL != testTarget {
			t.Fatalf("expected redirect, got %+v %v", d, err)
		}
		if d.Link.UsedCount != 1 {
			t.Errorf("expected usedCount 1, got %d", d.Link.UsedCount)
		}
	})

	t.Run("should ask unknown addresses to pay", func(t *testing.T) {
		d, _ := h.billing.EvaluateSubscriber(ctx, link.ID, "0xSTRANGER")
		if d.Kind != model.AccessPaymentRequired {
			t.Errorf("expected payment required, got %s", d.Kind)
		}
	})

	t.Run("should report unknown links", func(t *testing.T) {
		d, _ := h.billing.EvaluateSubscriber(ctx, "missing1", subscriber)
		if d.Kind != model.AccessNotFound {
			t.Errorf("expected not found, got %s", d.Kind)
		}
	})

	t.Run("should apply the link gate before subscription access", func(t *testing.T) {
		_, _ = h.link.Disable(ctx, link.ID)
		d, _ := h.billing.EvaluateSubscriber(ctx, link.ID, subscriber)
		if d.Kind != model.AccessForbidden || d.Reason != model.ReasonLinkDisabled {
			t.Errorf("expected link disabled, got %s %s", d.Kind, d.Reason)
		}
	})
}

// File: internal/usecase/billing_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"payportal/internal/domain"
	"payportal/internal/domain/model"
	"payportal/internal/domain/ports/adapter"
	"payportal/internal/domain/ports/repository"
	ucport "payportal/internal/domain/ports/usecase"
)

// Compile-time check
var (
	_ BillingUseCase          = (*billingUC)(nil)
	_ ucport.BillingProcessor = (*billingUC)(nil)
)

// BillingUseCase is the recurring subscription engine.
type BillingUseCase interface {
	// Subscribe starts a subscription for address on a subscription link.
	// When the subscription is due at once and txRef is given, the first
	// cycle is charged immediately and its result returned.
	Subscribe(ctx context.Context, linkID, address, txRef string) (*model.Subscription, *model.ConfirmResult, error)
	// SubmitCharge verifies txRef as the next cycle's payment, or parks it for
	// the billing sweep while it is unconfirmed.
	SubmitCharge(ctx context.Context, subscriptionID, txRef string) (*model.Subscription, model.ConfirmResult, error)
	// ProcessDue is one billing sweep over subscriptions due at now.
	ProcessDue(ctx context.Context, now time.Time) (ucport.BillingReport, error)
	ListDue(ctx context.Context, before time.Time, limit int) ([]*model.Subscription, error)

	Pause(ctx context.Context, id string) (*model.Subscription, error)
	Resume(ctx context.Context, id string) (*model.Subscription, error)
	Cancel(ctx context.Context, id string) (*model.Subscription, error)

	Get(ctx context.Context, id string) (*model.Subscription, error)
	GetByAddress(ctx context.Context, linkID, address string) (*model.Subscription, error)
	List(ctx context.Context, linkID string, limit, offset int) ([]*model.Subscription, error)
	CountByStatus(ctx context.Context) (map[model.SubscriptionStatus]int, error)

	HasAccess(ctx context.Context, linkID, address string) (bool, error)
	// EvaluateSubscriber is the link access decision for a subscriber. A
	// redirect consumes one use of the link.
	EvaluateSubscriber(ctx context.Context, linkID, address string) (model.AccessDecision, error)
}

type billingUC struct {
	links     repository.PaymentLinkRepository
	payments  repository.PaymentRepository
	subs      repository.SubscriptionRepository
	txm       repository.TransactionManager
	verifier  VerificationUseCase
	locker    adapter.Locker
	events    adapter.EventPublisher
	batchSize int
	log       *zerolog.Logger
	now       func() time.Time
}

func NewBillingUseCase(
	links repository.PaymentLinkRepository,
	payments repository.PaymentRepository,
	subs repository.SubscriptionRepository,
	txm repository.TransactionManager,
	verifier VerificationUseCase,
	locker adapter.Locker,
	events adapter.EventPublisher,
	batchSize int,
	logger *zerolog.Logger,
) *billingUC {
	if events == nil {
		events = adapter.NopPublisher{}
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	lg := logger.With().Str("component", "BillingUC").Logger()
	return &billingUC{
		links:     links,
		payments:  payments,
		subs:      subs,
		txm:       txm,
		verifier:  verifier,
		locker:    locker,
		events:    events,
		batchSize: batchSize,
		log:       &lg,
		now:       time.Now,
	}
}

func (u *billingUC) Subscribe(ctx context.Context, linkID, address, txRef string) (*model.Subscription, *model.ConfirmResult, error) {
	link, err := u.links.FindByID(ctx, repository.NoTX, linkID)
	if err != nil {
		return nil, nil, err
	}
	now := u.now()
	if d, blocked := gate(link, now); blocked {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrLinkUnavailable, d.Reason)
	}
	sub, err := model.NewSubscription(link, address, now)
	if err != nil {
		return nil, nil, err
	}

	unlock, err := u.locker.Lock(ctx, subLockKey(linkID+":"+sub.SubscriberAddress))
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	if _, err := u.subs.FindByAddress(ctx, repository.NoTX, linkID, sub.SubscriberAddress); err == nil {
		return nil, nil, fmt.Errorf("%w: subscription for %s", domain.ErrAlreadyExists, sub.SubscriberAddress)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, nil, err
	}
	if err := u.subs.Insert(ctx, repository.NoTX, sub); err != nil {
		return nil, nil, err
	}
	u.log.Info().Str("subscription_id", sub.ID).Str("link_id", linkID).Str("status", string(sub.Status)).Msg("subscription created")
	u.publish(ctx, model.EventSubscriptionCreated, link, sub, now)

	if txRef == "" || !sub.IsPaymentDue(now) {
		return sub, nil, nil
	}
	res, err := u.charge(ctx, sub, link, txRef, now)
	if err != nil {
		return nil, nil, err
	}
	return sub, &res, nil
}

func (u *billingUC) SubmitCharge(ctx context.Context, subscriptionID, txRef string) (*model.Subscription, model.ConfirmResult, error) {
	if model.NormalizeTxRef(txRef) == "" {
		return nil, model.ConfirmResult{}, fmt.Errorf("%w: transaction reference is required", domain.ErrInvalidArgument)
	}
	unlock, err := u.locker.Lock(ctx, subLockKey(subscriptionID))
	if err != nil {
		return nil, model.ConfirmResult{}, err
	}
	defer unlock()

	sub, err := u.subs.FindByID(ctx, repository.NoTX, subscriptionID)
	if err != nil {
		return nil, model.ConfirmResult{}, err
	}
	if sub.Status != model.SubscriptionStatusActive && sub.Status != model.SubscriptionStatusPastDue {
		return nil, model.ConfirmResult{}, fmt.Errorf("%w: cannot charge a %s subscription", domain.ErrInvalidTransition, sub.Status)
	}
	link, err := u.links.FindByID(ctx, repository.NoTX, sub.PaymentLinkID)
	if err != nil {
		return nil, model.ConfirmResult{}, err
	}
	res, err := u.charge(ctx, sub, link, txRef, u.now())
	if err != nil {
		return nil, model.ConfirmResult{}, err
	}
	return sub, res, nil
}

func (u *billingUC) ProcessDue(ctx context.Context, now time.Time) (ucport.BillingReport, error) {
	var report ucport.BillingReport
	due, err := u.subs.ListDue(ctx, repository.NoTX, now, u.batchSize)
	if err != nil {
		return report, err
	}
	for _, s := range due {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Scanned++
		if err := u.processOne(ctx, s.ID, now, &report); err != nil {
			report.Errors++
			u.log.Error().Err(err).Str("subscription_id", s.ID).Msg("billing evaluation failed")
		}
	}
	return report, nil
}

// processOne evaluates a single due subscription under its lock.
func (u *billingUC) processOne(ctx context.Context, id string, now time.Time, report *ucport.BillingReport) error {
	unlock, err := u.locker.Lock(ctx, subLockKey(id))
	if err != nil {
		return err
	}
	defer unlock()

	// reload: the row may have moved since the scan
	sub, err := u.subs.FindByID(ctx, repository.NoTX, id)
	if err != nil {
		return err
	}
	link, err := u.links.FindByID(ctx, repository.NoTX, sub.PaymentLinkID)
	if err != nil {
		return fmt.Errorf("load link %s: %w", sub.PaymentLinkID, err)
	}

	if sub.Status == model.SubscriptionStatusTrialing && !sub.IsInTrialPeriod(now) {
		if err := sub.TransitionTo(model.SubscriptionStatusActive, now); err != nil {
			return err
		}
		if err := u.subs.Update(ctx, repository.NoTX, sub); err != nil {
			return err
		}
		report.Promoted++
		u.log.Info().Str("subscription_id", sub.ID).Msg("trial ended")
	}
	if !sub.IsPaymentDue(now) {
		return nil
	}

	if sub.PendingTxRef != nil {
		res, err := u.charge(ctx, sub, link, *sub.PendingTxRef, now)
		if err != nil {
			return err
		}
		switch res.Status {
		case model.ConfirmStatusConfirmed:
			report.Renewed++
		case model.ConfirmStatusPending:
			report.Pending++
		default:
			report.PastDue++
		}
		return nil
	}

	// nothing submitted for this cycle
	if sub.Status == model.SubscriptionStatusPastDue {
		// no auto-cancel; an operator decides once grace has elapsed
		if !sub.IsWithinGracePeriod(now) {
			u.log.Debug().Str("subscription_id", sub.ID).Msg("grace period elapsed")
		}
		return nil
	}
	if err := sub.RecordMissedCharge(now); err != nil {
		return err
	}
	if err := u.subs.Update(ctx, repository.NoTX, sub); err != nil {
		return err
	}
	report.PastDue++
	u.log.Info().Str("subscription_id", sub.ID).Time("due", sub.NextPaymentDue).Msg("subscription past due")
	u.publish(ctx, model.EventSubscriptionPastDue, link, sub, now)
	return nil
}

// charge resolves txRef as the payment of sub's next cycle and applies the
// result to sub. The caller holds the subscription lock.
func (u *billingUC) charge(ctx context.Context, sub *model.Subscription, link *model.PaymentLink, txRef string, now time.Time) (model.ConfirmResult, error) {
	ref := model.NormalizeTxRef(txRef)
	unlockTx, err := u.locker.Lock(ctx, txLockKey(ref))
	if err != nil {
		return model.ConfirmResult{}, err
	}
	defer unlockTx()

	out, err := u.verifier.Resolve(ctx, link.Price.ChainID, ref, TermsOf(link), sub.ChargeKey())
	if err != nil {
		return model.ConfirmResult{}, err
	}

	var (
		res       model.ConfirmResult
		payEvent  *model.Event
		subEvent  model.EventType
		wasStatus = sub.Status
	)
	target := chargeTarget{link: link, subID: &sub.ID, cycle: sub.NextCycle()}
	err = u.txm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		res, payEvent, err = recordOutcome(ctx, tx, u.payments, u.log, out, target, now)
		if err != nil {
			return err
		}
		switch res.Status {
		case model.ConfirmStatusConfirmed:
			if err := sub.RecordCharge(now); err != nil {
				return err
			}
			subEvent = model.EventSubscriptionRenewed
		case model.ConfirmStatusPending:
			sub.PendingTxRef = &ref
			sub.UpdatedAt = now
		default:
			if !sub.IsPaymentDue(now) {
				// a bad early payment does not put the subscription behind
				sub.PendingTxRef = nil
				sub.UpdatedAt = now
				break
			}
			if err := sub.RecordMissedCharge(now); err != nil {
				return err
			}
			if wasStatus != model.SubscriptionStatusPastDue {
				subEvent = model.EventSubscriptionPastDue
			}
		}
		return u.subs.Update(ctx, tx, sub)
	})
	if err != nil {
		return model.ConfirmResult{}, err
	}

	if payEvent != nil {
		u.events.Publish(ctx, *payEvent)
	}
	if subEvent != "" {
		u.log.Info().Str("subscription_id", sub.ID).Str("event", string(subEvent)).Int("cycle", sub.CycleCount).Msg("subscription billed")
		u.publish(ctx, subEvent, link, sub, now)
	}
	return res, nil
}

func (u *billingUC) ListDue(ctx context.Context, before time.Time, limit int) ([]*model.Subscription, error) {
	if limit <= 0 {
		limit = u.batchSize
	}
	return u.subs.ListDue(ctx, repository.NoTX, before, limit)
}

func (u *billingUC) Pause(ctx context.Context, id string) (*model.Subscription, error) {
	return u.transition(ctx, id, model.SubscriptionStatusPaused)
}

func (u *billingUC) Resume(ctx context.Context, id string) (*model.Subscription, error) {
	return u.transition(ctx, id, model.SubscriptionStatusActive)
}

func (u *billingUC) Cancel(ctx context.Context, id string) (*model.Subscription, error) {
	return u.transition(ctx, id, model.SubscriptionStatusCanceled)
}

func (u *billingUC) transition(ctx context.Context, id string, to model.SubscriptionStatus) (*model.Subscription, error) {
	unlock, err := u.locker.Lock(ctx, subLockKey(id))
	if err != nil {
		return nil, err
	}
	defer unlock()

	sub, err := u.subs.FindByID(ctx, repository.NoTX, id)
	if err != nil {
		return nil, err
	}
	// resume is the only way back to active and only from paused
	if to == model.SubscriptionStatusActive && sub.Status != model.SubscriptionStatusPaused {
		return nil, fmt.Errorf("%w: cannot resume a %s subscription", domain.ErrInvalidTransition, sub.Status)
	}
	now := u.now()
	if err := sub.TransitionTo(to, now); err != nil {
		return nil, err
	}
	if err := u.subs.Update(ctx, repository.NoTX, sub); err != nil {
		return nil, err
	}
	u.log.Info().Str("subscription_id", id).Str("status", string(to)).Msg("subscription status changed")

	link, err := u.links.FindByID(ctx, repository.NoTX, sub.PaymentLinkID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	u.publish(ctx, model.SubscriptionEvent(to), link, sub, now)
	return sub, nil
}

func (u *billingUC) Get(ctx context.Context, id string) (*model.Subscription, error) {
	return u.subs.FindByID(ctx, repository.NoTX, id)
}

func (u *billingUC) GetByAddress(ctx context.Context, linkID, address string) (*model.Subscription, error) {
	return u.subs.FindByAddress(ctx, repository.NoTX, linkID, model.NormalizeAddress(address))
}

func (u *billingUC) List(ctx context.Context, linkID string, limit, offset int) ([]*model.Subscription, error) {
	if linkID != "" {
		return u.subs.ListByLink(ctx, repository.NoTX, linkID)
	}
	return u.subs.List(ctx, repository.NoTX, limit, offset)
}

func (u *billingUC) CountByStatus(ctx context.Context) (map[model.SubscriptionStatus]int, error) {
	return u.subs.CountByStatus(ctx, repository.NoTX)
}

func (u *billingUC) HasAccess(ctx context.Context, linkID, address string) (bool, error) {
	sub, err := u.subs.FindByAddress(ctx, repository.NoTX, linkID, model.NormalizeAddress(address))
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return sub.HasAccess(u.now()), nil
}

func (u *billingUC) EvaluateSubscriber(ctx context.Context, linkID, address string) (model.AccessDecision, error) {
	link, err := u.links.FindByID(ctx, repository.NoTX, linkID)
	if errors.Is(err, domain.ErrNotFound) {
		return model.AccessDecision{Kind: model.AccessNotFound}, nil
	}
	if err != nil {
		return model.AccessDecision{}, err
	}
	now := u.now()
	if d, blocked := gate(link, now); blocked {
		return d, nil
	}
	ok, err := u.HasAccess(ctx, linkID, address)
	if err != nil {
		return model.AccessDecision{}, err
	}
	if !ok {
		return model.AccessDecision{Kind: model.AccessPaymentRequired, Link: link}, nil
	}
	return consumeUse(ctx, u.links, link, now)
}

func (u *billingUC) publish(ctx context.Context, t model.EventType, link *model.PaymentLink, sub *model.Subscription, now time.Time) {
	e := model.NewEvent(t, now)
	cp := *sub
	e.Link, e.Subscription = link, &cp
	u.events.Publish(ctx, e)
}

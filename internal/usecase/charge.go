// File: internal/usecase/charge.go
package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"payportal/internal/domain"
	"payportal/internal/domain/model"
	"payportal/internal/domain/ports/repository"
)

func linkLockKey(id string) string { return "link:" + id }
func txLockKey(ref string) string { return "tx:" + ref }
func subLockKey(id string) string { return "sub:" + id }

// gate applies the fixed precedence disabled > expired > usage-limit.
// blocked is false when the link may proceed to the paid/unpaid check.
func gate(link *model.PaymentLink, now time.Time) (d model.AccessDecision, blocked bool) {
	forbid := func(r model.ReasonCode) (model.AccessDecision, bool) {
		return model.AccessDecision{Kind: model.AccessForbidden, Reason: r, Link: link}, true
	}
	switch {
	case link.Status == model.LinkStatusDisabled:
		return forbid(model.ReasonLinkDisabled)
	case link.IsExpired(now):
		return forbid(model.ReasonLinkExpired)
	case link.IsLimitReached():
		return forbid(model.ReasonLinkUsageLimitReached)
	}
	return model.AccessDecision{}, false
}

// consumeUse counts one redirect against the link. A concurrent access that
// used the last slot first turns this one into a usage-limit refusal.
func consumeUse(ctx context.Context, links repository.PaymentLinkRepository, link *model.PaymentLink, now time.Time) (model.AccessDecision, error) {
	updated, err := links.IncrementUsage(ctx, repository.NoTX, link.ID, now)
	if errors.Is(err, domain.ErrUsageLimitReached) {
		return model.AccessDecision{Kind: model.AccessForbidden, Reason: model.ReasonLinkUsageLimitReached, Link: link}, nil
	}
	if err != nil {
		return model.AccessDecision{}, err
	}
	return model.AccessDecision{Kind: model.AccessRedirect, TargetURL: updated.TargetURL, Link: updated}, nil
}

// chargeTarget is what a payment settles: the single charge of a link, or
// one cycle of a subscription when subID is set.
type chargeTarget struct {
	link  *model.PaymentLink
	subID *string
	cycle int
}

// recordOutcome persists a terminal outcome and returns the event to publish
// once the surrounding transaction commits. Pending outcomes are not persisted.
func recordOutcome(
	ctx context.Context,
	tx repository.Tx,
	payments repository.PaymentRepository,
	log *zerolog.Logger,
	out Outcome,
	target chargeTarget,
	now time.Time,
) (model.ConfirmResult, *model.Event, error) {
	link := target.link
	switch out.Kind {
	case OutcomePending:
		return model.ConfirmResult{Status: model.ConfirmStatusPending, Message: "Transaction is not confirmed yet"}, nil, nil

	case OutcomeConfirmed:
		if out.Existing != nil && out.Existing.Confirmed {
			return model.ConfirmResult{Status: model.ConfirmStatusConfirmed, Payment: out.Existing}, nil, nil
		}
		var p *model.Payment
		if out.Existing != nil {
			if err := payments.MarkConfirmed(ctx, tx, out.Existing.ID, out.Payer, out.Amount, out.TokenSymbol, now); err != nil {
				return model.ConfirmResult{}, nil, err
			}
			cp := *out.Existing
			p = &cp
			p.Confirmed = true
			p.PayerAddress = out.Payer
			p.Amount = out.Amount
			p.TokenSymbol = out.TokenSymbol
			p.FailureReason = ""
			p.ConfirmedAt = &now
		} else {
			p = newPayment(target, out, now)
			p.Confirmed = true
			p.ConfirmedAt = &now
			if err := payments.Insert(ctx, tx, p); err != nil {
				if errors.Is(err, domain.ErrDuplicateTransaction) {
					// lost a race with another process for the same reference
					return failedResult(domain.ReasonDuplicateTransaction), nil, nil
				}
				return model.ConfirmResult{}, nil, err
			}
		}
		log.Info().Str("link_id", link.ID).Str("payment_id", p.ID).Str("tx_ref", p.TxRef).Msg("payment confirmed")
		e := model.NewEvent(model.EventPaymentConfirmed, now)
		e.Link, e.Payment = link, p
		return model.ConfirmResult{Status: model.ConfirmStatusConfirmed, Payment: p}, &e, nil

	default:
		// a duplicate reference is owned by another charge and cannot be
		// recorded twice; an existing row of this charge is the audit already
		if out.Reason != domain.ReasonDuplicateTransaction && out.Existing == nil {
			p := newPayment(target, out, now)
			p.FailureReason = string(out.Reason)
			if err := payments.Insert(ctx, tx, p); err != nil && !errors.Is(err, domain.ErrDuplicateTransaction) {
				return model.ConfirmResult{}, nil, err
			}
		}
		log.Info().Str("link_id", link.ID).Str("tx_ref", out.TxRef).Str("reason", string(out.Reason)).Msg("payment verification failed")
		e := model.NewEvent(model.EventPaymentFailed, now)
		e.Link, e.Reason = link, string(out.Reason)
		return failedResult(out.Reason), &e, nil
	}
}

func failedResult(reason domain.VerificationReason) model.ConfirmResult {
	return model.ConfirmResult{Status: model.ConfirmStatusFailed, Reason: string(reason), Message: reason.Message()}
}

func newPayment(target chargeTarget, out Outcome, now time.Time) *model.Payment {
	return &model.Payment{
		ID:             ulid.Make().String(),
		PaymentLinkID:  target.link.ID,
		ChainID:        target.link.Price.ChainID,
		TxRef:          out.TxRef,
		PayerAddress:   out.Payer,
		Amount:         out.Amount,
		TokenSymbol:    out.TokenSymbol,
		CreatedAt:      now,
		SubscriptionID: target.subID,
		Cycle:          target.cycle,
	}
}

// File: internal/usecase/link_uc.go
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
	"payportal/internal/domain/protocol"
)

// Compile-time check
var _ LinkUseCase = (*linkUC)(nil)

// LinkUseCase is the payment link lifecycle engine.
type LinkUseCase interface {
	Create(ctx context.Context, in model.CreatePaymentLinkInput) (*model.PaymentLink, error)
	Get(ctx context.Context, id string) (*model.PaymentLink, error)
	List(ctx context.Context, limit, offset int) ([]*model.PaymentLink, error)
	// Disable is irreversible.
	Disable(ctx context.Context, id string) (*model.PaymentLink, error)
	Delete(ctx context.Context, id string) error

	// Evaluate decides one access request. A redirect consumes one use.
	Evaluate(ctx context.Context, id string) (model.AccessDecision, error)
	// GetStatus projects the same decision without consuming a use.
	GetStatus(ctx context.Context, id string) (model.LinkStatusResult, error)
	// ConfirmPayment verifies txRef as the payment of link id.
	ConfirmPayment(ctx context.Context, id, txRef string) (model.ConfirmResult, error)
	// PaymentRequired renders the 402 body for a link.
	PaymentRequired(link *model.PaymentLink) (*protocol.PaymentRequired, error)

	ListPayments(ctx context.Context, linkID string, limit, offset int) ([]*model.Payment, error)
}

type linkUC struct {
	links    repository.PaymentLinkRepository
	payments repository.PaymentRepository
	verifier VerificationUseCase
	locker   adapter.Locker
	events   adapter.EventPublisher
	proto    protocol.Options
	log      *zerolog.Logger
	now      func() time.Time
}

func NewLinkUseCase(
	links repository.PaymentLinkRepository,
	payments repository.PaymentRepository,
	verifier VerificationUseCase,
	locker adapter.Locker,
	events adapter.EventPublisher,
	proto protocol.Options,
	logger *zerolog.Logger,
) *linkUC {
	if events == nil {
		events = adapter.NopPublisher{}
	}
	lg := logger.With().Str("component", "LinkUC").Logger()
	return &linkUC{
		links:    links,
		payments: payments,
		verifier: verifier,
		locker:   locker,
		events:   events,
		proto:    proto,
		log:      &lg,
		now:      time.Now,
	}
}

func (u *linkUC) Create(ctx context.Context, in model.CreatePaymentLinkInput) (*model.PaymentLink, error) {
	if !u.verifier.SupportsChain(in.Price.ChainID) {
		return nil, fmt.Errorf("%w: %d", domain.ErrUnsupportedChain, in.Price.ChainID)
	}
	now := u.now()
	link, err := model.NewPaymentLink(in, now)
	if err != nil {
		return nil, err
	}
	if err := u.links.Save(ctx, repository.NoTX, link); err != nil {
		return nil, err
	}
	u.log.Info().Str("link_id", link.ID).Int64("chain_id", link.Price.ChainID).Str("amount", link.Price.Amount).Msg("payment link created")

	e := model.NewEvent(model.EventLinkCreated, now)
	e.Link = link
	u.events.Publish(ctx, e)
	return link, nil
}

func (u *linkUC) Get(ctx context.Context, id string) (*model.PaymentLink, error) {
	return u.links.FindByID(ctx, repository.NoTX, id)
}

func (u *linkUC) List(ctx context.Context, limit, offset int) ([]*model.PaymentLink, error) {
	return u.links.List(ctx, repository.NoTX, limit, offset)
}

func (u *linkUC) Disable(ctx context.Context, id string) (*model.PaymentLink, error) {
	unlock, err := u.locker.Lock(ctx, linkLockKey(id))
	if err != nil {
		return nil, err
	}
	defer unlock()

	link, err := u.links.FindByID(ctx, repository.NoTX, id)
	if err != nil {
		return nil, err
	}
	if link.Status == model.LinkStatusDisabled {
		return link, nil
	}
	now := u.now()
	link.Status = model.LinkStatusDisabled
	link.UpdatedAt = now
	if err := u.links.Update(ctx, repository.NoTX, link); err != nil {
		return nil, err
	}
	u.log.Info().Str("link_id", id).Msg("payment link disabled")

	e := model.NewEvent(model.EventLinkDisabled, now)
	e.Link = link
	u.events.Publish(ctx, e)
	return link, nil
}

func (u *linkUC) Delete(ctx context.Context, id string) error {
	unlock, err := u.locker.Lock(ctx, linkLockKey(id))
	if err != nil {
		return err
	}
	defer unlock()
	return u.links.Delete(ctx, repository.NoTX, id)
}

func (u *linkUC) Evaluate(ctx context.Context, id string) (model.AccessDecision, error) {
	link, err := u.links.FindByID(ctx, repository.NoTX, id)
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

	paid, err := u.isPaid(ctx, link.ID)
	if err != nil {
		return model.AccessDecision{}, err
	}
	if !paid {
		return model.AccessDecision{Kind: model.AccessPaymentRequired, Link: link}, nil
	}
	return consumeUse(ctx, u.links, link, now)
}

func (u *linkUC) GetStatus(ctx context.Context, id string) (model.LinkStatusResult, error) {
	link, err := u.links.FindByID(ctx, repository.NoTX, id)
	if errors.Is(err, domain.ErrNotFound) {
		return model.LinkStatusResult{Status: model.LinkViewNotFound}, nil
	}
	if err != nil {
		return model.LinkStatusResult{}, err
	}
	if d, blocked := gate(link, u.now()); blocked {
		return model.LinkStatusResult{Status: model.LinkViewForbidden, Reason: d.Reason}, nil
	}
	paid, err := u.isPaid(ctx, link.ID)
	if err != nil {
		return model.LinkStatusResult{}, err
	}
	if paid {
		return model.LinkStatusResult{Status: model.LinkViewPaid}, nil
	}
	return model.LinkStatusResult{Status: model.LinkViewUnpaid}, nil
}

func (u *linkUC) ConfirmPayment(ctx context.Context, id, txRef string) (model.ConfirmResult, error) {
	ref := model.NormalizeTxRef(txRef)
	if ref == "" {
		return model.ConfirmResult{}, fmt.Errorf("%w: transaction reference is required", domain.ErrInvalidArgument)
	}

	unlock, err := u.locker.Lock(ctx, linkLockKey(id))
	if err != nil {
		return model.ConfirmResult{}, err
	}
	defer unlock()

	link, err := u.links.FindByID(ctx, repository.NoTX, id)
	if errors.Is(err, domain.ErrNotFound) {
		return model.ConfirmResult{Status: model.ConfirmStatusFailed, Message: "Payment link not found"}, nil
	}
	if err != nil {
		return model.ConfirmResult{}, err
	}
	if link.IsSubscription() {
		return model.ConfirmResult{Status: model.ConfirmStatusFailed, Message: "Payment link is billed as a subscription; subscribe instead"}, nil
	}
	if d, blocked := gate(link, u.now()); blocked {
		return model.ConfirmResult{Status: model.ConfirmStatusFailed, Reason: string(d.Reason), Message: protocol.ReasonMessage(d.Reason)}, nil
	}

	existing, err := u.payments.FindConfirmedForLink(ctx, repository.NoTX, link.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return model.ConfirmResult{}, err
	}
	if existing != nil && existing.TxRef != ref {
		// the single charge of this link is settled already
		return model.ConfirmResult{Status: model.ConfirmStatusConfirmed, Message: "Payment link is already paid", Payment: existing}, nil
	}

	unlockTx, err := u.locker.Lock(ctx, txLockKey(ref))
	if err != nil {
		return model.ConfirmResult{}, err
	}
	defer unlockTx()

	out, err := u.verifier.Resolve(ctx, link.Price.ChainID, ref, TermsOf(link), model.LinkChargeKey(link.ID))
	if err != nil {
		return model.ConfirmResult{}, err
	}
	res, ev, err := recordOutcome(ctx, repository.NoTX, u.payments, u.log, out, chargeTarget{link: link}, u.now())
	if err != nil {
		return model.ConfirmResult{}, err
	}
	if ev != nil {
		u.events.Publish(ctx, *ev)
	}
	return res, nil
}

func (u *linkUC) PaymentRequired(link *model.PaymentLink) (*protocol.PaymentRequired, error) {
	return protocol.BuildPaymentRequired(link, u.proto)
}

func (u *linkUC) ListPayments(ctx context.Context, linkID string, limit, offset int) ([]*model.Payment, error) {
	if linkID != "" {
		return u.payments.ListByLink(ctx, repository.NoTX, linkID)
	}
	return u.payments.List(ctx, repository.NoTX, limit, offset)
}

func (u *linkUC) isPaid(ctx context.Context, linkID string) (bool, error) {
	p, err := u.payments.FindConfirmedForLink(ctx, repository.NoTX, linkID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p != nil, nil
}

// File: internal/usecase/verification_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"payportal/internal/domain"
	"payportal/internal/domain/model"
	"payportal/internal/domain/ports/adapter"
	"payportal/internal/domain/ports/repository"
)

// Compile-time check
var _ VerificationUseCase = (*verificationUC)(nil)

// VerificationUseCase resolves a transaction reference into an outcome.
type VerificationUseCase interface {
	// Resolve checks txRef on chainID against the expected terms on behalf of
	// the charge identified by chargeKey. Failed outcomes are values; the
	// error is reserved for unsupported chains and store failures.
	Resolve(ctx context.Context, chainID int64, txRef string, expected ExpectedTerms, chargeKey string) (Outcome, error)
	SupportsChain(chainID int64) bool
}

// ExpectedTerms are what a transaction must settle to count as payment.
type ExpectedTerms struct {
	Amount      string
	Recipient   string
	TokenSymbol string
}

// TermsOf returns the expected terms of a link's price.
func TermsOf(l *model.PaymentLink) ExpectedTerms {
	return ExpectedTerms{Amount: l.Price.Amount, Recipient: l.RecipientAddress, TokenSymbol: l.Price.TokenSymbol}
}

type OutcomeKind int

const (
	OutcomePending OutcomeKind = iota
	OutcomeConfirmed
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Outcome is the result of resolving a reference. Payer, Amount and
// TokenSymbol are set when confirmed, Reason when failed. Existing is the
// payment already stored for the same charge and reference, if any.
type Outcome struct {
	Kind        OutcomeKind
	TxRef       string
	Payer       string
	Amount      string
	TokenSymbol string
	Reason      domain.VerificationReason
	Existing    *model.Payment
}

func pending(ref string, existing *model.Payment) Outcome {
	return Outcome{Kind: OutcomePending, TxRef: ref, Existing: existing}
}

func failed(ref string, reason domain.VerificationReason, existing *model.Payment) Outcome {
	return Outcome{Kind: OutcomeFailed, TxRef: ref, Reason: reason, Existing: existing}
}

// ChainPolicy binds a chain id to its provider and confirmation threshold.
type ChainPolicy struct {
	ChainID       int64
	Name          string
	Confirmations uint64
	Verifier      adapter.ChainVerifier
}

type verificationUC struct {
	payments repository.PaymentRepository
	chains   map[int64]ChainPolicy
	timeout  time.Duration
	log      *zerolog.Logger
}

// NewVerificationUseCase builds the coordinator. The chain set is fixed for
// the lifetime of the coordinator.
func NewVerificationUseCase(payments repository.PaymentRepository, chains []ChainPolicy, timeout time.Duration, logger *zerolog.Logger) *verificationUC {
	m := make(map[int64]ChainPolicy, len(chains))
	for _, c := range chains {
		if c.Confirmations == 0 {
			c.Confirmations = 1
		}
		m[c.ChainID] = c
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	lg := logger.With().Str("component", "VerificationUC").Logger()
	return &verificationUC{payments: payments, chains: m, timeout: timeout, log: &lg}
}

func (u *verificationUC) SupportsChain(chainID int64) bool {
	_, ok := u.chains[chainID]
	return ok
}

func (u *verificationUC) Resolve(ctx context.Context, chainID int64, txRef string, expected ExpectedTerms, chargeKey string) (Outcome, error) {
	policy, ok := u.chains[chainID]
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %d", domain.ErrUnsupportedChain, chainID)
	}
	ref := model.NormalizeTxRef(txRef)
	if ref == "" {
		return failed(ref, domain.ReasonNotFound, nil), nil
	}

	prior, err := u.payments.FindByTxRef(ctx, repository.NoTX, ref)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return Outcome{}, err
	}
	if prior != nil {
		if prior.ChargeKey() != chargeKey {
			u.log.Warn().Str("tx_ref", ref).Str("charge", chargeKey).Str("owner", prior.ChargeKey()).Msg("transaction reuse rejected")
			return failed(ref, domain.ReasonDuplicateTransaction, nil), nil
		}
		if prior.Confirmed {
			return Outcome{Kind: OutcomeConfirmed, TxRef: ref, Payer: prior.PayerAddress, Amount: prior.Amount, TokenSymbol: prior.TokenSymbol, Existing: prior}, nil
		}
	}

	cctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	rcpt, err := policy.Verifier.CheckTransaction(cctx, chainID, ref)
	switch {
	case errors.Is(err, adapter.ErrUnknownTransaction):
		return failed(ref, domain.ReasonNotFound, prior), nil
	case err != nil:
		// provider down or deadline hit; the reference may still settle
		u.log.Warn().Err(err).Int64("chain_id", chainID).Str("tx_ref", ref).Msg("provider did not answer; reporting pending")
		return pending(ref, prior), nil
	}

	if !rcpt.Found {
		return pending(ref, prior), nil
	}
	if rcpt.Reverted {
		return failed(ref, domain.ReasonReverted, prior), nil
	}
	if rcpt.Confirmations < policy.Confirmations {
		u.log.Debug().Str("tx_ref", ref).Uint64("confirmations", rcpt.Confirmations).Uint64("required", policy.Confirmations).Msg("below confirmation threshold")
		return pending(ref, prior), nil
	}
	if !rcpt.SkipTermsCheck {
		if reason, ok := checkTerms(rcpt, expected); !ok {
			return failed(ref, reason, prior), nil
		}
	}

	amount, token := rcpt.Amount, rcpt.TokenSymbol
	if amount == "" {
		amount = expected.Amount
	}
	if token == "" {
		token = expected.TokenSymbol
	}
	return Outcome{Kind: OutcomeConfirmed, TxRef: ref, Payer: rcpt.Payer, Amount: amount, TokenSymbol: token, Existing: prior}, nil
}

// checkTerms compares a settled receipt with the expected price. The amount
// may exceed the price but never fall short.
func checkTerms(r adapter.Receipt, expected ExpectedTerms) (domain.VerificationReason, bool) {
	if r.TokenSymbol != "" && !strings.EqualFold(r.TokenSymbol, expected.TokenSymbol) {
		return domain.ReasonAmountMismatch, false
	}
	cmp, err := model.CompareAmounts(r.Amount, expected.Amount)
	if err != nil || cmp < 0 {
		return domain.ReasonAmountMismatch, false
	}
	if !model.SameAddress(r.Recipient, expected.Recipient) {
		return domain.ReasonRecipientMismatch, false
	}
	return "", true
}

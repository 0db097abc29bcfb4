// Package mock is a deterministic verification provider for development and
// tests. Unmarked references confirm immediately.
package mock

import (
	"context"
	"sync"

	"payportal/internal/domain/model"
	"payportal/internal/domain/ports/adapter"
)

// AutoConfirmations is reported for auto-confirmed references; it clears any
// configured threshold.
const AutoConfirmations = 1_000_000

// DefaultPayer is the payer reported for auto-confirmed references.
const DefaultPayer = "0x000000000000000000000000000000000000dEaD"

type state int

const (
	statePending state = iota + 1
	stateFailed
	stateUnknown
	stateUnavailable
	stateReceipt
)

type entry struct {
	state   state
	receipt adapter.Receipt
}

// Verifier implements adapter.ChainVerifier for any chain id. Marks are keyed
// by the normalized reference, so hex casing does not matter.
type Verifier struct {
	mu      sync.RWMutex
	entries map[string]entry
}

var _ adapter.ChainVerifier = (*Verifier)(nil)

func New() *Verifier {
	return &Verifier{entries: make(map[string]entry)}
}

// MarkPending makes ref report as seen but unconfirmed.
func (v *Verifier) MarkPending(ref string) { v.set(ref, entry{state: statePending}) }

// MarkFailed makes ref report as reverted.
func (v *Verifier) MarkFailed(ref string) { v.set(ref, entry{state: stateFailed}) }

// MarkUnknown makes ref report as a reference that can never exist.
func (v *Verifier) MarkUnknown(ref string) { v.set(ref, entry{state: stateUnknown}) }

// MarkUnavailable makes lookups of ref block until the caller gives up.
func (v *Verifier) MarkUnavailable(ref string) { v.set(ref, entry{state: stateUnavailable}) }

// SetReceipt makes ref report r verbatim; terms are checked by the caller.
func (v *Verifier) SetReceipt(ref string, r adapter.Receipt) {
	v.set(ref, entry{state: stateReceipt, receipt: r})
}

// Reset forgets every mark.
func (v *Verifier) Reset() {
	v.mu.Lock()
	v.entries = make(map[string]entry)
	v.mu.Unlock()
}

func (v *Verifier) set(ref string, e entry) {
	v.mu.Lock()
	v.entries[model.NormalizeTxRef(ref)] = e
	v.mu.Unlock()
}

func (v *Verifier) CheckTransaction(ctx context.Context, _ int64, ref string) (adapter.Receipt, error) {
	v.mu.RLock()
	e, ok := v.entries[model.NormalizeTxRef(ref)]
	v.mu.RUnlock()
	if !ok {
		return adapter.Receipt{Found: true, Confirmations: AutoConfirmations, Payer: DefaultPayer, SkipTermsCheck: true}, nil
	}
	switch e.state {
	case statePending:
		return adapter.Receipt{Found: true, Confirmations: 0}, nil
	case stateFailed:
		return adapter.Receipt{Found: true, Reverted: true}, nil
	case stateUnknown:
		return adapter.Receipt{}, adapter.ErrUnknownTransaction
	case stateUnavailable:
		<-ctx.Done()
		return adapter.Receipt{}, ctx.Err()
	default:
		return e.receipt, nil
	}
}

package adapter

import (
	"context"
	"errors"
)

// ErrUnknownTransaction means the reference can never resolve on the chain
// (malformed hash or signature). Any other provider error is treated as the
// provider not answering.
var ErrUnknownTransaction = errors.New("unknown transaction reference")

// Receipt is the chain-native settlement state of one transaction.
type Receipt struct {
	Found         bool
	Confirmations uint64
	Reverted      bool
	Amount        string // decimal, whole token units
	TokenSymbol   string
	Recipient     string
	Payer         string
	// SkipTermsCheck is set by test providers that cannot know the price.
	SkipTermsCheck bool
}

// ChainVerifier is the per-chain verification capability.
type ChainVerifier interface {
	CheckTransaction(ctx context.Context, chainID int64, reference string) (Receipt, error)
}

package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrUnsupportedChain   = errors.New("unsupported chain")
	ErrUsageLimitReached  = errors.New("payment link usage limit reached")
	ErrLockNotAcquired    = errors.New("could not acquire lock")
	ErrOperationFailed    = errors.New("operation failed")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrLinkUnavailable    = errors.New("payment link is not available")

	// ErrDuplicateTransaction is returned by the store when a transaction
	// reference is already attributed to a payment.
	ErrDuplicateTransaction = errors.New("transaction reference already used")
)

// VerificationReason is the bounded cause of a failed verification.
type VerificationReason string

const (
	ReasonAmountMismatch       VerificationReason = "amount-mismatch"
	ReasonRecipientMismatch    VerificationReason = "recipient-mismatch"
	ReasonDuplicateTransaction VerificationReason = "duplicate-transaction"
	ReasonReverted             VerificationReason = "reverted"
	ReasonNotFound             VerificationReason = "not-found"
)

var reasonMessages = map[VerificationReason]string{
	ReasonAmountMismatch:       "transferred amount does not match the price",
	ReasonRecipientMismatch:    "transaction recipient does not match the payee",
	ReasonDuplicateTransaction: "transaction has already been used for another payment",
	ReasonReverted:             "transaction was reverted on chain",
	ReasonNotFound:             "transaction does not exist",
}

// Message returns a human readable description of the reason.
func (r VerificationReason) Message() string {
	if m, ok := reasonMessages[r]; ok {
		return m
	}
	return "payment verification failed"
}


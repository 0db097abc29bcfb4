package model

import (
	"fmt"
	"strings"
	"time"
)

// Payment records a settled or attempted on-chain transaction against a link.
// A link may carry many unconfirmed (audit) payments but at most one
// confirmed payment per charge.
type Payment struct {
	ID            string     `json:"id"`            // ULID
	PaymentLinkID string     `json:"paymentLinkId"` // owning link
	ChainID       int64      `json:"chainId"`
	TxRef         string     `json:"txHash"` // normalized, globally unique
	PayerAddress  string     `json:"payerAddress,omitempty"`
	Amount        string     `json:"amount,omitempty"`      // settled amount, decimal string
	TokenSymbol   string     `json:"tokenSymbol,omitempty"` // token of the settled amount
	Confirmed     bool       `json:"confirmed"`
	FailureReason string     `json:"failureReason,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	ConfirmedAt   *time.Time `json:"confirmedAt,omitempty"`

	// Set for subscription charges only.
	SubscriptionID *string `json:"subscriptionId,omitempty"`
	Cycle          int     `json:"cycle,omitempty"`
}

// ChargeKey identifies what a payment pays for.
func (p *Payment) ChargeKey() string {
	if p.SubscriptionID != nil {
		return SubscriptionChargeKey(*p.SubscriptionID, p.Cycle)
	}
	return LinkChargeKey(p.PaymentLinkID)
}

// LinkChargeKey is the charge of a single-payment link.
func LinkChargeKey(linkID string) string {
	return "link:" + linkID
}

// SubscriptionChargeKey is the charge of one billing cycle.
func SubscriptionChargeKey(subscriptionID string, cycle int) string {
	return fmt.Sprintf("sub:%s:%d", subscriptionID, cycle)
}

// NormalizeTxRef trims the reference and lowercases hex (0x) hashes so
// differently cased spellings of one transaction collide.
func NormalizeTxRef(ref string) string {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "0x") || strings.HasPrefix(ref, "0X") {
		return strings.ToLower(ref)
	}
	return ref
}

// NormalizeAddress trims the address and lowercases hex (0x) addresses.
// Base58 addresses are case-sensitive and kept as given.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if strings.HasPrefix(addr, "0x") || strings.HasPrefix(addr, "0X") {
		return strings.ToLower(addr)
	}
	return addr
}

// SameAddress compares chain addresses: hex addresses case-insensitively,
// anything else (base58) exactly.
func SameAddress(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if strings.HasPrefix(strings.ToLower(a), "0x") && strings.HasPrefix(strings.ToLower(b), "0x") {
		return strings.EqualFold(a, b)
	}
	return a == b
}

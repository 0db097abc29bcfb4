package model

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"payportal/internal/domain"
)

type LinkStatus string

const (
	LinkStatusActive   LinkStatus = "active"
	LinkStatusDisabled LinkStatus = "disabled"
)

// LinkIDLength is the length of generated payment link identifiers.
const LinkIDLength = 8

const linkIDAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Price is what a link costs. Amount is a decimal string in whole token units.
type Price struct {
	Amount      string `json:"amount"`
	TokenSymbol string `json:"tokenSymbol"`
	ChainID     int64  `json:"chainId"`
}

// SubscriptionTerms turn a link into a recurring charge.
type SubscriptionTerms struct {
	Interval        Interval `json:"interval"`
	TrialDays       int      `json:"trialDays,omitempty"`
	GracePeriodDays int      `json:"gracePeriodDays,omitempty"`
}

// GracePeriod returns the grace window as a duration (zero when unset).
func (t SubscriptionTerms) GracePeriod() time.Duration {
	return time.Duration(t.GracePeriodDays) * 24 * time.Hour
}

// PaymentLink is a purchasable gate in front of TargetURL.
// A nil MaxUses means unlimited; a nil ExpiresAt never expires.
type PaymentLink struct {
	ID               string             `json:"id"`
	TargetURL        string             `json:"targetUrl"`
	Price            Price              `json:"price"`
	RecipientAddress string             `json:"recipientAddress"`
	Status           LinkStatus         `json:"status"`
	MaxUses          *int               `json:"maxUses,omitempty"`
	UsedCount        int                `json:"usedCount"`
	ExpiresAt        *time.Time         `json:"expiresAt,omitempty"`
	Description      string             `json:"description,omitempty"`
	Metadata         map[string]string  `json:"metadata,omitempty"`
	Subscription     *SubscriptionTerms `json:"subscription,omitempty"`
	CreatedAt        time.Time          `json:"createdAt"`
	UpdatedAt        time.Time          `json:"updatedAt"`
}

// CreatePaymentLinkInput carries the caller supplied fields of a new link.
type CreatePaymentLinkInput struct {
	TargetURL        string             `json:"targetUrl"`
	Price            Price              `json:"price"`
	RecipientAddress string             `json:"recipientAddress"`
	MaxUses          *int               `json:"maxUses,omitempty"`
	ExpiresAt        *time.Time         `json:"expiresAt,omitempty"`
	Description      string             `json:"description,omitempty"`
	Metadata         map[string]string  `json:"metadata,omitempty"`
	Subscription     *SubscriptionTerms `json:"subscription,omitempty"`
}

// NewPaymentLink validates the input and builds an active link with a fresh id.
func NewPaymentLink(in CreatePaymentLinkInput, now time.Time) (*PaymentLink, error) {
	if err := in.Validate(now); err != nil {
		return nil, err
	}
	id, err := GenerateLinkID()
	if err != nil {
		return nil, err
	}
	amount, _ := NormalizeAmount(in.Price.Amount)
	price := in.Price
	price.Amount = amount

	var terms *SubscriptionTerms
	if in.Subscription != nil {
		t := *in.Subscription
		terms = &t
	}
	return &PaymentLink{
		ID:               id,
		TargetURL:        in.TargetURL,
		Price:            price,
		RecipientAddress: strings.TrimSpace(in.RecipientAddress),
		Status:           LinkStatusActive,
		MaxUses:          in.MaxUses,
		UsedCount:        0,
		ExpiresAt:        in.ExpiresAt,
		Description:      in.Description,
		Metadata:         in.Metadata,
		Subscription:     terms,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// Validate checks the structural rules of a link creation request.
func (in CreatePaymentLinkInput) Validate(now time.Time) error {
	u, err := url.Parse(in.TargetURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: targetUrl must be an absolute http(s) url", domain.ErrInvalidArgument)
	}
	if _, err := NormalizeAmount(in.Price.Amount); err != nil {
		return err
	}
	if IsZeroAmount(in.Price.Amount) {
		return fmt.Errorf("%w: amount must be greater than zero", domain.ErrInvalidArgument)
	}
	if strings.TrimSpace(in.Price.TokenSymbol) == "" {
		return fmt.Errorf("%w: tokenSymbol is required", domain.ErrInvalidArgument)
	}
	if strings.TrimSpace(in.RecipientAddress) == "" {
		return fmt.Errorf("%w: recipientAddress is required", domain.ErrInvalidArgument)
	}
	if in.MaxUses != nil && *in.MaxUses <= 0 {
		return fmt.Errorf("%w: maxUses must be positive", domain.ErrInvalidArgument)
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return fmt.Errorf("%w: expiresAt must be in the future", domain.ErrInvalidArgument)
	}
	if t := in.Subscription; t != nil {
		if !t.Interval.Valid() {
			return fmt.Errorf("%w: unknown interval %q", domain.ErrInvalidArgument, t.Interval)
		}
		if t.TrialDays < 0 || t.GracePeriodDays < 0 {
			return fmt.Errorf("%w: trial and grace days cannot be negative", domain.ErrInvalidArgument)
		}
	}
	return nil
}

// IsExpired reports whether the link carries an expiry that lies before now.
func (l *PaymentLink) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

// IsLimitReached reports whether a bounded link has been used up.
func (l *PaymentLink) IsLimitReached() bool {
	return l.MaxUses != nil && l.UsedCount >= *l.MaxUses
}

// IsSubscription reports whether the link bills on an interval.
func (l *PaymentLink) IsSubscription() bool {
	return l.Subscription != nil
}

// GenerateLinkID returns a random base62 identifier of LinkIDLength chars.
func GenerateLinkID() (string, error) {
	max := big.NewInt(int64(len(linkIDAlphabet)))
	b := make([]byte, LinkIDLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = linkIDAlphabet[n.Int64()]
	}
	return string(b), nil
}

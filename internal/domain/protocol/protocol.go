// Package protocol builds the wire bodies of the payment-required (402) and
// forbidden (403) responses. Everything here is pure apart from nonce
// generation.
package protocol

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"payportal/internal/domain/model"
)

const (
	Tag402 = "402-payportal-v1"
	Tag403 = "403-payportal-v1"

	HeaderProtocol = "X-PayPortal-Protocol"
	Header402Value = "402-v1"
	Header403Value = "403-v1"
	ContentType    = "application/json; charset=utf-8"

	nonceBytes = 16
)

var reasonMessages = map[model.ReasonCode]string{
	model.ReasonLinkNotFound:              "Payment link not found",
	model.ReasonLinkDisabled:              "This payment link has been disabled",
	model.ReasonLinkExpired:               "This payment link has expired",
	model.ReasonLinkUsageLimitReached:     "This payment link has reached its usage limit",
	model.ReasonPaymentVerificationFailed: "Payment verification failed",
	model.ReasonInvalidRequest:            "Invalid request",
}

// ReasonMessage returns the fixed human readable message for a reason code.
func ReasonMessage(code model.ReasonCode) string {
	if m, ok := reasonMessages[code]; ok {
		return m
	}
	return reasonMessages[model.ReasonInvalidRequest]
}

type Resource struct {
	Description string  `json:"description,omitempty"`
	Preview     *string `json:"preview"`
}

type PaymentTerms struct {
	ChainID        int64  `json:"chainId"`
	TokenSymbol    string `json:"tokenSymbol"`
	Amount         string `json:"amount"`
	Recipient      string `json:"recipient"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

type Callbacks struct {
	Status  string `json:"status"`
	Confirm string `json:"confirm"`
}

// PaymentRequired is the 402 body.
type PaymentRequired struct {
	Protocol      string       `json:"protocol"`
	PaymentLinkID string       `json:"paymentLinkId"`
	Resource      Resource     `json:"resource"`
	Payment       PaymentTerms `json:"payment"`
	Callbacks     Callbacks    `json:"callbacks"`
	Nonce         string       `json:"nonce"`
	Signature     string       `json:"signature,omitempty"`
}

// Forbidden is the 403 body.
type Forbidden struct {
	Protocol      string           `json:"protocol"`
	PaymentLinkID string           `json:"paymentLinkId,omitempty"`
	ReasonCode    model.ReasonCode `json:"reasonCode"`
	ReasonMessage string           `json:"reasonMessage"`
	Details       map[string]any   `json:"details,omitempty"`
}

// Options configure the 402 body. BaseURL may be empty for relative callbacks.
type Options struct {
	BaseURL         string
	BasePath        string
	TimeoutSeconds  int
	SignatureSecret string
}

// BuildPaymentRequired renders the 402 body for link with a fresh nonce,
// signed when a secret is configured.
func BuildPaymentRequired(link *model.PaymentLink, opts Options) (*PaymentRequired, error) {
	nonce, err := GenerateNonce()
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	base := strings.TrimRight(opts.BaseURL, "/") + "/" + strings.Trim(opts.BasePath, "/")
	base = strings.TrimRight(base, "/")

	body := &PaymentRequired{
		Protocol:      Tag402,
		PaymentLinkID: link.ID,
		Resource:      Resource{Description: link.Description},
		Payment: PaymentTerms{
			ChainID:        link.Price.ChainID,
			TokenSymbol:    link.Price.TokenSymbol,
			Amount:         link.Price.Amount,
			Recipient:      link.RecipientAddress,
			TimeoutSeconds: opts.TimeoutSeconds,
		},
		Callbacks: Callbacks{
			Status:  base + "/" + link.ID + "/status",
			Confirm: base + "/" + link.ID + "/confirm",
		},
		Nonce: nonce,
	}
	if opts.SignatureSecret != "" {
		sig, err := signBody(body, opts.SignatureSecret)
		if err != nil {
			return nil, err
		}
		body.Signature = sig
	}
	return body, nil
}

// BuildForbidden renders the 403 body. linkID and details are optional.
func BuildForbidden(code model.ReasonCode, linkID string, details map[string]any) *Forbidden {
	return &Forbidden{
		Protocol:      Tag403,
		PaymentLinkID: linkID,
		ReasonCode:    code,
		ReasonMessage: ReasonMessage(code),
		Details:       details,
	}
}

// VerifyPaymentRequired checks the signature of a received 402 body.
func VerifyPaymentRequired(body *PaymentRequired, secret string) bool {
	if body == nil || body.Signature == "" || secret == "" {
		return false
	}
	want, err := signBody(body, secret)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(want), []byte(body.Signature))
}

// GenerateNonce returns 16 random bytes, hex encoded.
func GenerateNonce() (string, error) {
	b := make([]byte, nonceBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Sign returns hex(HMAC-SHA256(secret, data)).
func Sign(data []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// canonical is the signed projection: link id, payment terms and nonce, in
// that field order.
type canonical struct {
	PaymentLinkID string       `json:"paymentLinkId"`
	Payment       PaymentTerms `json:"payment"`
	Nonce         string       `json:"nonce"`
}

func signBody(body *PaymentRequired, secret string) (string, error) {
	data, err := json.Marshal(canonical{PaymentLinkID: body.PaymentLinkID, Payment: body.Payment, Nonce: body.Nonce})
	if err != nil {
		return "", fmt.Errorf("encode signed payload: %w", err)
	}
	return Sign(data, secret), nil
}

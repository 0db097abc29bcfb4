package model

// ReasonCode is the cause attached to a forbidden response.
type ReasonCode string

const (
	ReasonLinkNotFound              ReasonCode = "LINK_NOT_FOUND"
	ReasonLinkDisabled              ReasonCode = "LINK_DISABLED"
	ReasonLinkExpired               ReasonCode = "LINK_EXPIRED"
	ReasonLinkUsageLimitReached     ReasonCode = "LINK_USAGE_LIMIT_REACHED"
	ReasonPaymentVerificationFailed ReasonCode = "PAYMENT_VERIFICATION_FAILED"
	ReasonInvalidRequest            ReasonCode = "INVALID_REQUEST"
)

// AccessKind is the outcome of evaluating a link for one access request.
type AccessKind int

const (
	AccessNotFound AccessKind = iota
	AccessForbidden
	AccessPaymentRequired
	AccessRedirect
)

func (k AccessKind) String() string {
	switch k {
	case AccessNotFound:
		return "not_found"
	case AccessForbidden:
		return "forbidden"
	case AccessPaymentRequired:
		return "payment_required"
	case AccessRedirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// AccessDecision is what evaluating a link yields. Reason is set for
// AccessForbidden, TargetURL for AccessRedirect, Link whenever it was loaded.
type AccessDecision struct {
	Kind      AccessKind
	Reason    ReasonCode
	TargetURL string
	Link      *PaymentLink
}

// LinkStatusView is the read-only projection returned by status checks.
type LinkStatusView string

const (
	LinkViewUnpaid    LinkStatusView = "unpaid"
	LinkViewPaid      LinkStatusView = "paid"
	LinkViewForbidden LinkStatusView = "forbidden"
	LinkViewNotFound  LinkStatusView = "not_found"
)

// LinkStatusResult carries the projection plus the forbidden reason, if any.
type LinkStatusResult struct {
	Status LinkStatusView `json:"status"`
	Reason ReasonCode     `json:"reasonCode,omitempty"`
}

// ConfirmStatus is the result kind of a payment confirmation.
type ConfirmStatus string

const (
	ConfirmStatusConfirmed ConfirmStatus = "confirmed"
	ConfirmStatusPending   ConfirmStatus = "pending"
	ConfirmStatusFailed    ConfirmStatus = "failed"
)

// ConfirmResult is returned by payment confirmation. Failures are values, not errors.
type ConfirmResult struct {
	Status  ConfirmStatus `json:"status"`
	Message string        `json:"message,omitempty"`
	Reason  string        `json:"reason,omitempty"`
	Payment *Payment      `json:"payment,omitempty"`
}

// Package ginmw gates gin routes behind a payment link.
package ginmw

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"payportal/internal/domain/model"
	"payportal/internal/domain/protocol"
)

// LinkContextKey holds the *model.PaymentLink that granted access.
const LinkContextKey = "payportal_link"

// DefaultAddressHeader carries the subscriber address for subscription links.
const DefaultAddressHeader = "X-PayPortal-Address"

type Evaluator interface {
	Evaluate(ctx context.Context, id string) (model.AccessDecision, error)
	PaymentRequired(link *model.PaymentLink) (*protocol.PaymentRequired, error)
}

type SubscriberEvaluator interface {
	EvaluateSubscriber(ctx context.Context, linkID, address string) (model.AccessDecision, error)
}

type Config struct {
	// LinkID is a fixed link; LinkParam names a route param used when LinkID is empty.
	LinkID    string
	LinkParam string
	// Subscribers enables subscription links; the address comes from AddressHeader.
	Subscribers   SubscriberEvaluator
	AddressHeader string
	Logger        *zerolog.Logger
}

// Gate lets a request through only when the link grants access. Every pass
// consumes one use of the link.
func Gate(links Evaluator, cfg Config) gin.HandlerFunc {
	if cfg.AddressHeader == "" {
		cfg.AddressHeader = DefaultAddressHeader
	}
	logger := cfg.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return func(c *gin.Context) {
		id := cfg.LinkID
		if id == "" && cfg.LinkParam != "" {
			id = c.Param(cfg.LinkParam)
		}
		if id == "" {
			forbid(c, http.StatusBadRequest, model.ReasonInvalidRequest, "")
			return
		}

		var (
			d   model.AccessDecision
			err error
		)
		if addr := c.GetHeader(cfg.AddressHeader); addr != "" && cfg.Subscribers != nil {
			d, err = cfg.Subscribers.EvaluateSubscriber(c.Request.Context(), id, addr)
		} else {
			d, err = links.Evaluate(c.Request.Context(), id)
		}
		if err != nil {
			logger.Error().Err(err).Str("link_id", id).Msg("gate evaluation failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		switch d.Kind {
		case model.AccessRedirect:
			c.Set(LinkContextKey, d.Link)
			c.Next()
		case model.AccessPaymentRequired:
			body, err := links.PaymentRequired(d.Link)
			if err != nil {
				logger.Error().Err(err).Str("link_id", id).Msg("build payment required body")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
				return
			}
			c.Header(protocol.HeaderProtocol, protocol.Header402Value)
			c.AbortWithStatusJSON(http.StatusPaymentRequired, body)
		case model.AccessForbidden:
			forbid(c, http.StatusForbidden, d.Reason, id)
		default:
			forbid(c, http.StatusNotFound, model.ReasonLinkNotFound, id)
		}
	}
}

func forbid(c *gin.Context, code int, reason model.ReasonCode, linkID string) {
	c.Header(protocol.HeaderProtocol, protocol.Header403Value)
	c.AbortWithStatusJSON(code, protocol.BuildForbidden(reason, linkID, nil))
}

// LinkFrom returns the link stored by Gate, if any.
func LinkFrom(c *gin.Context) (*model.PaymentLink, bool) {
	v, ok := c.Get(LinkContextKey)
	if !ok {
		return nil, false
	}
	l, ok := v.(*model.PaymentLink)
	return l, ok
}

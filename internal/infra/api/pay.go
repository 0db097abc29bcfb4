package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"payportal/internal/domain"
	"payportal/internal/domain/model"
	"payportal/internal/domain/protocol"
	"payportal/internal/infra/logging"
	"payportal/internal/infra/metrics"
	"payportal/internal/infra/redis"
)

type confirmRequest struct {
	TxHash string `json:"txHash"`
}

type subscribeRequest struct {
	Address string `json:"address"`
	TxHash  string `json:"txHash,omitempty"`
}

type subscriptionResponse struct {
	Subscription *model.Subscription  `json:"subscription"`
	HasAccess    bool                 `json:"hasAccess"`
	Charge       *model.ConfirmResult `json:"charge,omitempty"`
}

// handleAccess answers GET {base}/{id}. With ?address= the subscriber's
// access to a subscription link is evaluated instead of the one-time payment.
func (s *Server) handleAccess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := logging.WithLinkID(r.Context(), id)

	var (
		d   model.AccessDecision
		err error
	)
	if addr := strings.TrimSpace(r.URL.Query().Get("address")); addr != "" {
		d, err = s.billing.EvaluateSubscriber(ctx, id, addr)
	} else {
		d, err = s.links.Evaluate(ctx, id)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	switch d.Kind {
	case model.AccessRedirect:
		http.Redirect(w, r, d.TargetURL, http.StatusFound)
	case model.AccessPaymentRequired:
		body, err := s.links.PaymentRequired(d.Link)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		w.Header().Set(protocol.HeaderProtocol, protocol.Header402Value)
		writeJSON(w, http.StatusPaymentRequired, body)
	case model.AccessForbidden:
		writeForbidden(w, http.StatusForbidden, d.Reason, id)
	default:
		writeForbidden(w, http.StatusNotFound, model.ReasonLinkNotFound, id)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := s.links.GetStatus(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	code := http.StatusOK
	if st.Status == model.LinkViewNotFound {
		code = http.StatusNotFound
	}
	writeJSON(w, code, st)
}

// allowConfirm applies the per-client confirm budget. Limiter errors fail open.
func (s *Server) allowConfirm(w http.ResponseWriter, r *http.Request, linkID string) bool {
	if s.limiter == nil || s.confirmLimit <= 0 {
		return true
	}
	ok, err := s.limiter.Allow(r.Context(), redis.ConfirmKey(clientIP(r), linkID), s.confirmLimit, time.Minute)
	if err != nil {
		s.log.Warn().Err(err).Msg("rate limiter unavailable")
		return true
	}
	if !ok {
		metrics.IncRateLimited("confirm")
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "too many confirmation attempts")
		return false
	}
	return true
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := logging.WithLinkID(r.Context(), id)

	var req confirmRequest
	if err := decodeBody(w, r, &req); err != nil || strings.TrimSpace(req.TxHash) == "" {
		writeForbidden(w, http.StatusBadRequest, model.ReasonInvalidRequest, id)
		return
	}
	if !s.allowConfirm(w, r, id) {
		return
	}

	res, err := s.links.ConfirmPayment(ctx, id, req.TxHash)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	metrics.IncConfirmResult("link", string(res.Status), res.Reason)
	l := logging.With(ctx, s.log)
	l.Info().Str("tx_ref", logging.Redact(req.TxHash, s.dev)).Str("status", string(res.Status)).Str("reason", res.Reason).Msg("payment confirmation")
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := logging.WithLinkID(r.Context(), id)

	var req subscribeRequest
	if err := decodeBody(w, r, &req); err != nil || strings.TrimSpace(req.Address) == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}
	if req.TxHash != "" && !s.allowConfirm(w, r, id) {
		return
	}

	sub, charge, err := s.billing.Subscribe(ctx, id, req.Address, req.TxHash)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if charge != nil {
		metrics.IncConfirmResult("subscription", string(charge.Status), charge.Reason)
	}
	ctx = logging.WithSubscriptionID(ctx, sub.ID)
	l := logging.With(ctx, s.log)
	l.Info().Str("subscriber", logging.Redact(sub.SubscriberAddress, s.dev)).Str("status", string(sub.Status)).Msg("subscription created")
	writeJSON(w, http.StatusCreated, subscriptionResponse{Subscription: sub, HasAccess: sub.HasAccess(time.Now()), Charge: charge})
}

func (s *Server) handleSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.billing.GetByAddress(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "address"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subscriptionResponse{Subscription: sub, HasAccess: sub.HasAccess(time.Now())})
}

func (s *Server) handleCharge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := logging.WithLinkID(r.Context(), id)

	var req confirmRequest
	if err := decodeBody(w, r, &req); err != nil || strings.TrimSpace(req.TxHash) == "" {
		writeError(w, http.StatusBadRequest, "txHash is required")
		return
	}
	if !s.allowConfirm(w, r, id) {
		return
	}

	sub, err := s.billing.GetByAddress(ctx, id, chi.URLParam(r, "address"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ctx = logging.WithSubscriptionID(ctx, sub.ID)
	sub, res, err := s.billing.SubmitCharge(ctx, sub.ID, req.TxHash)
	if errors.Is(err, domain.ErrInvalidTransition) {
		writeError(w, http.StatusConflict, "subscription does not accept charges in its current status")
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	metrics.IncConfirmResult("subscription", string(res.Status), res.Reason)
	writeJSON(w, http.StatusOK, subscriptionResponse{Subscription: sub, HasAccess: sub.HasAccess(time.Now()), Charge: &res})
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"payportal/internal/domain/model"
)

type listResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func (s *Server) listLinks(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	links, err := s.links.List(r.Context(), limit, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if links == nil {
		links = []*model.PaymentLink{}
	}
	writeJSON(w, http.StatusOK, listResponse[*model.PaymentLink]{Items: links, Limit: limit, Offset: offset})
}

func (s *Server) createLink(w http.ResponseWriter, r *http.Request) {
	var in model.CreatePaymentLinkInput
	if err := decodeBody(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	link, err := s.links.Create(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.log.Info().Str("link_id", link.ID).Int64("chain_id", link.Price.ChainID).Msg("payment link created")
	writeJSON(w, http.StatusCreated, link)
}

func (s *Server) getLink(w http.ResponseWriter, r *http.Request) {
	link, err := s.links.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (s *Server) disableLink(w http.ResponseWriter, r *http.Request) {
	link, err := s.links.Disable(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (s *Server) deleteLink(w http.ResponseWriter, r *http.Request) {
	if err := s.links.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listPayments(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	payments, err := s.links.ListPayments(r.Context(), chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if payments == nil {
		payments = []*model.Payment{}
	}
	writeJSON(w, http.StatusOK, listResponse[*model.Payment]{Items: payments, Limit: limit, Offset: offset})
}

func (s *Server) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	subs, err := s.billing.List(r.Context(), r.URL.Query().Get("link"), limit, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if subs == nil {
		subs = []*model.Subscription{}
	}
	writeJSON(w, http.StatusOK, listResponse[*model.Subscription]{Items: subs, Limit: limit, Offset: offset})
}

func (s *Server) getSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.billing.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) transitionSubscription(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var (
		sub *model.Subscription
		err error
	)
	switch chi.URLParam(r, "action") {
	case "pause":
		sub, err = s.billing.Pause(r.Context(), id)
	case "resume":
		sub, err = s.billing.Resume(r.Context(), id)
	case "cancel":
		sub, err = s.billing.Cancel(r.Context(), id)
	default:
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.billing.CountByStatus(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": counts})
}

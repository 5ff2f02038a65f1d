package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/voicecard/internal/cardstore"
	"github.com/MrWong99/voicecard/internal/enroll"
	"github.com/MrWong99/voicecard/internal/observe"
)

type userResponse struct {
	User      cardstore.User `json:"user"`
	CardCount int            `json:"card_count"`
}

// getUser handles GET /v1/user?token=. The user is created on first sight.
func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	token, ok := tokenParam(w, r)
	if !ok {
		return
	}
	u, err := s.cfg.Store.EnsureUser(r.Context(), token)
	if err != nil {
		storeError(w, r, "ensure user", err)
		return
	}
	n, err := s.cfg.Store.CountCards(r.Context(), token)
	if err != nil {
		storeError(w, r, "count cards", err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{User: u, CardCount: n})
}

type cardsResponse struct {
	Cards []cardstore.Card `json:"cards"`
}

// listCards handles GET /v1/cards?token=.
func (s *Server) listCards(w http.ResponseWriter, r *http.Request) {
	token, ok := tokenParam(w, r)
	if !ok {
		return
	}
	cards, err := s.cfg.Store.ListCards(r.Context(), token)
	if err != nil {
		storeError(w, r, "list cards", err)
		return
	}
	if cards == nil {
		cards = []cardstore.Card{}
	}
	writeJSON(w, http.StatusOK, cardsResponse{Cards: cards})
}

type addCardRequest struct {
	Token       string `json:"token"`
	CardNumber  string `json:"card_number"`
	CVV         string `json:"cvv"`
	ExpireMonth string `json:"expire_month"`
	ExpireYear  string `json:"expire_year"`
	Label       string `json:"label"`
	MakeDefault bool   `json:"make_default"`
}

type cardResponse struct {
	Card cardstore.Card `json:"card"`
}

// addCard handles POST /v1/cards, the typed alternative to a spoken
// enrollment. Values are checked with the same rules the dialogue applies.
func (s *Server) addCard(w http.ResponseWriter, r *http.Request) {
	var req addCardRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !cardstore.ValidToken(req.Token) {
		writeError(w, http.StatusBadRequest, "token must be exactly 16 characters")
		return
	}
	d := enroll.Draft{
		CardNumber:  req.CardNumber,
		CVV:         req.CVV,
		ExpireMonth: req.ExpireMonth,
		ExpireYear:  req.ExpireYear,
		Label:       strings.TrimSpace(req.Label),
	}
	if err := d.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, strings.ReplaceAll(err.Error(), "\n", "; "))
		return
	}

	ctx := r.Context()
	n, err := s.cfg.Store.CountCards(ctx, req.Token)
	if err != nil {
		storeError(w, r, "count cards", err)
		return
	}
	card, err := s.cfg.Store.SaveCard(ctx, req.Token, cardstore.NewCard{
		CardNumber:  d.CardNumber,
		CVV:         d.CVV,
		ExpireMonth: d.ExpireMonth,
		ExpireYear:  d.ExpireYear,
		Label:       d.Label,
		MakeDefault: req.MakeDefault || n == 0,
	})
	if err != nil {
		storeError(w, r, "save card", err)
		return
	}
	observe.Logger(ctx).Info("card added", "card_id", card.ID, "card", card.Masked())
	writeJSON(w, http.StatusCreated, cardResponse{Card: card})
}

// deleteCard handles DELETE /v1/cards/{cardID}?token=.
func (s *Server) deleteCard(w http.ResponseWriter, r *http.Request) {
	token, ok := tokenParam(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "cardID")
	if err := s.cfg.Store.DeleteCard(r.Context(), token, id); err != nil {
		storeError(w, r, "delete card", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package api

import (
	"net/http"
	"strings"

	"github.com/MrWong99/voicecard/internal/cardstore"
	"github.com/MrWong99/voicecard/internal/enroll"
)

// replyView is the wire form of an [enroll.Reply].
type replyView struct {
	Prompt   string `json:"prompt"`
	Phase    string `json:"phase"`
	Pending  string `json:"pending,omitempty"`
	Outcome  string `json:"outcome,omitempty"`
	Missed   bool   `json:"missed,omitempty"`
	CardID   string `json:"card_id,omitempty"`
	LastFour string `json:"last_four,omitempty"`
}

func viewOf(r enroll.Reply) replyView {
	v := replyView{
		Prompt: r.Prompt,
		Phase:  r.Phase.String(),
		Missed: r.Missed,
	}
	if r.Phase == enroll.PhaseCollecting {
		v.Pending = string(r.Pending)
	}
	if r.Outcome != enroll.OutcomeNone {
		v.Outcome = r.Outcome.String()
	}
	if r.Card != nil {
		v.CardID = r.Card.CardID
		v.LastFour = r.Card.LastFour
	}
	return v
}

type tokenRequest struct {
	Token string `json:"token"`
}

type turnRequest struct {
	Token      string `json:"token"`
	Transcript string `json:"transcript"`
}

// ensureUser registers token so a later commit can find its owner.
func (s *Server) ensureUser(w http.ResponseWriter, r *http.Request, token string) bool {
	if !cardstore.ValidToken(token) {
		writeError(w, http.StatusBadRequest, "token must be exactly 16 characters")
		return false
	}
	if _, err := s.cfg.Store.EnsureUser(r.Context(), token); err != nil {
		storeError(w, r, "ensure user", err)
		return false
	}
	return true
}

// startEnrollment handles POST /v1/enroll/start. Any attempt in progress
// for the token is discarded.
func (s *Server) startEnrollment(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decodeBody(w, r, &req) || !s.ensureUser(w, r, req.Token) {
		return
	}
	reply := s.cfg.Sessions.Get(req.Token).Start(r.Context())
	writeJSON(w, http.StatusOK, viewOf(reply))
}

// enrollmentTurn handles POST /v1/enroll/turn with one final transcript.
func (s *Server) enrollmentTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if !decodeBody(w, r, &req) || !s.ensureUser(w, r, req.Token) {
		return
	}
	if strings.TrimSpace(req.Transcript) == "" {
		writeError(w, http.StatusBadRequest, "transcript is required")
		return
	}
	// An invariant error still carries a spoken notice; the session has
	// already logged it and returned to idle.
	reply, _ := s.cfg.Sessions.Get(req.Token).Turn(r.Context(), req.Transcript)
	writeJSON(w, http.StatusOK, viewOf(reply))
}

// endEnrollment handles DELETE /v1/enroll?token= and forgets the session.
func (s *Server) endEnrollment(w http.ResponseWriter, r *http.Request) {
	token, ok := tokenParam(w, r)
	if !ok {
		return
	}
	s.cfg.Sessions.Drop(token)
	w.WriteHeader(http.StatusNoContent)
}

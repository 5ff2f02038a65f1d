// Package api serves card enrollment over HTTP.
//
// REST endpoints cover users, stored cards and text-driven enrollment turns.
// POST /v1/tts proxies prompt synthesis and GET /v1/voice upgrades to a
// WebSocket that runs a full spoken enrollment. Routing uses chi; every
// request passes through the observe middleware for tracing and latency
// metrics.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrWong99/voicecard/internal/cardstore"
	"github.com/MrWong99/voicecard/internal/health"
	"github.com/MrWong99/voicecard/internal/observe"
	"github.com/MrWong99/voicecard/internal/session"
	"github.com/MrWong99/voicecard/pkg/audio"
	"github.com/MrWong99/voicecard/pkg/provider/stt"
	"github.com/MrWong99/voicecard/pkg/provider/tts"
)

// Config holds the dependencies of a [Server].
type Config struct {
	// Store persists users and cards. Required.
	Store cardstore.Store

	// Sessions owns the enrollment conversations. Required.
	Sessions *session.Manager

	// STT recognises voice WebSocket audio. When nil, voice clients must
	// send text transcripts.
	STT stt.Provider

	// Stream is the recogniser configuration for voice sessions. Its
	// SampleRate is the rate client audio is converted to.
	Stream stt.StreamConfig

	// TTS synthesises prompts. When nil, /v1/tts is unavailable and voice
	// clients receive prompt text only.
	TTS tts.Provider

	// Voice is the prompt voice.
	Voice tts.VoiceProfile

	// AudioContentType labels synthesised audio, e.g. "audio/L16;rate=16000".
	AudioContentType string

	// AllowedOrigins lists host patterns accepted for cross-origin voice
	// connections.
	AllowedOrigins []string

	// Health serves /healthz and /readyz. Optional.
	Health *health.Handler

	// MetricsHandler is mounted at MetricsPath when both are set.
	MetricsHandler http.Handler
	MetricsPath    string

	// Metrics records request, TTS and voice connection metrics. Defaults
	// to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Server is the HTTP front end.
type Server struct {
	cfg    Config
	router chi.Router
	voice  atomic.Pointer[tts.VoiceProfile]
}

// New validates cfg and builds the router.
func New(cfg Config) (*Server, error) {
	var errs []error
	if cfg.Store == nil {
		errs = append(errs, errors.New("store is required"))
	}
	if cfg.Sessions == nil {
		errs = append(errs, errors.New("session manager is required"))
	}
	if cfg.STT != nil {
		if err := (audio.Format{SampleRate: cfg.Stream.SampleRate, Channels: 1}).Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, errors.Join(errors.New("api: invalid config"), err)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.AudioContentType == "" {
		cfg.AudioContentType = "application/octet-stream"
	}

	s := &Server{cfg: cfg}
	s.SetVoice(cfg.Voice)
	s.router = s.routes()
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// SetVoice replaces the prompt voice. Prompts already being synthesised
// keep the previous voice.
func (s *Server) SetVoice(v tts.VoiceProfile) { s.voice.Store(&v) }

func (s *Server) voiceProfile() tts.VoiceProfile { return *s.voice.Load() }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(observe.Middleware(s.cfg.Metrics, observe.WithRouteFunc(routePattern)))

	if s.cfg.Health != nil {
		s.cfg.Health.Register(r)
	}
	if s.cfg.MetricsHandler != nil && s.cfg.MetricsPath != "" {
		r.Method(http.MethodGet, s.cfg.MetricsPath, s.cfg.MetricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/user", s.getUser)

		r.Route("/cards", func(r chi.Router) {
			r.Get("/", s.listCards)
			r.Post("/", s.addCard)
			r.Delete("/{cardID}", s.deleteCard)
		})

		r.Route("/enroll", func(r chi.Router) {
			r.Post("/start", s.startEnrollment)
			r.Post("/turn", s.enrollmentTurn)
			r.Delete("/", s.endEnrollment)
		})

		r.Post("/tts", s.synthesize)
		r.Get("/voice", s.voice)
	})
	return r
}

// routePattern labels metrics with the matched chi pattern so user tokens
// and card IDs never become label values.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// internalError logs err and answers 500 without leaking details.
func internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	observe.Logger(r.Context()).Error("api: "+op+" failed", "err", err)
	writeError(w, http.StatusInternalServerError, op+" failed")
}

// storeError maps cardstore sentinels to HTTP statuses.
func storeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, cardstore.ErrInvalidToken):
		writeError(w, http.StatusBadRequest, "token must be exactly 16 characters")
	case errors.Is(err, cardstore.ErrUnknownUser):
		writeError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, cardstore.ErrNotFound):
		writeError(w, http.StatusNotFound, "card not found")
	case errors.Is(err, cardstore.ErrDuplicateCard):
		writeError(w, http.StatusConflict, "card already saved")
	default:
		internalError(w, r, op, err)
	}
}

// tokenParam returns the token query parameter, answering 400 when it is
// malformed.
func tokenParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := r.URL.Query().Get("token")
	if !cardstore.ValidToken(token) {
		writeError(w, http.StatusBadRequest, "token must be exactly 16 characters")
		return "", false
	}
	return token, true
}

// decodeBody decodes a JSON request body into v, answering 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

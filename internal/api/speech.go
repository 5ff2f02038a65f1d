package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/voicecard/internal/observe"
	"github.com/MrWong99/voicecard/pkg/audio"
	"github.com/MrWong99/voicecard/pkg/provider/tts"
)

const maxSynthesisText = 1000

type synthesizeRequest struct {
	Text string `json:"text"`
}

// synthesize handles POST /v1/tts and streams the audio as it arrives.
func (s *Server) synthesize(w http.ResponseWriter, r *http.Request) {
	if s.cfg.TTS == nil {
		writeError(w, http.StatusServiceUnavailable, "speech synthesis is not configured")
		return
	}
	var req synthesizeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	text := strings.TrimSpace(req.Text)
	switch {
	case text == "":
		writeError(w, http.StatusBadRequest, "text is required")
		return
	case len(text) > maxSynthesisText:
		writeError(w, http.StatusBadRequest, "text is too long")
		return
	}

	ctx := r.Context()
	provider := s.providerName()
	start := time.Now()
	chunks, err := tts.Speak(ctx, s.cfg.TTS, text, s.voiceProfile())
	if err != nil {
		s.cfg.Metrics.RecordProviderError(ctx, provider, "tts")
		observe.Logger(ctx).Error("api: speech synthesis failed", "err", err)
		writeError(w, http.StatusBadGateway, "speech synthesis failed")
		return
	}
	defer audio.Drain(chunks)

	w.Header().Set("Content-Type", s.cfg.AudioContentType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)

	for chunk := range chunks {
		if _, err := w.Write(chunk); err != nil {
			return
		}
		_ = rc.Flush()
	}
	s.cfg.Metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	s.cfg.Metrics.RecordProviderRequest(ctx, provider, "tts", "ok")
}

func (s *Server) providerName() string {
	if p := s.voiceProfile().Provider; p != "" {
		return p
	}
	return "tts"
}

// ContentTypeFor maps an ElevenLabs-style output format such as
// "pcm_16000" or "mp3_44100_128" to a MIME type.
func ContentTypeFor(format string) string {
	codec, rest, _ := strings.Cut(format, "_")
	rate, _, _ := strings.Cut(rest, "_")
	switch codec {
	case "pcm":
		if rate == "" {
			return "audio/L16"
		}
		return "audio/L16;rate=" + rate
	case "mp3":
		return "audio/mpeg"
	case "ulaw":
		return "audio/basic"
	case "opus":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}

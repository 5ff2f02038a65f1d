// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs streaming WebSocket API. It implements the tts.Provider interface.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/voicecard/pkg/provider/tts"
)

const (
	defaultBaseURL   = "https://api.elevenlabs.io"
	defaultModel     = "eleven_turbo_v2_5"
	defaultOutputFmt = "pcm_16000"
)

// DefaultVoiceSettings are used when a VoiceProfile carries no settings.
var DefaultVoiceSettings = tts.VoiceSettings{
	Stability:       0.65,
	SimilarityBoost: 0.85,
	Style:           0.3,
	UseSpeakerBoost: true,
}

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_turbo_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithOutputFormat sets the audio output format (e.g., "pcm_16000", "mp3_44100_128").
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		if format != "" {
			p.outputFormat = format
		}
	}
}

// WithBaseURL overrides the API base URL. The WebSocket endpoint is derived
// from it by swapping the scheme.
func WithBaseURL(base string) Option {
	return func(p *Provider) {
		if base != "" {
			p.baseURL = strings.TrimRight(base, "/")
		}
	}
}

// WithHTTPClient sets the client used for REST calls.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	baseURL      string
	model        string
	outputFormat string
	httpClient   *http.Client
}

var _ tts.Provider = (*Provider)(nil)

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		httpClient:   &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// OutputFormat returns the configured audio output format.
func (p *Provider) OutputFormat() string { return p.outputFormat }

// ── WebSocket message types ──

// textMessage is the JSON payload sent for each text fragment.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// audioResponse is a message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func settingsFor(v tts.VoiceProfile) *voiceSettings {
	s := DefaultVoiceSettings
	if v.Settings != nil {
		s = *v.Settings
	}
	return &voiceSettings{
		Stability:       s.Stability,
		SimilarityBoost: s.SimilarityBoost,
		Style:           s.Style,
		UseSpeakerBoost: s.UseSpeakerBoost,
	}
}

// streamURL builds the stream-input endpoint for voice.
func (p *Provider) streamURL(voice tts.VoiceProfile) (string, error) {
	u, err := url.Parse(p.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u = u.JoinPath("v1", "text-to-speech", voice.ID, "stream-input")

	q := url.Values{}
	q.Set("model_id", p.model)
	q.Set("output_format", p.outputFormat)
	if voice.Language != "" {
		q.Set("language_code", voice.Language)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// SynthesizeStream opens a WebSocket to ElevenLabs, pipes text fragments from
// the text channel and returns a channel emitting raw audio chunks.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	if voice.ID == "" {
		return nil, errors.New("elevenlabs: voice.ID must not be empty")
	}

	wsURL, err := p.streamURL(voice)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: build URL: %w", err)
	}
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}

	// The first message authenticates and carries the voice settings.
	// ElevenLabs requires its text to be a single space.
	boi, _ := json.Marshal(textMessage{Text: " ", VoiceSettings: settingsFor(voice), XiAPIKey: p.apiKey})
	if err := conn.Write(ctx, websocket.MessageText, boi); err != nil {
		conn.Close(websocket.StatusInternalError, "failed to send BOI")
		return nil, fmt.Errorf("elevenlabs: send BOI: %w", err)
	}

	audioCh := make(chan []byte, 64)

	go func() {
		defer close(audioCh)
		defer conn.CloseNow()

		readDone := make(chan struct{})
		go func() {
			defer close(readDone)
			p.readAudio(ctx, conn, audioCh)
		}()

		for {
			select {
			case fragment, ok := <-text:
				if !ok {
					eos, _ := json.Marshal(textMessage{Text: ""})
					_ = conn.Write(ctx, websocket.MessageText, eos)
					<-readDone
					conn.Close(websocket.StatusNormalClosure, "done")
					return
				}
				if strings.TrimSpace(fragment) == "" {
					continue
				}
				// Trailing space tells ElevenLabs the fragment ends on a word
				// boundary.
				if !strings.HasSuffix(fragment, " ") {
					fragment += " "
				}
				msg, _ := json.Marshal(textMessage{Text: fragment})
				if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
					return
				}
			case <-readDone:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return audioCh, nil
}

// readAudio decodes audio messages until the final marker, an error message
// or a read failure.
func (p *Provider) readAudio(ctx context.Context, conn *websocket.Conn, out chan<- []byte) {
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Error != "" {
			slog.Warn("elevenlabs: synthesis error", "error", resp.Error, "message", resp.Message)
			return
		}
		if resp.Audio != "" {
			audio, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err == nil {
				select {
				case out <- audio:
				case <-ctx.Done():
					return
				}
			}
		}
		if resp.IsFinal {
			return
		}
	}
}

// ── ListVoices ──

// voicesResponse is the top-level response from GET /v1/voices.
type voicesResponse struct {
	Voices []elevenLabsVoice `json:"voices"`
}

// elevenLabsVoice is a single voice entry from the ElevenLabs API.
type elevenLabsVoice struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Labels   map[string]string `json:"labels"`
}

// ListVoices returns all voices available for the configured API key.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: unexpected status %d", resp.StatusCode)
	}

	var vr voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices decode: %w", err)
	}
	return toProfiles(vr.Voices), nil
}

func toProfiles(voices []elevenLabsVoice) []tts.VoiceProfile {
	profiles := make([]tts.VoiceProfile, 0, len(voices))
	for _, v := range voices {
		meta := make(map[string]string, len(v.Labels)+1)
		for k, val := range v.Labels {
			meta[k] = val
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		profiles = append(profiles, tts.VoiceProfile{
			ID:       v.VoiceID,
			Name:     v.Name,
			Provider: "elevenlabs",
			Metadata: meta,
		})
	}
	return profiles
}

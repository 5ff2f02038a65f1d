// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voicecard/pkg/provider/stt"
)

const (
	defaultEndpoint   = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// closeGrace bounds how long Close waits for Deepgram to flush the last
	// results after CloseStream.
	closeGrace = 3 * time.Second
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithLanguage sets the default language used when the stream config has none.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		if language != "" {
			p.language = language
		}
	}
}

// WithSampleRate sets the default sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		if rate > 0 {
			p.sampleRate = rate
		}
	}
}

// WithEndpoint overrides the streaming endpoint, e.g. for a self-hosted
// Deepgram instance.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		if endpoint != "" {
			p.endpoint = endpoint
		}
	}
}

// WithEndpointing sets the silence in milliseconds after which Deepgram
// finalises an utterance. Zero keeps the service default.
func WithEndpointing(ms int) Option {
	return func(p *Provider) {
		p.endpointing = ms
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey      string
	endpoint    string
	model       string
	language    string
	sampleRate  int
	endpointing int
}

var _ stt.Provider = (*Provider)(nil)

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		endpoint:   defaultEndpoint,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming transcription session with Deepgram.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	// The session outlives the dial context; Close ends it.
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess := &session{
		conn:   conn,
		cancel: cancel,
		finals: make(chan stt.Transcript, 16),
		audio:  make(chan []byte, 256),
		done:   make(chan struct{}),
	}

	sess.wg.Add(2)
	go sess.readLoop(sctx)
	go sess.writeLoop(sctx)

	return sess, nil
}

// buildURL constructs the streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("encoding", "linear16")
	q.Set("interim_results", "false")
	q.Set("sample_rate", strconv.Itoa(sr))
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	if p.endpointing > 0 {
		q.Set("endpointing", strconv.Itoa(p.endpointing))
	}

	// Digits must reach the extractor as digits.
	q.Set("numerals", "true")

	for _, kw := range cfg.Keywords {
		if strings.TrimSpace(kw.Keyword) == "" {
			continue
		}
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ── session ──

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// session is a live Deepgram streaming session. It implements stt.SessionHandle.
type session struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
	finals chan stt.Transcript
	audio  chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// SendAudio queues a PCM audio chunk for delivery to Deepgram.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return fmt.Errorf("deepgram: %w", stt.ErrClosed)
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return fmt.Errorf("deepgram: %w", stt.ErrClosed)
	}
}

// Finals returns the channel of final transcripts.
func (s *session) Finals() <-chan stt.Transcript { return s.finals }

// Close flushes pending audio, asks Deepgram to finalise and tears the
// connection down.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)

		waited := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-time.After(closeGrace):
		}
		s.cancel()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
		<-waited
	})
	return nil
}

// writeLoop forwards audio chunks as binary messages. On close it drains the
// queue and sends CloseStream so the last utterance is finalised.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			for {
				select {
				case chunk := <-s.audio:
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					_ = s.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// readLoop receives JSON messages and forwards final transcripts.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.finals)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			return
		}

		t, ok := parseDeepgramResponse(msg)
		if !ok {
			continue
		}
		select {
		case s.finals <- t:
		case <-ctx.Done():
			return
		}
	}
}

// parseDeepgramResponse parses a raw Deepgram message into a Transcript.
// Non-result messages, interim results and empty transcripts are ignored.
func parseDeepgramResponse(data []byte) (stt.Transcript, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return stt.Transcript{}, false
	}
	if resp.Type != "Results" || !resp.IsFinal || len(resp.Channel.Alternatives) == 0 {
		return stt.Transcript{}, false
	}

	alt := resp.Channel.Alternatives[0]
	if strings.TrimSpace(alt.Transcript) == "" {
		return stt.Transcript{}, false
	}
	return stt.Transcript{
		Text:       alt.Transcript,
		Confidence: alt.Confidence,
		Duration:   time.Duration(resp.Duration * float64(time.Second)),
	}, true
}

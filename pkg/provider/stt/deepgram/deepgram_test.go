package deepgram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voicecard/pkg/provider/stt"
)

// ── URL / query-param tests ──

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{SampleRate: 16000, Channels: 1, Language: "en"})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "interim_results", "false", q.Get("interim_results"))
	assertEqual(t, "numerals", "true", q.Get("numerals"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
	if q.Has("endpointing") {
		t.Error("endpointing should be unset by default")
	}
}

func TestBuildURL_Options(t *testing.T) {
	p, err := New("key", WithModel("base"), WithLanguage("fa"), WithSampleRate(48000), WithEndpointing(300))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	q := u.Query()

	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "fa", q.Get("language"))
	assertEqual(t, "sample_rate", "48000", q.Get("sample_rate"))
	assertEqual(t, "endpointing", "300", q.Get("endpointing"))
}

func TestBuildURL_LanguageOverriddenByCfg(t *testing.T) {
	p, err := New("key", WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{Language: "fa-IR"})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	assertEqual(t, "language", "fa-IR", u.Query().Get("language"))
}

func TestBuildURL_Keywords(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{
		Keywords: []stt.KeywordBoost{
			{Keyword: "cvv", Boost: 5},
			{Keyword: "expiry", Boost: 2.5},
			{Keyword: "  ", Boost: 1},
		},
	})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	kws := u.Query()["keywords"]
	if len(kws) != 2 {
		t.Fatalf("expected 2 keywords, got %d: %v", len(kws), kws)
	}
	assertEqual(t, "keywords[0]", "cvv:5", kws[0])
	assertEqual(t, "keywords[1]", "expiry:2.5", kws[1])
}

// ── JSON parsing tests ──

func TestParseDeepgramResponse_Final(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": true,
		"duration": 1.5,
		"channel": {"alternatives": [{"transcript": "card number 4111", "confidence": 0.95}]}
	}`)

	tr, ok := parseDeepgramResponse(raw)
	if !ok {
		t.Fatal("expected ok=true for final Results message")
	}
	assertEqual(t, "text", "card number 4111", tr.Text)
	if tr.Confidence != 0.95 {
		t.Errorf("expected confidence 0.95, got %f", tr.Confidence)
	}
	if tr.Duration != 1500*time.Millisecond {
		t.Errorf("expected duration 1.5s, got %v", tr.Duration)
	}
}

func TestParseDeepgramResponse_Ignored(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"interim", `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"four"}]}}`},
		{"metadata", `{"type":"Metadata","request_id":"abc"}`},
		{"no alternatives", `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`},
		{"blank transcript", `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":" "}]}}`},
		{"invalid json", `{invalid`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := parseDeepgramResponse([]byte(tt.raw)); ok {
				t.Error("expected ok=false")
			}
		})
	}
}

// ── Constructor tests ──

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	assertEqual(t, "model", defaultModel, p.model)
	assertEqual(t, "language", defaultLanguage, p.language)
	assertEqual(t, "endpoint", defaultEndpoint, p.endpoint)
	if p.sampleRate != defaultSampleRate {
		t.Errorf("expected sampleRate %d, got %d", defaultSampleRate, p.sampleRate)
	}
}

// ── Streaming ──

func TestStartStream_DeliversFinals(t *testing.T) {
	gotAuth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		typ, _, err := conn.Read(ctx)
		if err != nil || typ != websocket.MessageBinary {
			return
		}
		final := `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"cvv 123","confidence":0.9}]}}`
		if err := conn.Write(ctx, websocket.MessageText, []byte(final)); err != nil {
			return
		}
		// Wait for CloseStream, then hang up.
		for {
			typ, msg, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageText && strings.Contains(string(msg), "CloseStream") {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}))
	defer srv.Close()

	p, err := New("secret", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := p.StartStream(ctx, stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("StartStream() error: %v", err)
	}
	if auth := <-gotAuth; auth != "Token secret" {
		t.Errorf("Authorization = %q, want %q", auth, "Token secret")
	}
	if err := sess.SendAudio([]byte{0, 1, 2, 3}); err != nil {
		t.Fatalf("SendAudio() error: %v", err)
	}

	select {
	case tr := <-sess.Finals():
		assertEqual(t, "text", "cvv 123", tr.Text)
	case <-ctx.Done():
		t.Fatal("timed out waiting for final transcript")
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}
	if err := sess.SendAudio([]byte{0}); err == nil {
		t.Error("SendAudio after Close: expected error")
	}
	if _, ok := <-sess.Finals(); ok {
		t.Error("Finals channel should be closed after Close")
	}
}

// ── helpers ──

func assertEqual(t *testing.T, label, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %q, got %q", label, want, got)
	}
}

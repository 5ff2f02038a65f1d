package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/voicecard/internal/cardstore"
	"github.com/MrWong99/voicecard/internal/enroll"
	"github.com/MrWong99/voicecard/internal/health"
	"github.com/MrWong99/voicecard/internal/session"
	"github.com/MrWong99/voicecard/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voicecard/pkg/provider/tts/mock"
)

const testToken = "0123456789abcdef"

func newTestServer(t *testing.T, configure func(*Config)) (*Server, *cardstore.MemStore) {
	t.Helper()
	store := cardstore.NewMemStore()
	loc, err := enroll.LookupLocale(enroll.LocaleEnglish)
	if err != nil {
		t.Fatalf("LookupLocale() error: %v", err)
	}
	m, err := enroll.NewMachine(loc, enroll.NewAdapter(store))
	if err != nil {
		t.Fatalf("NewMachine() error: %v", err)
	}
	cfg := Config{Store: store, Sessions: session.NewManager(m)}
	if configure != nil {
		configure(&cfg)
	}
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv, store
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, rd)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestNew_RequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	if err == nil {
		t.Fatal("New() with empty config should fail")
	}
	for _, want := range []string{"store", "session manager"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestGetUser(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil)
	h := srv.Handler()

	if rec := do(t, h, http.MethodGet, "/v1/user?token=short", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("short token status = %d, want 400", rec.Code)
	}

	rec := do(t, h, http.MethodGet, "/v1/user?token="+testToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	got := decode[userResponse](t, rec)
	if got.User.Token != testToken || got.CardCount != 0 {
		t.Errorf("response = %+v", got)
	}
}

func TestCards_AddListDelete(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil)
	h := srv.Handler()
	do(t, h, http.MethodGet, "/v1/user?token="+testToken, nil)

	card := addCardRequest{Token: testToken, CardNumber: "1111222233334444", CVV: "123", ExpireMonth: "05", ExpireYear: "27", Label: "work"}
	rec := do(t, h, http.MethodPost, "/v1/cards", card)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add status = %d, body %s", rec.Code, rec.Body)
	}
	added := decode[cardResponse](t, rec).Card
	if !added.Default || added.LastFour != "4444" || added.Label != "work" {
		t.Errorf("added card = %+v", added)
	}

	if rec := do(t, h, http.MethodPost, "/v1/cards", card); rec.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", rec.Code)
	}
	bad := card
	bad.CardNumber, bad.CVV = "5555666677778888", "12"
	if rec := do(t, h, http.MethodPost, "/v1/cards", bad); rec.Code != http.StatusBadRequest {
		t.Errorf("bad cvv status = %d, want 400", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/v1/cards?token="+testToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "1111222233334444") {
		t.Error("card list leaks the full card number")
	}
	cards := decode[cardsResponse](t, rec).Cards
	if len(cards) != 1 || cards[0].ID != added.ID {
		t.Fatalf("cards = %+v", cards)
	}

	if rec := do(t, h, http.MethodDelete, "/v1/cards/nope?token="+testToken, nil); rec.Code != http.StatusNotFound {
		t.Errorf("delete unknown status = %d, want 404", rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, "/v1/cards/"+added.ID+"?token="+testToken, nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", rec.Code)
	}
}

func TestCards_UnknownUser(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil)
	rec := do(t, srv.Handler(), http.MethodGet, "/v1/cards?token="+testToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestEnrollment_TextTurns(t *testing.T) {
	t.Parallel()

	srv, store := newTestServer(t, nil)
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/v1/enroll/start", tokenRequest{Token: testToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d, body %s", rec.Code, rec.Body)
	}
	if v := decode[replyView](t, rec); v.Phase != "collecting" || v.Pending != string(enroll.FieldCardNumber) {
		t.Fatalf("start reply = %+v", v)
	}

	var last replyView
	for _, text := range []string{"1234567890123456", "123", "05", "27", "yes"} {
		rec := do(t, h, http.MethodPost, "/v1/enroll/turn", turnRequest{Token: testToken, Transcript: text})
		if rec.Code != http.StatusOK {
			t.Fatalf("turn %q status = %d, body %s", text, rec.Code, rec.Body)
		}
		last = decode[replyView](t, rec)
	}
	if last.Outcome != "committed" || last.CardID == "" || last.LastFour != "3456" {
		t.Errorf("final reply = %+v", last)
	}

	n, err := store.CountCards(context.Background(), testToken)
	if err != nil {
		t.Fatalf("CountCards() error: %v", err)
	}
	if n != 1 {
		t.Errorf("CountCards() = %d, want 1", n)
	}

	if rec := do(t, h, http.MethodDelete, "/v1/enroll?token="+testToken, nil); rec.Code != http.StatusNoContent {
		t.Errorf("end status = %d, want 204", rec.Code)
	}
}

func TestEnrollment_BadRequests(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil)
	h := srv.Handler()

	tests := []struct {
		name string
		path string
		body any
	}{
		{"short token", "/v1/enroll/start", tokenRequest{Token: "abc"}},
		{"empty transcript", "/v1/enroll/turn", turnRequest{Token: testToken, Transcript: "  "}},
		{"unknown field", "/v1/enroll/start", map[string]string{"token": testToken, "extra": "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, h, http.MethodPost, tt.path, tt.body); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestSynthesize(t *testing.T) {
	t.Parallel()

	t.Run("not configured", func(t *testing.T) {
		t.Parallel()
		srv, _ := newTestServer(t, nil)
		rec := do(t, srv.Handler(), http.MethodPost, "/v1/tts", synthesizeRequest{Text: "hi"})
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
	})

	t.Run("streams audio", func(t *testing.T) {
		t.Parallel()
		p := &ttsmock.Provider{SynthesizeChunks: [][]byte{[]byte("ab"), []byte("cd")}}
		srv, _ := newTestServer(t, func(c *Config) {
			c.TTS = p
			c.AudioContentType = ContentTypeFor("pcm_16000")
		})

		rec := do(t, srv.Handler(), http.MethodPost, "/v1/tts", synthesizeRequest{Text: "Say add card."})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
		}
		if got := rec.Body.String(); got != "abcd" {
			t.Errorf("body = %q, want abcd", got)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "audio/L16;rate=16000" {
			t.Errorf("Content-Type = %q", ct)
		}
		if texts := p.Texts(); len(texts) != 1 || texts[0] != "Say add card." {
			t.Errorf("synthesised texts = %q", texts)
		}
	})

	t.Run("empty text", func(t *testing.T) {
		t.Parallel()
		srv, _ := newTestServer(t, func(c *Config) { c.TTS = &ttsmock.Provider{} })
		if rec := do(t, srv.Handler(), http.MethodPost, "/v1/tts", synthesizeRequest{}); rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestRoutes_HealthAndMetrics(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, func(c *Config) {
		c.Health = health.New()
		c.MetricsPath = "/metrics"
		c.MetricsHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "voicecard_turns_total 0\n")
		})
	})
	h := srv.Handler()

	for _, path := range []string{"/healthz", "/readyz"} {
		if rec := do(t, h, http.MethodGet, path, nil); rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, rec.Code)
		}
	}
	rec := do(t, h, http.MethodGet, "/metrics", nil)
	if !strings.Contains(rec.Body.String(), "voicecard_turns_total") {
		t.Errorf("metrics body = %q", rec.Body)
	}
	if rec := do(t, h, http.MethodGet, "/nowhere", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want 404", rec.Code)
	}
}

func TestRoutePattern(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/v1/cards/abc", nil)
	if got := routePattern(req); got != "unmatched" {
		t.Errorf("routePattern() without router = %q, want unmatched", got)
	}
}

func TestContentTypeFor(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"pcm_16000":     "audio/L16;rate=16000",
		"pcm":           "audio/L16",
		"mp3_44100_128": "audio/mpeg",
		"ulaw_8000":     "audio/basic",
		"flac":          "application/octet-stream",
	}
	for in, want := range tests {
		if got := ContentTypeFor(in); got != want {
			t.Errorf("ContentTypeFor(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSetVoice(t *testing.T) {
	t.Parallel()

	p := &ttsmock.Provider{SynthesizeChunks: [][]byte{[]byte("x")}}
	srv, _ := newTestServer(t, func(c *Config) {
		c.TTS = p
		c.Voice = tts.VoiceProfile{ID: "first"}
	})
	srv.SetVoice(tts.VoiceProfile{ID: "second", Language: "fa"})

	if rec := do(t, srv.Handler(), http.MethodPost, "/v1/tts", synthesizeRequest{Text: "سلام"}); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	calls := p.Calls()
	if len(calls) != 1 || calls[0].Voice.ID != "second" || calls[0].Voice.Language != "fa" {
		t.Errorf("calls = %+v, want the replaced voice", calls)
	}
}

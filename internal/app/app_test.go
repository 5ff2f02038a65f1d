package app_test

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voicecard/internal/app"
	"github.com/MrWong99/voicecard/internal/cardstore"
	"github.com/MrWong99/voicecard/internal/config"
	"github.com/MrWong99/voicecard/internal/enroll"
	"github.com/MrWong99/voicecard/internal/resilience"
	"github.com/MrWong99/voicecard/pkg/provider/stt"
	sttmock "github.com/MrWong99/voicecard/pkg/provider/stt/mock"
	"github.com/MrWong99/voicecard/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voicecard/pkg/provider/tts/mock"
)

// testConfig returns a defaulted config with an in-memory store.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader("server:\n  listen_addr: 127.0.0.1:0\n"))
	if err != nil {
		t.Fatalf("LoadFromReader() error: %v", err)
	}
	return cfg
}

func TestNew_MemoryStore(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(t), nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, ok := a.Store().(*cardstore.MemStore); !ok {
		t.Errorf("Store() = %T, want *cardstore.MemStore", a.Store())
	}
	if got := a.Sessions().Machine().Locale().Tag; got != enroll.LocaleEnglish {
		t.Errorf("machine locale = %q, want %q", got, enroll.LocaleEnglish)
	}
}

func TestNew_BadgerStore(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Storage.Backend = config.StorageBadger
	cfg.Storage.BadgerDir = t.TempDir()

	a, err := app.New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, ok := a.Store().(*cardstore.BadgerStore); !ok {
		t.Errorf("Store() = %T, want *cardstore.BadgerStore", a.Store())
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if err := a.Store().Ping(context.Background()); err == nil {
		t.Error("Ping() after Shutdown should fail")
	}
}

func TestNew_HealthAndMetricsRoutes(t *testing.T) {
	t.Parallel()

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})
	a, err := app.New(context.Background(), testConfig(t), nil,
		app.WithStore(cardstore.NewMemStore()),
		app.WithMetricsHandler(metrics),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	for _, path := range []string{"/healthz", "/readyz", config.DefaultMetricsPath} {
		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}

func TestApplyConfig_SwapsMachine(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	a, err := app.New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	next := *cfg
	next.Enrollment.Locale = enroll.LocalePersian
	d := config.Diff(cfg, &next)
	if !d.EnrollmentChanged {
		t.Fatal("Diff() should report an enrollment change")
	}
	if err := a.ApplyConfig(&next, d); err != nil {
		t.Fatalf("ApplyConfig() error: %v", err)
	}
	if got := a.Sessions().Machine().Locale().Tag; got != enroll.LocalePersian {
		t.Errorf("machine locale = %q, want %q", got, enroll.LocalePersian)
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(t), nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(t), nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown() error: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown() error: %v", err)
	}
}

func TestBuildProviders(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	reg.RegisterSTT("primary", func(config.ProviderEntry) (stt.Provider, error) { return &sttmock.Provider{}, nil })
	reg.RegisterSTT("backup", func(config.ProviderEntry) (stt.Provider, error) { return &sttmock.Provider{}, nil })
	reg.RegisterTTS("voice", func(config.ProviderEntry) (tts.Provider, error) { return &ttsmock.Provider{}, nil })

	cfg := testConfig(t)
	cfg.Providers.STT = config.ProviderEntry{
		Name:      "primary",
		Options:   map[string]any{"sample_rate": 8000},
		Fallbacks: []config.ProviderEntry{{Name: "backup"}},
	}
	cfg.Providers.TTS = config.ProviderEntry{Name: "voice"}

	ps, err := app.BuildProviders(cfg, reg, nil)
	if err != nil {
		t.Fatalf("BuildProviders() error: %v", err)
	}
	if _, ok := ps.STT.(*resilience.STTFallback); !ok {
		t.Errorf("STT = %T, want *resilience.STTFallback", ps.STT)
	}
	if ps.STTStates == nil || len(ps.STTStates()) != 2 {
		t.Error("STTStates should report both backends")
	}
	if _, ok := ps.TTS.(*ttsmock.Provider); !ok {
		t.Errorf("TTS = %T, want the bare provider without fallbacks", ps.TTS)
	}
	if ps.TTSStates != nil {
		t.Error("TTSStates should be nil without fallbacks")
	}
	if ps.SampleRate != 8000 || ps.AudioFormat != app.DefaultAudioFormat {
		t.Errorf("SampleRate/AudioFormat = %d/%q", ps.SampleRate, ps.AudioFormat)
	}
}

func TestBuildProviders_Unregistered(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Providers.TTS = config.ProviderEntry{Name: "nope"}
	_, err := app.BuildProviders(cfg, config.NewRegistry(), nil)
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("BuildProviders() error = %v, want ErrProviderNotRegistered", err)
	}
}

func TestVoiceProfile(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	if p := app.VoiceProfile(cfg); p.Settings != nil {
		t.Errorf("Settings = %+v, want nil for provider defaults", p.Settings)
	}

	cfg.Providers.TTS.Name = "elevenlabs"
	cfg.Voice = config.VoiceConfig{VoiceID: "v1", Language: "fa", Stability: 0.65, SimilarityBoost: 0.85, Style: 0.3, UseSpeakerBoost: true}
	p := app.VoiceProfile(cfg)
	if p.ID != "v1" || p.Provider != "elevenlabs" || p.Language != "fa" {
		t.Errorf("profile = %+v", p)
	}
	if p.Settings == nil || p.Settings.Stability != 0.65 || !p.Settings.UseSpeakerBoost {
		t.Errorf("Settings = %+v", p.Settings)
	}
}

func TestOptInt(t *testing.T) {
	t.Parallel()

	opts := map[string]any{"a": 16000, "b": 8000.0, "c": 1.5, "d": "x"}
	tests := map[string]int{"a": 16000, "b": 8000, "c": 0, "d": 0, "missing": 0}
	for key, want := range tests {
		if got := app.OptInt(opts, key); got != want {
			t.Errorf("OptInt(%q) = %d, want %d", key, got, want)
		}
	}
	if got := app.OptInt(nil, "a"); got != 0 {
		t.Errorf("OptInt(nil) = %d, want 0", got)
	}
}

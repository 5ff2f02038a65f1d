package config_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/voicecard/internal/config"
	"github.com/MrWong99/voicecard/internal/enroll"
	"github.com/MrWong99/voicecard/pkg/provider/stt"
	sttmock "github.com/MrWong99/voicecard/pkg/provider/stt/mock"
	"github.com/MrWong99/voicecard/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voicecard/pkg/provider/tts/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  allowed_origins: ["app.example.com"]

providers:
  stt:
    name: deepgram
    api_key: dg-test
    model: nova-3
  tts:
    name: elevenlabs
    api_key: el-test
    model: eleven_turbo_v2_5
    fallbacks:
      - name: elevenlabs
        api_key: el-backup

voice:
  voice_id: voice-123
  language: fa
  stability: 0.65
  similarity_boost: 0.85
  style: 0.3
  use_speaker_boost: true

enrollment:
  locale: fa-IR
  confirm_policy: exclusive
  max_field_attempts: 0
  chunk_card_number: false
  affirm_tokens: ["بله", "آره"]

storage:
  postgres_dsn: "postgres://localhost/voicecard"
`

// ── tests ────────────────────────────────────────────────────────────────────

func TestLoadFromReader_Sample(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader() error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Providers.TTS.Model != "eleven_turbo_v2_5" || len(cfg.Providers.TTS.Fallbacks) != 1 {
		t.Errorf("providers.tts = %+v", cfg.Providers.TTS)
	}
	if cfg.Voice.Stability != 0.65 || !cfg.Voice.UseSpeakerBoost || cfg.Voice.Language != "fa" {
		t.Errorf("voice = %+v", cfg.Voice)
	}
	e := cfg.Enrollment
	if e.Locale != enroll.LocalePersian || e.ConfirmPolicy != enroll.PolicyExclusive {
		t.Errorf("enrollment = %+v", e)
	}
	if e.MaxAttempts() != 0 {
		t.Errorf("MaxAttempts() = %d, want 0", e.MaxAttempts())
	}
	if e.ChunkCardNumbers() {
		t.Error("ChunkCardNumbers() = true, want false")
	}
	if cfg.Telemetry.MetricsPath != config.DefaultMetricsPath || cfg.Telemetry.ServiceName != config.DefaultServiceName {
		t.Errorf("telemetry defaults not applied: %+v", cfg.Telemetry)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader() error: %v", err)
	}
	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("ListenAddr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("LogLevel = %q", cfg.Server.LogLevel)
	}
	e := cfg.Enrollment
	if e.Locale != enroll.LocaleEnglish || e.ConfirmPolicy != enroll.PolicyAffirmFirst {
		t.Errorf("enrollment = %+v", e)
	}
	if e.MaxAttempts() != enroll.DefaultMaxFieldAttempts || !e.ChunkCardNumbers() {
		t.Errorf("MaxAttempts %d chunk %v", e.MaxAttempts(), e.ChunkCardNumbers())
	}
}

func TestEnrollmentConfig_MachineOptions(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader() error: %v", err)
	}
	loc, err := enroll.LookupLocale(cfg.Enrollment.Locale)
	if err != nil {
		t.Fatalf("LookupLocale() error: %v", err)
	}
	m, err := enroll.NewMachine(loc, enroll.NewAdapter(nil), cfg.Enrollment.MachineOptions()...)
	if err != nil {
		t.Fatalf("NewMachine() error: %v", err)
	}
	if got := m.Renderer().Render("1234567890123456"); strings.Contains(got, loc.ListSeparator) {
		t.Errorf("card number chunked despite chunk_card_number: false: %q", got)
	}
}

func TestRegistry_CreateRegistered(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	r.RegisterSTT("mock", func(config.ProviderEntry) (stt.Provider, error) { return &sttmock.Provider{}, nil })
	r.RegisterTTS("mock", func(config.ProviderEntry) (tts.Provider, error) { return &ttsmock.Provider{}, nil })

	if _, err := r.CreateSTT(config.ProviderEntry{Name: "mock"}); err != nil {
		t.Errorf("CreateSTT() error: %v", err)
	}
	p, err := r.CreateTTS(config.ProviderEntry{Name: "mock"})
	if err != nil {
		t.Fatalf("CreateTTS() error: %v", err)
	}
	if _, err := p.ListVoices(context.Background()); err != nil {
		t.Errorf("ListVoices() error: %v", err)
	}
	if got := r.Names("tts"); len(got) != 1 || got[0] != "mock" {
		t.Errorf("Names(tts) = %v", got)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	if _, err := r.CreateSTT(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateSTT() error = %v, want ErrProviderNotRegistered", err)
	}
	if _, err := r.CreateTTS(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateTTS() error = %v, want ErrProviderNotRegistered", err)
	}
}

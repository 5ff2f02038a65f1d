package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voicecard/internal/enroll"
)

// Defaults applied by [LoadFromReader] to unset fields.
const (
	DefaultListenAddr  = ":8080"
	DefaultServiceName = "voicecard"
	DefaultMetricsPath = "/metrics"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"deepgram"},
	"tts": {"elevenlabs"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields of cfg with their default values.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Enrollment.Locale == "" {
		cfg.Enrollment.Locale = enroll.LocaleEnglish
	}
	if cfg.Enrollment.ConfirmPolicy == "" {
		cfg.Enrollment.ConfirmPolicy = enroll.PolicyAffirmFirst
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = StorageMemory
		if cfg.Storage.PostgresDSN != "" {
			cfg.Storage.Backend = StoragePostgres
		}
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
	if cfg.Telemetry.MetricsPath == "" {
		cfg.Telemetry.MetricsPath = DefaultMetricsPath
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	errs = append(errs, validateProvider("stt", "providers.stt", cfg.Providers.STT)...)
	errs = append(errs, validateProvider("tts", "providers.tts", cfg.Providers.TTS)...)
	if cfg.Providers.TTS.Name != "" && cfg.Voice.VoiceID == "" {
		errs = append(errs, errors.New("voice.voice_id is required when providers.tts is configured"))
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("no STT provider configured; only text transcripts will be accepted on the voice endpoint")
	}

	// Voice
	for name, v := range map[string]float64{
		"stability":        cfg.Voice.Stability,
		"similarity_boost": cfg.Voice.SimilarityBoost,
		"style":            cfg.Voice.Style,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("voice.%s %.2f is out of range [0, 1]", name, v))
		}
	}

	// Enrollment
	e := cfg.Enrollment
	if e.Locale != "" && !slices.Contains(enroll.LocaleTags(), e.Locale) {
		errs = append(errs, fmt.Errorf("enrollment.locale %q is invalid; valid values: %s", e.Locale, strings.Join(enroll.LocaleTags(), ", ")))
	}
	if e.ConfirmPolicy != "" && !e.ConfirmPolicy.IsValid() {
		errs = append(errs, fmt.Errorf("enrollment.confirm_policy %q is invalid; valid values: %s, %s", e.ConfirmPolicy, enroll.PolicyAffirmFirst, enroll.PolicyExclusive))
	}
	if e.MaxAttempts() < 0 {
		errs = append(errs, fmt.Errorf("enrollment.max_field_attempts %d must not be negative", e.MaxAttempts()))
	}
	for _, tok := range slices.Concat(e.AffirmTokens, e.DenyTokens, e.StartTokens) {
		if strings.TrimSpace(tok) == "" {
			errs = append(errs, errors.New("enrollment tokens must not be blank"))
			break
		}
	}
	for _, tok := range e.AffirmTokens {
		if slices.Contains(e.DenyTokens, tok) {
			errs = append(errs, fmt.Errorf("enrollment token %q is both an affirmation and a negation", tok))
		}
	}

	// Storage
	switch b := cfg.Storage.Backend; {
	case b == "":
	case !b.IsValid():
		errs = append(errs, fmt.Errorf("storage.backend %q is invalid; valid values: %s, %s, %s", b, StorageMemory, StoragePostgres, StorageBadger))
	case b == StoragePostgres && cfg.Storage.PostgresDSN == "":
		errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres backend"))
	case b == StorageBadger && cfg.Storage.BadgerDir == "":
		errs = append(errs, errors.New("storage.badger_dir is required for the badger backend"))
	case b == StorageMemory:
		slog.Warn("storage backend is memory; cards are lost on restart")
	}

	// Telemetry
	if p := cfg.Telemetry.MetricsPath; p != "" && !strings.HasPrefix(p, "/") {
		errs = append(errs, fmt.Errorf("telemetry.metrics_path %q must start with /", p))
	}

	return errors.Join(errs...)
}

func validateProvider(kind, prefix string, entry ProviderEntry) []error {
	var errs []error
	validateProviderName(kind, entry.Name)
	if entry.Name == "" && len(entry.Fallbacks) > 0 {
		errs = append(errs, fmt.Errorf("%s.fallbacks requires a primary provider name", prefix))
	}
	for i, fb := range entry.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.fallbacks[%d].name is required", prefix, i))
			continue
		}
		if len(fb.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("%s.fallbacks[%d] must not declare nested fallbacks", prefix, i))
		}
		validateProviderName(kind, fb.Name)
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

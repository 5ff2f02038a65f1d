package app

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/voicecard/internal/config"
	"github.com/MrWong99/voicecard/internal/resilience"
	"github.com/MrWong99/voicecard/pkg/provider/stt"
	"github.com/MrWong99/voicecard/pkg/provider/tts"
)

// Defaults for provider options that are not configured.
const (
	DefaultSampleRate  = 16000
	DefaultAudioFormat = "pcm_16000"
)

// Providers holds the speech providers. Nil means the slot is not
// configured.
type Providers struct {
	STT stt.Provider
	TTS tts.Provider

	// STTStates and TTSStates report per-backend breaker states when the
	// slot is a fallback group.
	STTStates func() map[string]resilience.State
	TTSStates func() map[string]resilience.State

	// SampleRate is the PCM rate sent to the recogniser.
	SampleRate int

	// AudioFormat is the synthesis output format, e.g. "pcm_16000".
	AudioFormat string
}

func (p *Providers) sampleRate() int {
	if p.SampleRate > 0 {
		return p.SampleRate
	}
	return DefaultSampleRate
}

// BuildProviders instantiates the providers named in cfg. A slot with
// fallbacks becomes a failover group whose breaker transitions are passed
// to onBreaker, which may be nil.
func BuildProviders(cfg *config.Config, reg *config.Registry, onBreaker func(name string, from, to resilience.State)) (*Providers, error) {
	ps := &Providers{
		SampleRate:  OptInt(cfg.Providers.STT.Options, "sample_rate"),
		AudioFormat: OptString(cfg.Providers.TTS.Options, "output_format"),
	}
	if ps.AudioFormat == "" {
		ps.AudioFormat = DefaultAudioFormat
	}
	fbCfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{OnStateChange: onBreaker},
	}

	if entry := cfg.Providers.STT; entry.Name != "" {
		primary, err := createSTT(reg, entry)
		if err != nil {
			return nil, err
		}
		ps.STT = primary
		if len(entry.Fallbacks) > 0 {
			group := resilience.NewSTTFallback(primary, entry.Name, fbCfg)
			for _, fb := range entry.Fallbacks {
				p, err := createSTT(reg, fb)
				if err != nil {
					return nil, err
				}
				group.AddFallback(fb.Name, p)
			}
			ps.STT, ps.STTStates = group, group.States
		}
	}

	if entry := cfg.Providers.TTS; entry.Name != "" {
		primary, err := createTTS(reg, entry)
		if err != nil {
			return nil, err
		}
		ps.TTS = primary
		if len(entry.Fallbacks) > 0 {
			group := resilience.NewTTSFallback(primary, entry.Name, fbCfg)
			for _, fb := range entry.Fallbacks {
				p, err := createTTS(reg, fb)
				if err != nil {
					return nil, err
				}
				group.AddFallback(fb.Name, p)
			}
			ps.TTS, ps.TTSStates = group, group.States
		}
	}
	return ps, nil
}

func createSTT(reg *config.Registry, entry config.ProviderEntry) (stt.Provider, error) {
	p, err := reg.CreateSTT(entry)
	if err != nil {
		return nil, fmt.Errorf("app: create stt provider %q: %w", entry.Name, err)
	}
	slog.Info("provider created", "kind", "stt", "name", entry.Name)
	return p, nil
}

func createTTS(reg *config.Registry, entry config.ProviderEntry) (tts.Provider, error) {
	p, err := reg.CreateTTS(entry)
	if err != nil {
		return nil, fmt.Errorf("app: create tts provider %q: %w", entry.Name, err)
	}
	slog.Info("provider created", "kind", "tts", "name", entry.Name)
	return p, nil
}

// OptString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func OptString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// OptInt extracts an integer value from a provider Options map. YAML
// integers decode as int; floats with no fraction are accepted too.
func OptInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		if v == float64(int(v)) {
			return int(v)
		}
	}
	return 0
}


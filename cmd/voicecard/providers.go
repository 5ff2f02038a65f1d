package main

import (
	"log/slog"

	"github.com/MrWong99/voicecard/internal/app"
	"github.com/MrWong99/voicecard/internal/config"
	"github.com/MrWong99/voicecard/pkg/provider/stt"
	"github.com/MrWong99/voicecard/pkg/provider/stt/deepgram"
	"github.com/MrWong99/voicecard/pkg/provider/tts"
	"github.com/MrWong99/voicecard/pkg/provider/tts/elevenlabs"
)

// registerBuiltinProviders wires the provider factories that ship with
// voicecard into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []deepgram.Option{
			deepgram.WithModel(entry.Model),
			deepgram.WithEndpoint(entry.BaseURL),
			deepgram.WithSampleRate(app.OptInt(entry.Options, "sample_rate")),
			deepgram.WithLanguage(app.OptString(entry.Options, "language")),
		}
		if ms := app.OptInt(entry.Options, "endpointing_ms"); ms > 0 {
			opts = append(opts, deepgram.WithEndpointing(ms))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if f := app.OptString(entry.Options, "output_format"); f != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(f))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	for _, kind := range []string{"stt", "tts"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

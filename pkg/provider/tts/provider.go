// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service and presents a uniform
// streaming interface. SynthesizeStream accepts a channel of text fragments
// and returns a channel of audio chunks as they become available, so prompt
// playback can start before synthesis finishes.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes text fragments and returns a channel that
	// emits audio chunks as they are synthesised.
	//
	// The returned channel is closed when all text has been synthesised or
	// ctx is cancelled. The caller must drain it. A non-nil error means the
	// stream could not be started; failures during synthesis close the
	// channel early.
	SynthesizeStream(ctx context.Context, text <-chan string, voice VoiceProfile) (<-chan []byte, error)

	// ListVoices returns the voices available from this provider.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}

// Speak synthesises a single complete text. It is a convenience wrapper
// around SynthesizeStream for prompts that are known up front.
func Speak(ctx context.Context, p Provider, text string, voice VoiceProfile) (<-chan []byte, error) {
	ch := make(chan string, 1)
	ch <- text
	close(ch)
	return p.SynthesizeStream(ctx, ch, voice)
}

// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a real-time transcription service and exposes a
// uniform streaming interface. Once opened, a SessionHandle accepts raw PCM
// frames and emits authoritative final transcripts, one per utterance. The
// enrollment dialogue only ever acts on finals, so interim hypotheses are
// not part of the contract.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrClosed is returned by SendAudio after the session has been closed.
var ErrClosed = errors.New("stt: session closed")

// StreamConfig describes the audio format and recognition hints for a new STT
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. 16000 is the usual value for
	// browser and telephony capture.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US",
	// "fa-IR"). An empty string lets the provider pick its default.
	Language string

	// Keywords raises the recognition probability of dialogue vocabulary
	// such as spoken digits and field names.
	Keywords []KeywordBoost
}

// SessionHandle represents an open STT streaming session.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio. The chunk must match the
	// format agreed in StreamConfig. Calling SendAudio after Close returns
	// [ErrClosed].
	SendAudio(chunk []byte) error

	// Finals returns a channel that emits one Transcript per finished
	// utterance. The channel is closed when the session ends.
	Finals() <-chan Transcript

	// Close terminates the session, flushes pending audio and releases all
	// resources. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a new streaming session. The caller owns the
	// returned SessionHandle and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}

package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/voicecard/pkg/audio"
	"github.com/MrWong99/voicecard/pkg/provider/stt"
)

// ErrInvalidStream is returned by [STTFallback.StartStream] for a stream
// format no backend could accept. No breaker is charged for it.
var ErrInvalidStream = errors.New("resilience: invalid stt stream config")

// STTFallback implements [stt.Provider] with failover across several STT
// backends. Only stream setup fails over; a stream that breaks while a
// caller is dictating is reported through its closed Finals channel and
// reopened by the caller, possibly on another backend.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional STT backend.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// States reports the breaker state of every backend.
func (f *STTFallback) States() map[string]State { return f.group.States() }

// StartStream opens a stream on the first healthy backend. The returned
// handle names that backend through [ServedBy].
//
// The recogniser always receives mono PCM converted by the voice endpoint,
// so a config the converter cannot produce is a caller bug and fails fast
// with [ErrInvalidStream] instead of tripping every breaker in turn.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	format := audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidStream, err)
	}
	h, name, err := executeNamed(f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
	if err != nil {
		return nil, err
	}
	return &servedSession{SessionHandle: h, backend: name}, nil
}

// servedSession remembers which backend opened a stream.
type servedSession struct {
	stt.SessionHandle
	backend string
}

// ServedBy returns the name of the fallback backend that opened h, or "" when
// h was not opened through an [STTFallback].
func ServedBy(h stt.SessionHandle) string {
	if s, ok := h.(*servedSession); ok {
		return s.backend
	}
	return ""
}

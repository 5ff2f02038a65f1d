// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio chunks to consumers and to verify
// which text and VoiceProfile reached the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    SynthesizeChunks: [][]byte{[]byte("audio1"), []byte("audio2")},
//	    ListVoicesResult: []tts.VoiceProfile{{ID: "v1", Name: "Alice"}},
//	}
//	ch, _ := p.SynthesizeStream(ctx, textCh, voice)
package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/MrWong99/voicecard/pkg/provider/tts"
)

// SynthesizeStreamCall records a single invocation of SynthesizeStream.
type SynthesizeStreamCall struct {
	Ctx   context.Context
	Voice tts.VoiceProfile

	// Text is the concatenation of every fragment read from the text
	// channel. It is complete once the returned audio channel is closed.
	Text string
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// SynthesizeChunks is the sequence of audio chunks emitted by every
	// SynthesizeStream call after the text channel is drained.
	SynthesizeChunks [][]byte

	// SynthesizeErr, if non-nil, is returned by SynthesizeStream.
	SynthesizeErr error

	// ListVoicesResult and ListVoicesErr are returned by ListVoices.
	ListVoicesResult []tts.VoiceProfile
	ListVoicesErr    error

	calls      []*SynthesizeStreamCall
	listVoices int
}

var _ tts.Provider = (*Provider)(nil)

// SynthesizeStream records the call, drains text and then emits
// SynthesizeChunks.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	call := &SynthesizeStreamCall{Ctx: ctx, Voice: voice}
	p.calls = append(p.calls, call)
	if p.SynthesizeErr != nil {
		err := p.SynthesizeErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := make([][]byte, len(p.SynthesizeChunks))
	copy(chunks, p.SynthesizeChunks)
	p.mu.Unlock()

	ch := make(chan []byte, len(chunks))
	go func() {
		defer close(ch)
		var sb strings.Builder
		for frag := range text {
			sb.WriteString(frag)
		}
		p.mu.Lock()
		call.Text = sb.String()
		p.mu.Unlock()

		for _, audio := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- audio:
			}
		}
	}()
	return ch, nil
}

// ListVoices records the call and returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listVoices++
	return p.ListVoicesResult, p.ListVoicesErr
}

// Calls returns copies of the recorded SynthesizeStream calls. Thread-safe.
func (p *Provider) Calls() []SynthesizeStreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeStreamCall, len(p.calls))
	for i, c := range p.calls {
		out[i] = *c
	}
	return out
}

// Texts returns the synthesised text of every recorded call, in order.
func (p *Provider) Texts() []string {
	calls := p.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Text
	}
	return out
}

// ListVoicesCallCount returns the number of ListVoices calls. Thread-safe.
func (p *Provider) ListVoicesCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listVoices
}

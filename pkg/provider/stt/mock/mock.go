// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to verify that the caller starts sessions with the expected
// StreamConfig. Use Session to feed controlled final transcripts and inspect
// which audio chunks were delivered.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.StartStream(ctx, cfg)
//	sess.FinalsCh <- stt.Transcript{Text: "cvv 123"}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voicecard/pkg/provider/stt"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	Ctx context.Context
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by StartStream. If nil,
	// StartStream returns a fresh [NewSession].
	Session stt.SessionHandle

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall
}

var _ stt.Provider = (*Provider)(nil)

// StartStream records the call and returns Session, StartStreamErr.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Calls returns a copy of the recorded StartStream calls. Thread-safe.
func (p *Provider) Calls() []StartStreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]StartStreamCall, len(p.StartStreamCalls))
	copy(out, p.StartStreamCalls)
	return out
}

// Session is a mock implementation of stt.SessionHandle. Tests send on
// FinalsCh to simulate recognised utterances. Close closes FinalsCh.
type Session struct {
	mu sync.Mutex

	// FinalsCh is the channel returned by Finals().
	FinalsCh chan stt.Transcript

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	sendAudioCalls [][]byte
	closeCalls     int
	closed         bool
}

var _ stt.SessionHandle = (*Session)(nil)

// NewSession returns a Session with a buffered FinalsCh.
func NewSession() *Session {
	return &Session{FinalsCh: make(chan stt.Transcript, 16)}
}

// SendAudio records a copy of chunk and returns SendAudioErr, or
// [stt.ErrClosed] after Close.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stt.ErrClosed
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.sendAudioCalls = append(s.sendAudioCalls, cp)
	return s.SendAudioErr
}

// Finals returns FinalsCh.
func (s *Session) Finals() <-chan stt.Transcript { return s.FinalsCh }

// Close records the call and closes FinalsCh once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	if !s.closed {
		s.closed = true
		close(s.FinalsCh)
	}
	return nil
}

// AudioChunks returns copies of all chunks passed to SendAudio. Thread-safe.
func (s *Session) AudioChunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sendAudioCalls))
	copy(out, s.sendAudioCalls)
	return out
}

// CloseCallCount returns the number of Close calls. Thread-safe.
func (s *Session) CloseCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

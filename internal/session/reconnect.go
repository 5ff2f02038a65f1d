package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voicecard/internal/resilience"
	"github.com/MrWong99/voicecard/pkg/provider/stt"
)

// Default reconnection parameters.
const (
	defaultMaxRetries = 5
	defaultBackoff    = 500 * time.Millisecond
	defaultMaxBackoff = 10 * time.Second
)

// ErrReconnectFailed is returned by [Reconnector.Run] when the stream could
// not be re-established within the retry budget.
var ErrReconnectFailed = errors.New("session: stt stream reconnection failed")

// Reconnector keeps a speech-to-text stream open for the lifetime of a voice
// connection. When the provider ends the stream unexpectedly it starts a new
// one with exponential backoff and keeps delivering finals on the same
// channel.
//
// All methods are safe for concurrent use.
type Reconnector struct {
	provider    stt.Provider
	stream      stt.StreamConfig
	maxRetries  int
	backoff     time.Duration
	maxBackoff  time.Duration
	onReconnect func(attempt int)

	out chan string

	mu       sync.Mutex
	handle   stt.SessionHandle
	done     chan struct{}
	stopOnce sync.Once
}

// ReconnectorConfig configures a [Reconnector].
type ReconnectorConfig struct {
	// Provider opens the streams.
	Provider stt.Provider

	// Stream is passed to every StartStream call.
	Stream stt.StreamConfig

	// MaxRetries bounds consecutive failed restarts. Defaults to 5.
	MaxRetries int

	// Backoff is the initial wait between restarts. It doubles up to
	// MaxBackoff. Defaults to 500ms and 10s.
	Backoff    time.Duration
	MaxBackoff time.Duration

	// OnReconnect is called after a successful restart. May be nil.
	OnReconnect func(attempt int)
}

// NewReconnector returns a [Reconnector]. Call [Reconnector.Connect] before
// [Reconnector.Run].
func NewReconnector(cfg ReconnectorConfig) *Reconnector {
	r := &Reconnector{
		provider:    cfg.Provider,
		stream:      cfg.Stream,
		maxRetries:  cfg.MaxRetries,
		backoff:     cfg.Backoff,
		maxBackoff:  cfg.MaxBackoff,
		onReconnect: cfg.OnReconnect,
		out:         make(chan string, 8),
		done:        make(chan struct{}),
	}
	if r.maxRetries <= 0 {
		r.maxRetries = defaultMaxRetries
	}
	if r.backoff <= 0 {
		r.backoff = defaultBackoff
	}
	if r.maxBackoff <= 0 {
		r.maxBackoff = defaultMaxBackoff
	}
	return r
}

// Connect opens the initial stream.
func (r *Reconnector) Connect(ctx context.Context) error {
	h, err := r.provider.StartStream(ctx, r.stream)
	if err != nil {
		return fmt.Errorf("session: start stt stream: %w", err)
	}
	if b := resilience.ServedBy(h); b != "" {
		slog.Debug("stt stream opened", "backend", b)
	}
	r.mu.Lock()
	r.handle = h
	r.mu.Unlock()
	return nil
}

// Transcripts returns the channel finals are delivered on. It is closed
// when [Reconnector.Run] returns.
func (r *Reconnector) Transcripts() <-chan string { return r.out }

// SendAudio forwards PCM to the current stream. Audio sent while a restart
// is in progress is discarded.
func (r *Reconnector) SendAudio(chunk []byte) error {
	r.mu.Lock()
	h := r.handle
	r.mu.Unlock()
	if h == nil {
		return nil
	}
	err := h.SendAudio(chunk)
	if errors.Is(err, stt.ErrClosed) {
		return nil
	}
	return err
}

// Run pumps finals until ctx is cancelled, [Reconnector.Stop] is called or
// the stream cannot be restarted. It returns ctx.Err() on cancellation, nil
// after Stop and an error wrapping [ErrReconnectFailed] when the retry
// budget is exhausted.
func (r *Reconnector) Run(ctx context.Context) error {
	defer close(r.out)

	for {
		select {
		case <-r.done:
			return nil
		default:
		}

		r.mu.Lock()
		h := r.handle
		r.mu.Unlock()
		if h == nil {
			return errors.New("session: reconnector not connected")
		}

		if stopped := r.pump(ctx, h); stopped {
			return ctx.Err()
		}
		_ = h.Close()

		slog.Warn("stt stream ended unexpectedly, reconnecting")
		if err := r.reconnect(ctx); err != nil {
			return err
		}
	}
}

// pump forwards finals from h. It reports true when it stopped because of
// ctx or Stop rather than the stream ending.
func (r *Reconnector) pump(ctx context.Context, h stt.SessionHandle) bool {
	finals := h.Finals()
	for {
		select {
		case <-ctx.Done():
			return true
		case <-r.done:
			return true
		case t, ok := <-finals:
			if !ok {
				select {
				case <-r.done:
					return true
				default:
					return false
				}
			}
			select {
			case r.out <- t.Text:
			case <-ctx.Done():
				return true
			case <-r.done:
				return true
			}
		}
	}
}

func (r *Reconnector) reconnect(ctx context.Context) error {
	r.mu.Lock()
	r.handle = nil
	r.mu.Unlock()

	wait := r.backoff
	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		h, err := r.provider.StartStream(ctx, r.stream)
		if err == nil {
			r.mu.Lock()
			select {
			case <-r.done:
				r.mu.Unlock()
				_ = h.Close()
				return nil
			default:
			}
			r.handle = h
			r.mu.Unlock()

			slog.Info("stt stream reconnected", "attempt", attempt, "backend", resilience.ServedBy(h))
			if r.onReconnect != nil {
				r.onReconnect(attempt)
			}
			return nil
		}

		slog.Warn("stt reconnection attempt failed", "attempt", attempt, "max_retries", r.maxRetries, "err", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.done:
			return nil
		case <-time.After(wait):
		}
		wait = min(wait*2, r.maxBackoff)
	}
	return fmt.Errorf("%w after %d attempts", ErrReconnectFailed, r.maxRetries)
}

// Stop closes the current stream and ends [Reconnector.Run]. It is safe to
// call more than once.
func (r *Reconnector) Stop() error {
	r.stopOnce.Do(func() { close(r.done) })

	r.mu.Lock()
	h := r.handle
	r.handle = nil
	r.mu.Unlock()

	if h != nil {
		return h.Close()
	}
	return nil
}

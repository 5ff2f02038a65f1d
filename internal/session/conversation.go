package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/voicecard/internal/enroll"
	"github.com/MrWong99/voicecard/internal/observe"
)

// Speaker plays a prompt to the user. Speak returns once playback has
// finished or failed.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// SpeakerFunc adapts a function to [Speaker].
type SpeakerFunc func(ctx context.Context, text string) error

// Speak implements [Speaker].
func (f SpeakerFunc) Speak(ctx context.Context, text string) error { return f(ctx, text) }

// ConversationConfig configures a [Conversation].
type ConversationConfig struct {
	// Session receives the turns. Required.
	Session *Session

	// Speaker plays every prompt. Required.
	Speaker Speaker

	// Transcripts delivers finalised transcripts. The conversation ends
	// when it is closed. Required.
	Transcripts <-chan string

	// AutoStart starts an enrollment attempt before the first transcript
	// instead of waiting for a start phrase.
	AutoStart bool

	// OnReply, if set, is called with every reply before its prompt is
	// spoken.
	OnReply func(enroll.Reply)

	// Metrics counts dropped transcripts. May be nil.
	Metrics *observe.Metrics
}

// Conversation drives a [Session] from spoken input. Only one transcript is
// in flight at a time: a transcript that arrives while a turn is being
// processed or its prompt is playing is dropped.
type Conversation struct {
	cfg     ConversationConfig
	busy    atomic.Bool
	dropped atomic.Int64
}

// NewConversation validates cfg and returns a conversation ready to [Run].
func NewConversation(cfg ConversationConfig) (*Conversation, error) {
	var errs []error
	if cfg.Session == nil {
		errs = append(errs, errors.New("session is required"))
	}
	if cfg.Speaker == nil {
		errs = append(errs, errors.New("speaker is required"))
	}
	if cfg.Transcripts == nil {
		errs = append(errs, errors.New("transcript source is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, errors.Join(errors.New("session: invalid conversation config"), err)
	}
	return &Conversation{cfg: cfg}, nil
}

// Dropped returns how many transcripts were discarded because they arrived
// while the conversation was busy.
func (c *Conversation) Dropped() int64 { return c.dropped.Load() }

// Run processes transcripts until the source is closed or ctx is
// cancelled. It returns ctx.Err() on cancellation and nil otherwise.
func (c *Conversation) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(observe.WithSession(ctx, c.cfg.Session.ID()))

	turns := make(chan string)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	// Busy until the greeting has played.
	c.busy.Store(c.cfg.AutoStart)
	wg.Go(func() { c.gate(ctx, turns) })

	if c.cfg.AutoStart {
		c.deliver(ctx, c.cfg.Session.Start(ctx))
		c.busy.Store(false)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case text, ok := <-turns:
			if !ok {
				return ctx.Err()
			}
			reply, _ := c.cfg.Session.Turn(ctx, text)
			c.deliver(ctx, reply)
			c.busy.Store(false)
		}
	}
}

// gate forwards transcripts to turns while the conversation is idle and
// drops them otherwise. It closes turns when the source ends.
func (c *Conversation) gate(ctx context.Context, turns chan<- string) {
	defer close(turns)
	for {
		var text string
		var ok bool
		select {
		case <-ctx.Done():
			return
		case text, ok = <-c.cfg.Transcripts:
			if !ok {
				return
			}
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if !c.busy.CompareAndSwap(false, true) {
			c.dropped.Add(1)
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.DroppedTranscripts.Add(ctx, 1)
			}
			observe.Logger(ctx).Debug("transcript dropped while busy")
			continue
		}
		select {
		case turns <- text:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Conversation) deliver(ctx context.Context, reply enroll.Reply) {
	if c.cfg.OnReply != nil {
		c.cfg.OnReply(reply)
	}
	if reply.Prompt == "" {
		return
	}
	if err := c.cfg.Speaker.Speak(ctx, reply.Prompt); err != nil && ctx.Err() == nil {
		observe.Logger(ctx).Warn("prompt playback failed", "err", err)
	}
}

// Package enroll implements the slot-filling dialogue that collects a
// payment card by voice.
//
// A [Machine] drives one enrollment attempt per [State]: it asks for the
// card number, CVV, expiry month and expiry year in that order, reads each
// captured value back as spoken digits, and persists the draft through a
// [Committer] only after an explicit yes. Field values are found by an
// [Extractor], a table of ordered pattern rules over normalised
// transcripts.
//
// The Machine is immutable and shared by all sessions; every call receives
// the session's State. Calls for one State must be serialised by the
// caller.
package enroll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrInvariant marks a broken internal invariant, such as a commit attempted
// with an incomplete draft. It indicates a defect rather than bad input.
var ErrInvariant = errors.New("enroll: invariant violation")

// DefaultMaxFieldAttempts is the number of consecutive misses on one field
// after which an attempt is abandoned.
const DefaultMaxFieldAttempts = 3

// Outcome is the terminal result of a turn, if any.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeCommitted
	OutcomeCancelled
	OutcomeFailed
	OutcomeAbandoned
)

// String implements [fmt.Stringer].
func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeCommitted:
		return "committed"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	case OutcomeAbandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Reply is the result of one turn.
type Reply struct {
	// Prompt is the text to speak next.
	Prompt string

	// Phase and Pending mirror the state after the turn.
	Phase   Phase
	Pending Field

	Outcome Outcome

	// Missed is set when the requested field was not found and is being
	// asked for again.
	Missed bool

	// Card is set for OutcomeCommitted.
	Card *Confirmation

	// Err is the persistence error for OutcomeFailed.
	Err error
}

// Option configures a [Machine].
type Option func(*Machine)

// WithAffirmTokens replaces the locale's affirmation tokens.
func WithAffirmTokens(tokens ...string) Option {
	return func(m *Machine) {
		if len(tokens) > 0 {
			m.affirm = tokens
		}
	}
}

// WithDenyTokens replaces the locale's negation tokens.
func WithDenyTokens(tokens ...string) Option {
	return func(m *Machine) {
		if len(tokens) > 0 {
			m.deny = tokens
		}
	}
}

// WithStartTokens replaces the locale's start phrases.
func WithStartTokens(tokens ...string) Option {
	return func(m *Machine) {
		if len(tokens) > 0 {
			m.start = tokens
		}
	}
}

// WithConfirmPolicy sets how replies containing both a yes and a no are
// treated. Default: [PolicyAffirmFirst].
func WithConfirmPolicy(p ConfirmPolicy) Option {
	return func(m *Machine) { m.policy = p }
}

// WithMaxFieldAttempts bounds consecutive misses on one field. Zero
// disables the bound. Default: [DefaultMaxFieldAttempts].
func WithMaxFieldAttempts(n int) Option {
	return func(m *Machine) { m.maxMisses = n }
}

// WithChunkedCardNumbers controls whether card numbers are read back in
// groups of four. Default: true.
func WithChunkedCardNumbers(on bool) Option {
	return func(m *Machine) { m.chunk = on }
}

// Machine is the enrollment dialogue state machine.
type Machine struct {
	locale    *Locale
	committer Committer

	affirm, deny, start []string
	policy              ConfirmPolicy
	maxMisses           int
	chunk               bool

	extractor  *Extractor
	renderer   Renderer
	classifier Classifier
}

// NewMachine returns a machine speaking loc and committing through c.
func NewMachine(loc *Locale, c Committer, opts ...Option) (*Machine, error) {
	if loc == nil {
		return nil, errors.New("enroll: nil locale")
	}
	if c == nil {
		return nil, errors.New("enroll: nil committer")
	}
	m := &Machine{
		locale:    loc,
		committer: c,
		affirm:    loc.AffirmTokens,
		deny:      loc.DenyTokens,
		start:     loc.StartTokens,
		policy:    PolicyAffirmFirst,
		maxMisses: DefaultMaxFieldAttempts,
		chunk:     true,
	}
	for _, o := range opts {
		o(m)
	}
	if m.maxMisses < 0 {
		return nil, fmt.Errorf("enroll: negative max field attempts %d", m.maxMisses)
	}

	cl, err := NewClassifier(m.affirm, m.deny, m.policy)
	if err != nil {
		return nil, err
	}
	m.classifier = cl
	m.start = lowerAll(m.start)
	m.extractor = NewExtractor(loc)
	m.renderer = NewRenderer(loc, m.chunk)
	return m, nil
}

// Locale returns the machine's locale.
func (m *Machine) Locale() *Locale { return m.locale }

// Renderer returns the machine's spoken-number renderer.
func (m *Machine) Renderer() Renderer { return m.renderer }

// Start discards any attempt in progress on st and asks for the first
// field.
func (m *Machine) Start(st *State) Reply {
	st.begin()
	return m.reply(st, m.locale.Prompts.Ask[st.Pending])
}

// Handle advances st by one finalised transcript and returns what to say
// next.
//
// The returned error is non-nil only for [ErrInvariant] violations; the
// attempt has then been aborted, st is idle and the Reply carries a spoken
// failure notice. Persistence failures are reported through
// [OutcomeFailed], not as an error.
func (m *Machine) Handle(ctx context.Context, st *State, transcript string) (Reply, error) {
	if err := st.Check(); err != nil {
		return m.abort(st, err)
	}

	switch st.Phase {
	case PhaseIdle, PhaseCancelled:
		if containsAny(strings.ToLower(transcript), m.start) {
			return m.Start(st), nil
		}
		st.reset()
		return m.reply(st, m.locale.Prompts.IdleHint), nil
	case PhaseCollecting:
		return m.collect(st, transcript), nil
	case PhaseAwaitingConfirmation:
		return m.confirm(ctx, st, transcript)
	default:
		return m.abort(st, fmt.Errorf("%w: transcript received while %s", ErrInvariant, st.Phase))
	}
}

// fillOrder is the order in which extracted values are merged and read back.
var fillOrder = [...]Field{FieldCardNumber, FieldCVV, FieldExpireMonth, FieldExpireYear, FieldLabel}

func (m *Machine) collect(st *State, transcript string) Reply {
	asked := st.Pending
	got := m.extractor.Extract(transcript, asked)
	if st.opening {
		st.opening = false
		for f, v := range m.extractor.Extract(transcript, FieldNone) {
			if _, ok := got[f]; !ok {
				got[f] = v
			}
		}
	}

	var parts []string
	for _, f := range fillOrder {
		if st.Draft.fill(f, got[f]) {
			parts = append(parts, fmt.Sprintf(m.locale.Prompts.Captured[f], m.spoken(f, got[f])))
		}
	}

	missed := !st.Draft.Has(asked)
	if missed {
		st.Misses++
		if m.maxMisses > 0 && st.Misses >= m.maxMisses {
			st.reset()
			r := m.reply(st, m.locale.Prompts.GaveUp)
			r.Outcome = OutcomeAbandoned
			r.Missed = true
			return r
		}
		parts = append(parts, m.locale.Prompts.Retry)
	} else {
		st.Misses = 0
	}

	next, incomplete := st.Draft.NextMissing()
	if !incomplete {
		st.Phase = PhaseAwaitingConfirmation
		st.Pending = FieldNone
		return m.reply(st, m.summary(&st.Draft))
	}

	st.Pending = next
	parts = append(parts, m.locale.Prompts.Ask[next])
	r := m.reply(st, strings.Join(parts, " "))
	r.Missed = missed
	return r
}

func (m *Machine) confirm(ctx context.Context, st *State, transcript string) (Reply, error) {
	switch m.classifier.Classify(transcript) {
	case VerdictAffirm:
		st.Phase = PhaseCommitting
		conf, err := m.committer.Commit(ctx, st.UserToken, st.Draft)
		if errors.Is(err, ErrInvariant) {
			return m.abort(st, err)
		}
		st.reset()
		if err != nil {
			r := m.reply(st, fmt.Sprintf(m.locale.Prompts.Failed, reason(err)))
			r.Outcome = OutcomeFailed
			r.Err = err
			return r, nil
		}
		r := m.reply(st, fmt.Sprintf(m.locale.Prompts.Saved, m.renderer.Render(conf.LastFour)))
		r.Outcome = OutcomeCommitted
		r.Card = &conf
		return r, nil
	case VerdictDeny:
		st.Phase = PhaseCancelled
		st.reset()
		r := m.reply(st, m.locale.Prompts.Cancelled)
		r.Outcome = OutcomeCancelled
		return r, nil
	default:
		return m.reply(st, m.locale.Prompts.ConfirmAgain), nil
	}
}

func (m *Machine) abort(st *State, err error) (Reply, error) {
	slog.Error("enroll: attempt aborted",
		"phase", st.Phase.String(),
		"pending", string(st.Pending),
		"err", err,
	)
	st.reset()
	r := m.reply(st, m.locale.Prompts.Internal)
	r.Outcome = OutcomeFailed
	r.Err = err
	return r, err
}

func (m *Machine) summary(d *Draft) string {
	return fmt.Sprintf(m.locale.Prompts.Summary,
		m.renderer.Render(d.CardNumber),
		m.renderer.Render(d.CVV),
		m.renderer.Render(d.ExpireMonth),
		m.renderer.Render(d.ExpireYear),
	)
}

func (m *Machine) spoken(f Field, v string) string {
	if f == FieldLabel {
		return v
	}
	return m.renderer.Render(v)
}

func (m *Machine) reply(st *State, prompt string) Reply {
	return Reply{Prompt: prompt, Phase: st.Phase, Pending: st.Pending}
}

// reason returns the innermost error text, which is the part worth
// speaking.
func reason(err error) string {
	for {
		inner := errors.Unwrap(err)
		if inner == nil {
			return err.Error()
		}
		err = inner
	}
}

// Package session runs enrollment conversations.
//
// A [Session] binds one user token to an [enroll.State] and serialises its
// turns. The [Manager] owns all sessions and the current [enroll.Machine];
// a [Conversation] drives a session from a stream of finalised transcripts
// and a [Speaker], keeping the capture, process, playback cycle strictly
// sequential.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voicecard/internal/enroll"
	"github.com/MrWong99/voicecard/internal/observe"
)

// Session is the conversation of one user. All methods are safe for
// concurrent use; turns run one at a time.
type Session struct {
	id    string
	token string
	mgr   *Manager

	// lastActive is a unix-nano timestamp, read by the janitor without
	// taking mu.
	lastActive atomic.Int64

	mu      sync.Mutex
	state   *enroll.State
	machine *enroll.Machine
}

func newSession(token string, mgr *Manager) *Session {
	s := &Session{
		id:    uuid.NewString(),
		token: token,
		mgr:   mgr,
		state: enroll.NewState(token),
	}
	s.touch()
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Token returns the owning user token.
func (s *Session) Token() string { return s.token }

// Phase returns the current dialogue phase.
func (s *Session) Phase() enroll.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Phase
}

// LastActive returns when the session last ran a turn.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

func (s *Session) touch() {
	s.lastActive.Store(s.mgr.now().UnixNano())
}

// Start discards any attempt in progress and asks for the first field. The
// attempt runs on the manager's current machine until it ends.
func (s *Session) Start(ctx context.Context) enroll.Reply {
	s.mu.Lock()
	defer s.mu.Unlock()

	began := time.Now()
	s.machine = s.mgr.Machine()
	reply := s.machine.Start(s.state)
	s.touch()
	s.record(ctx, began, reply)
	observe.Logger(observe.WithSession(ctx, s.id)).Info("enrollment started")
	return reply
}

// Turn feeds one finalised transcript to the dialogue. The error is non-nil
// only for internal invariant violations; the reply then still carries a
// prompt to speak.
func (s *Session) Turn(ctx context.Context, transcript string) (enroll.Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := observe.StartTurn(observe.WithSession(ctx, s.id), s.state.Phase.String())

	// Between attempts the session follows config reloads.
	if s.machine == nil || s.state.Phase == enroll.PhaseIdle || s.state.Phase == enroll.PhaseCancelled {
		s.machine = s.mgr.Machine()
	}

	began := time.Now()
	reply, err := s.machine.Handle(ctx, s.state, transcript)
	s.touch()
	outcome, missed := s.record(ctx, began, reply)
	observe.EndTurn(span, reply.Phase.String(), outcome, missed, err)

	log := observe.Logger(ctx).With("phase", reply.Phase.String())
	switch {
	case err != nil:
		log.Error("enrollment aborted", "err", err)
	case reply.Outcome == enroll.OutcomeCommitted && reply.Card != nil:
		log.Info("card enrolled", "card_id", reply.Card.CardID, "card", "****"+reply.Card.LastFour)
	case reply.Outcome == enroll.OutcomeFailed:
		log.Warn("card could not be saved", "err", reply.Err)
	case outcome != "":
		log.Info("enrollment ended", "outcome", outcome)
	case missed != "":
		log.Debug("field not understood", "field", missed)
	}
	return reply, err
}

// record reports the turn to the metrics and returns its outcome and missed
// field labels, empty when not applicable.
func (s *Session) record(ctx context.Context, began time.Time, r enroll.Reply) (outcome, missed string) {
	if r.Outcome != enroll.OutcomeNone {
		outcome = r.Outcome.String()
	}
	if r.Missed {
		missed = string(r.Pending)
	}
	if m := s.mgr.metrics; m != nil {
		m.RecordTurn(ctx, time.Since(began).Seconds(), r.Phase.String(), outcome, missed)
	}
	return outcome, missed
}

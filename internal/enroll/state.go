package enroll

import "fmt"

// Phase is the coarse position of a conversation in the enrollment flow.
type Phase int

const (
	// PhaseIdle waits for a start request.
	PhaseIdle Phase = iota

	// PhaseCollecting waits for the value of [State.Pending].
	PhaseCollecting

	// PhaseAwaitingConfirmation waits for a yes or no on the full summary.
	PhaseAwaitingConfirmation

	// PhaseCommitting is held while the confirmed draft is persisted.
	PhaseCommitting

	// PhaseCancelled is transient; the machine leaves it for PhaseIdle in
	// the same turn.
	PhaseCancelled
)

// String implements [fmt.Stringer].
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCollecting:
		return "collecting"
	case PhaseAwaitingConfirmation:
		return "awaiting_confirmation"
	case PhaseCommitting:
		return "committing"
	case PhaseCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// State is the conversation state of one session. It is owned by the caller
// and passed into every [Machine] call; the machine keeps no per-session
// data of its own. A State must not be used from more than one goroutine at
// a time.
type State struct {
	// UserToken identifies the card owner for persistence.
	UserToken string

	Phase Phase

	// Pending is the field currently being requested. It is only
	// meaningful in PhaseCollecting.
	Pending Field

	Draft Draft

	// Misses counts consecutive turns that did not yield Pending.
	Misses int

	// opening is true until the first collecting turn of an attempt has run.
	opening bool
}

// NewState returns an idle state for the given user.
func NewState(userToken string) *State {
	return &State{UserToken: userToken}
}

// reset discards the draft and returns to idle.
func (s *State) reset() {
	s.Phase = PhaseIdle
	s.Pending = FieldNone
	s.Draft = Draft{}
	s.Misses = 0
	s.opening = false
}

// begin discards any attempt in progress and starts a fresh one.
func (s *State) begin() {
	s.reset()
	s.Phase = PhaseCollecting
	s.Pending = Order[0]
	s.opening = true
}

// Check verifies the structural invariants of the state.
func (s *State) Check() error {
	switch s.Phase {
	case PhaseCollecting:
		if _, ok := specs[s.Pending]; !ok {
			return fmt.Errorf("%w: collecting unknown field %q", ErrInvariant, s.Pending)
		}
		if s.Draft.Has(s.Pending) {
			return fmt.Errorf("%w: collecting %s which is already present", ErrInvariant, s.Pending)
		}
	case PhaseAwaitingConfirmation, PhaseCommitting:
		if !s.Draft.Complete() {
			return fmt.Errorf("%w: %s with incomplete draft", ErrInvariant, s.Phase)
		}
	}
	return nil
}

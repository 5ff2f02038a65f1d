package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voicecard/internal/enroll"
	"github.com/MrWong99/voicecard/internal/observe"
)

// Manager owns the sessions of all users and the machine they run on.
// All methods are safe for concurrent use.
type Manager struct {
	machine atomic.Pointer[enroll.Machine]
	metrics *observe.Metrics
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// Option configures a [Manager].
type Option func(*Manager)

// WithMetrics records turn and session metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithClock overrides the time source used for idle tracking.
func WithClock(now func() time.Time) Option {
	return func(mgr *Manager) {
		if now != nil {
			mgr.now = now
		}
	}
}

// NewManager returns a manager whose sessions run on machine.
func NewManager(machine *enroll.Machine, opts ...Option) *Manager {
	m := &Manager{
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	for _, o := range opts {
		o(m)
	}
	m.machine.Store(machine)
	return m
}

// Machine returns the machine new attempts start on.
func (m *Manager) Machine() *enroll.Machine {
	return m.machine.Load()
}

// SetMachine replaces the machine. Attempts already in progress finish on
// the machine they started with. A nil machine is ignored.
func (m *Manager) SetMachine(machine *enroll.Machine) {
	if machine == nil {
		return
	}
	m.machine.Store(machine)
	slog.Info("session manager: enrollment machine replaced", "locale", machine.Locale().Tag)
}

// Get returns the session for token, creating it when absent.
func (m *Manager) Get(token string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[token]; ok {
		return s
	}
	s := newSession(token, m)
	m.sessions[token] = s
	if m.metrics != nil {
		m.metrics.ActiveSessions.Add(context.Background(), 1)
	}
	return s
}

// Lookup returns the session for token without creating one.
func (m *Manager) Lookup(token string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	return s, ok
}

// Drop forgets the session for token. It reports whether one existed.
func (m *Manager) Drop(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropLocked(token)
}

func (m *Manager) dropLocked(token string) bool {
	if _, ok := m.sessions[token]; !ok {
		return false
	}
	delete(m.sessions, token)
	if m.metrics != nil {
		m.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	return true
}

// Active returns the number of live sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep drops every session that has not run a turn for longer than idle
// and returns how many were dropped.
func (m *Manager) Sweep(idle time.Duration) int {
	cutoff := m.now().Add(-idle)

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for token, s := range m.sessions {
		if s.LastActive().Before(cutoff) && m.dropLocked(token) {
			n++
		}
	}
	return n
}

// RunJanitor sweeps idle sessions every interval until ctx is cancelled.
func (m *Manager) RunJanitor(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(idle); n > 0 {
				slog.Debug("session manager: dropped idle sessions", "count", n, "active", m.Active())
			}
		}
	}
}

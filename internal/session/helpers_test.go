package session

import (
	"context"
	"testing"
	"time"

	"github.com/MrWong99/voicecard/internal/cardstore"
	"github.com/MrWong99/voicecard/internal/enroll"
)

const testToken = "0123456789abcdef"

func newTestMachine(t *testing.T, tag string, store enroll.CardStore) *enroll.Machine {
	t.Helper()
	loc, err := enroll.LookupLocale(tag)
	if err != nil {
		t.Fatalf("LookupLocale() error: %v", err)
	}
	m, err := enroll.NewMachine(loc, enroll.NewAdapter(store))
	if err != nil {
		t.Fatalf("NewMachine() error: %v", err)
	}
	return m
}

// newTestStore returns a MemStore with testToken registered.
func newTestStore(t *testing.T) *cardstore.MemStore {
	t.Helper()
	s := cardstore.NewMemStore()
	if _, err := s.EnsureUser(context.Background(), testToken); err != nil {
		t.Fatalf("EnsureUser() error: %v", err)
	}
	return s
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *cardstore.MemStore) {
	t.Helper()
	store := newTestStore(t)
	return NewManager(newTestMachine(t, enroll.LocaleEnglish, store), opts...), store
}

// waitFor polls cond until it holds or a second has passed.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

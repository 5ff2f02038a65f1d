package cardstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

type memCard struct {
	Card
	number string
	cvv    string
	seq    int
}

// MemStore is a thread-safe, in-memory implementation of [Store].
type MemStore struct {
	mu    sync.RWMutex
	users map[string]User
	cards map[string][]*memCard
	seq   int
	now   func() time.Time
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		users: make(map[string]User),
		cards: make(map[string][]*memCard),
		now:   time.Now,
	}
}

// EnsureUser implements [Store.EnsureUser].
func (s *MemStore) EnsureUser(_ context.Context, token string) (User, error) {
	if !ValidToken(token) {
		return User{}, ErrInvalidToken
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	u, ok := s.users[token]
	if !ok {
		u = User{Token: token, CreatedAt: now}
	}
	u.LastActive = now
	s.users[token] = u
	return u, nil
}

// CountCards implements [Store.CountCards].
func (s *MemStore) CountCards(_ context.Context, token string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.users[token]; !ok {
		return 0, ErrUnknownUser
	}
	return len(s.cards[token]), nil
}

// SaveCard implements [Store.SaveCard].
func (s *MemStore) SaveCard(_ context.Context, token string, card NewCard) (Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[token]; !ok {
		return Card{}, ErrUnknownUser
	}

	existing := s.cards[token]
	for _, c := range existing {
		if c.number == card.CardNumber {
			return Card{}, ErrDuplicateCard
		}
	}

	if card.MakeDefault {
		for _, c := range existing {
			c.Default = false
		}
	}

	s.seq++
	mc := &memCard{
		Card: Card{
			ID:          uuid.NewString(),
			LastFour:    lastFour(card.CardNumber),
			ExpireMonth: card.ExpireMonth,
			ExpireYear:  card.ExpireYear,
			Label:       card.Label,
			Default:     card.MakeDefault,
			CreatedAt:   s.now().UTC(),
		},
		number: card.CardNumber,
		cvv:    card.CVV,
		seq:    s.seq,
	}
	s.cards[token] = append(existing, mc)
	return mc.Card, nil
}

// ListCards implements [Store.ListCards].
func (s *MemStore) ListCards(_ context.Context, token string) ([]Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.users[token]; !ok {
		return nil, ErrUnknownUser
	}

	stored := slices.Clone(s.cards[token])
	slices.SortFunc(stored, func(a, b *memCard) int {
		if a.Default != b.Default {
			if a.Default {
				return -1
			}
			return 1
		}
		return cmp.Compare(b.seq, a.seq)
	})

	out := make([]Card, 0, len(stored))
	for _, c := range stored {
		out = append(out, c.Card)
	}
	return out, nil
}

// DeleteCard implements [Store.DeleteCard].
func (s *MemStore) DeleteCard(_ context.Context, token, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cards := s.cards[token]
	idx := slices.IndexFunc(cards, func(c *memCard) bool { return c.ID == id })
	if idx < 0 {
		return fmt.Errorf("cardstore: delete %q: %w", id, ErrNotFound)
	}
	s.cards[token] = slices.Delete(cards, idx, idx+1)
	return nil
}

// Ping implements [Store.Ping]. The in-memory store is always reachable.
func (s *MemStore) Ping(context.Context) error { return nil }

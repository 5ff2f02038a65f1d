package cardstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newBadgerStore(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := OpenBadger(BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatalf("OpenBadger() error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if _, err := s.EnsureUser(context.Background(), testToken); err != nil {
		t.Fatalf("EnsureUser() error: %v", err)
	}
	return s
}

func TestOpenBadger_RequiresDir(t *testing.T) {
	t.Parallel()

	if _, err := OpenBadger(BadgerOptions{}); err == nil {
		t.Fatal("OpenBadger() with no dir should fail")
	}
}

func TestBadgerStore_EnsureUser(t *testing.T) {
	t.Parallel()

	s := newBadgerStore(t)
	ctx := context.Background()

	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return clock }

	first, err := s.EnsureUser(ctx, "0000111122223333")
	if err != nil {
		t.Fatalf("EnsureUser() error: %v", err)
	}
	clock = clock.Add(time.Hour)
	second, err := s.EnsureUser(ctx, "0000111122223333")
	if err != nil {
		t.Fatalf("EnsureUser() error: %v", err)
	}
	if !first.CreatedAt.Equal(second.CreatedAt) {
		t.Errorf("CreatedAt changed: %v vs %v", first.CreatedAt, second.CreatedAt)
	}
	if !second.LastActive.Equal(clock) {
		t.Errorf("LastActive = %v, want %v", second.LastActive, clock)
	}

	if _, err := s.EnsureUser(ctx, "short"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("EnsureUser(short) error = %v, want ErrInvalidToken", err)
	}
}

func TestBadgerStore_SaveAndList(t *testing.T) {
	t.Parallel()

	s := newBadgerStore(t)
	ctx := context.Background()

	a, err := s.SaveCard(ctx, testToken, NewCard{CardNumber: "1111222233334444", CVV: "123", ExpireMonth: "05", ExpireYear: "27", MakeDefault: true})
	if err != nil {
		t.Fatalf("SaveCard(a) error: %v", err)
	}
	b, err := s.SaveCard(ctx, testToken, NewCard{CardNumber: "5555666677778888", CVV: "456", ExpireMonth: "11", ExpireYear: "29", Label: "travel"})
	if err != nil {
		t.Fatalf("SaveCard(b) error: %v", err)
	}
	c, err := s.SaveCard(ctx, testToken, NewCard{CardNumber: "9999000011112222", CVV: "789", ExpireMonth: "01", ExpireYear: "30"})
	if err != nil {
		t.Fatalf("SaveCard(c) error: %v", err)
	}

	cards, err := s.ListCards(ctx, testToken)
	if err != nil {
		t.Fatalf("ListCards() error: %v", err)
	}
	want := []string{a.ID, c.ID, b.ID}
	if len(cards) != len(want) {
		t.Fatalf("len(cards) = %d, want %d", len(cards), len(want))
	}
	for i, id := range want {
		if cards[i].ID != id {
			t.Errorf("cards[%d].ID = %s, want %s", i, cards[i].ID, id)
		}
	}
	if cards[2].Label != "travel" || cards[2].LastFour != "8888" {
		t.Errorf("cards[2] = %+v", cards[2])
	}

	n, err := s.CountCards(ctx, testToken)
	if err != nil {
		t.Fatalf("CountCards() error: %v", err)
	}
	if n != 3 {
		t.Errorf("CountCards() = %d, want 3", n)
	}
}

func TestBadgerStore_SaveCardMovesDefault(t *testing.T) {
	t.Parallel()

	s := newBadgerStore(t)
	ctx := context.Background()

	if _, err := s.SaveCard(ctx, testToken, NewCard{CardNumber: "1111222233334444", MakeDefault: true}); err != nil {
		t.Fatalf("SaveCard() error: %v", err)
	}
	second, err := s.SaveCard(ctx, testToken, NewCard{CardNumber: "5555666677778888", MakeDefault: true})
	if err != nil {
		t.Fatalf("SaveCard() error: %v", err)
	}

	cards, err := s.ListCards(ctx, testToken)
	if err != nil {
		t.Fatalf("ListCards() error: %v", err)
	}
	defaults := 0
	for _, c := range cards {
		if c.Default {
			defaults++
		}
	}
	if defaults != 1 {
		t.Errorf("default cards = %d, want 1", defaults)
	}
	if cards[0].ID != second.ID {
		t.Errorf("cards[0].ID = %s, want %s", cards[0].ID, second.ID)
	}
}

func TestBadgerStore_Duplicate(t *testing.T) {
	t.Parallel()

	s := newBadgerStore(t)
	ctx := context.Background()
	card := NewCard{CardNumber: "1111222233334444", CVV: "123", ExpireMonth: "05", ExpireYear: "27"}

	if _, err := s.SaveCard(ctx, testToken, card); err != nil {
		t.Fatalf("SaveCard() error: %v", err)
	}
	if _, err := s.SaveCard(ctx, testToken, card); !errors.Is(err, ErrDuplicateCard) {
		t.Errorf("second SaveCard() error = %v, want ErrDuplicateCard", err)
	}

	// Another user may store the same number.
	const other = "ffffffffffffffff"
	if _, err := s.EnsureUser(ctx, other); err != nil {
		t.Fatalf("EnsureUser() error: %v", err)
	}
	if _, err := s.SaveCard(ctx, other, card); err != nil {
		t.Errorf("SaveCard(other user) error: %v", err)
	}
}

func TestBadgerStore_UnknownUser(t *testing.T) {
	t.Parallel()

	s := newBadgerStore(t)
	ctx := context.Background()
	const stranger = "9999999999999999"

	if _, err := s.CountCards(ctx, stranger); !errors.Is(err, ErrUnknownUser) {
		t.Errorf("CountCards() error = %v, want ErrUnknownUser", err)
	}
	if _, err := s.ListCards(ctx, stranger); !errors.Is(err, ErrUnknownUser) {
		t.Errorf("ListCards() error = %v, want ErrUnknownUser", err)
	}
	if _, err := s.SaveCard(ctx, stranger, NewCard{CardNumber: "1111222233334444"}); !errors.Is(err, ErrUnknownUser) {
		t.Errorf("SaveCard() error = %v, want ErrUnknownUser", err)
	}
}

func TestBadgerStore_DeleteCard(t *testing.T) {
	t.Parallel()

	s := newBadgerStore(t)
	ctx := context.Background()

	c, err := s.SaveCard(ctx, testToken, NewCard{CardNumber: "1111222233334444"})
	if err != nil {
		t.Fatalf("SaveCard() error: %v", err)
	}
	if err := s.DeleteCard(ctx, "ffffffffffffffff", c.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteCard(other user) error = %v, want ErrNotFound", err)
	}
	if err := s.DeleteCard(ctx, testToken, c.ID); err != nil {
		t.Fatalf("DeleteCard() error: %v", err)
	}
	if err := s.DeleteCard(ctx, testToken, c.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteCard() error = %v, want ErrNotFound", err)
	}
	n, err := s.CountCards(ctx, testToken)
	if err != nil {
		t.Fatalf("CountCards() error: %v", err)
	}
	if n != 0 {
		t.Errorf("CountCards() = %d, want 0", n)
	}
}

func TestBadgerStore_ConcurrentSaves(t *testing.T) {
	t.Parallel()

	s := newBadgerStore(t)
	ctx := context.Background()
	numbers := []string{"1000000000000001", "1000000000000002", "1000000000000003", "1000000000000004"}

	var wg sync.WaitGroup
	errs := make(chan error, len(numbers))
	for _, n := range numbers {
		wg.Go(func() {
			if _, err := s.SaveCard(ctx, testToken, NewCard{CardNumber: n, MakeDefault: true}); err != nil {
				errs <- err
			}
		})
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("SaveCard() error: %v", err)
	}

	cards, err := s.ListCards(ctx, testToken)
	if err != nil {
		t.Fatalf("ListCards() error: %v", err)
	}
	if len(cards) != len(numbers) {
		t.Fatalf("len(cards) = %d, want %d", len(cards), len(numbers))
	}
	defaults := 0
	for _, c := range cards {
		if c.Default {
			defaults++
		}
	}
	if defaults != 1 {
		t.Errorf("default cards = %d, want 1", defaults)
	}
}

func TestBadgerStore_Ping(t *testing.T) {
	t.Parallel()

	s, err := OpenBadger(BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatalf("OpenBadger() error: %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := s.Ping(context.Background()); err == nil {
		t.Error("Ping() after Close should fail")
	}
}

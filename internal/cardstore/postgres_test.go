package cardstore_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voicecard/internal/cardstore"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if VOICECARD_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("VOICECARD_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOICECARD_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestStore(t *testing.T) *cardstore.PostgresStore {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS cards CASCADE",
		"DROP TABLE IF EXISTS users CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("drop schema: %v", err)
		}
	}

	store := cardstore.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}
	return store
}

func TestPostgresStore_CardLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	const token = "0123456789abcdef"

	if _, err := store.CountCards(ctx, token); !errors.Is(err, cardstore.ErrUnknownUser) {
		t.Fatalf("CountCards() before EnsureUser error = %v, want ErrUnknownUser", err)
	}
	if _, err := store.EnsureUser(ctx, token); err != nil {
		t.Fatalf("EnsureUser() error: %v", err)
	}

	first, err := store.SaveCard(ctx, token, cardstore.NewCard{
		CardNumber: "1111222233334444", CVV: "123", ExpireMonth: "05", ExpireYear: "27", MakeDefault: true,
	})
	if err != nil {
		t.Fatalf("SaveCard() error: %v", err)
	}
	second, err := store.SaveCard(ctx, token, cardstore.NewCard{
		CardNumber: "5555666677778888", CVV: "4567", ExpireMonth: "12", ExpireYear: "30", Label: "work", MakeDefault: true,
	})
	if err != nil {
		t.Fatalf("SaveCard() error: %v", err)
	}

	if _, err := store.SaveCard(ctx, token, cardstore.NewCard{
		CardNumber: "1111222233334444", CVV: "123", ExpireMonth: "05", ExpireYear: "27",
	}); !errors.Is(err, cardstore.ErrDuplicateCard) {
		t.Errorf("duplicate SaveCard() error = %v, want ErrDuplicateCard", err)
	}

	cards, err := store.ListCards(ctx, token)
	if err != nil {
		t.Fatalf("ListCards() error: %v", err)
	}
	if len(cards) != 2 {
		t.Fatalf("len(cards) = %d, want 2", len(cards))
	}
	if cards[0].ID != second.ID || !cards[0].Default || cards[0].LastFour != "8888" {
		t.Errorf("cards[0] = %+v", cards[0])
	}
	if cards[1].ID != first.ID || cards[1].Default {
		t.Errorf("cards[1] = %+v", cards[1])
	}

	if err := store.DeleteCard(ctx, token, first.ID); err != nil {
		t.Fatalf("DeleteCard() error: %v", err)
	}
	if err := store.DeleteCard(ctx, token, first.ID); !errors.Is(err, cardstore.ErrNotFound) {
		t.Errorf("second DeleteCard() error = %v, want ErrNotFound", err)
	}
	n, err := store.CountCards(ctx, token)
	if err != nil {
		t.Fatalf("CountCards() error: %v", err)
	}
	if n != 1 {
		t.Errorf("CountCards() = %d, want 1", n)
	}
}

package cardstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the SQL DDL for the users and cards tables. Every statement is
// idempotent. Execute it via [PostgresStore.Migrate].
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    token       TEXT PRIMARY KEY,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_active TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS cards (
    id           TEXT PRIMARY KEY,
    user_token   TEXT NOT NULL REFERENCES users(token) ON DELETE CASCADE,
    card_number  TEXT NOT NULL,
    cvv2         TEXT NOT NULL,
    expire_month TEXT NOT NULL,
    expire_year  TEXT NOT NULL,
    card_name    TEXT NOT NULL DEFAULT '',
    is_default   BOOLEAN NOT NULL DEFAULT FALSE,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (user_token, card_number)
);
CREATE INDEX IF NOT EXISTS idx_cards_user ON cards(user_token);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// PostgresStore is a [Store] backed by PostgreSQL.
type PostgresStore struct {
	db    DB
	close func()
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an existing connection or pool. The caller is
// responsible for calling [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db, close: func() {}}
}

// OpenPostgres creates a connection pool for dsn, verifies connectivity and
// applies [Schema]. The returned store owns the pool; call Close to release
// it.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("cardstore: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("cardstore: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("cardstore: ping: %w", err)
	}

	s := &PostgresStore{db: pool, close: pool.Close}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate executes the [Schema] DDL.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("cardstore: migrate: %w", err)
	}
	return nil
}

// Close releases the pool when the store owns one.
func (s *PostgresStore) Close() {
	s.close()
}

// Ping implements [Store.Ping].
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// EnsureUser implements [Store.EnsureUser].
func (s *PostgresStore) EnsureUser(ctx context.Context, token string) (User, error) {
	if !ValidToken(token) {
		return User{}, ErrInvalidToken
	}

	const query = `
		INSERT INTO users (token) VALUES ($1)
		ON CONFLICT (token) DO UPDATE SET last_active = now()
		RETURNING token, created_at, last_active`

	var u User
	if err := s.db.QueryRow(ctx, query, token).Scan(&u.Token, &u.CreatedAt, &u.LastActive); err != nil {
		return User{}, fmt.Errorf("cardstore: ensure user: %w", err)
	}
	return u, nil
}

// CountCards implements [Store.CountCards].
func (s *PostgresStore) CountCards(ctx context.Context, token string) (int, error) {
	if err := s.requireUser(ctx, s.db, token); err != nil {
		return 0, err
	}

	var n int
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM cards WHERE user_token = $1`, token).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("cardstore: count cards: %w", err)
	}
	return n, nil
}

// SaveCard implements [Store.SaveCard]. Clearing the previous default and
// inserting the new card happen in one transaction.
func (s *PostgresStore) SaveCard(ctx context.Context, token string, card NewCard) (Card, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Card{}, fmt.Errorf("cardstore: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.requireUser(ctx, tx, token); err != nil {
		return Card{}, err
	}

	if card.MakeDefault {
		if _, err := tx.Exec(ctx, `UPDATE cards SET is_default = FALSE WHERE user_token = $1`, token); err != nil {
			return Card{}, fmt.Errorf("cardstore: clear default: %w", err)
		}
	}

	const query = `
		INSERT INTO cards (id, user_token, card_number, cvv2, expire_month, expire_year, card_name, is_default)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at`

	c := Card{
		ID:          uuid.NewString(),
		LastFour:    lastFour(card.CardNumber),
		ExpireMonth: card.ExpireMonth,
		ExpireYear:  card.ExpireYear,
		Label:       card.Label,
		Default:     card.MakeDefault,
	}
	err = tx.QueryRow(ctx, query,
		c.ID, token, card.CardNumber, card.CVV, card.ExpireMonth, card.ExpireYear, card.Label, card.MakeDefault,
	).Scan(&c.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return Card{}, ErrDuplicateCard
		}
		return Card{}, fmt.Errorf("cardstore: insert card: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Card{}, fmt.Errorf("cardstore: commit: %w", err)
	}
	return c, nil
}

// ListCards implements [Store.ListCards].
func (s *PostgresStore) ListCards(ctx context.Context, token string) ([]Card, error) {
	if err := s.requireUser(ctx, s.db, token); err != nil {
		return nil, err
	}

	const query = `
		SELECT id, right(card_number, 4), expire_month, expire_year, card_name, is_default, created_at
		FROM cards
		WHERE user_token = $1
		ORDER BY is_default DESC, created_at DESC`

	rows, err := s.db.Query(ctx, query, token)
	if err != nil {
		return nil, fmt.Errorf("cardstore: list cards: %w", err)
	}
	cards, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Card, error) {
		var c Card
		err := row.Scan(&c.ID, &c.LastFour, &c.ExpireMonth, &c.ExpireYear, &c.Label, &c.Default, &c.CreatedAt)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("cardstore: scan cards: %w", err)
	}
	return cards, nil
}

// DeleteCard implements [Store.DeleteCard].
func (s *PostgresStore) DeleteCard(ctx context.Context, token, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM cards WHERE id = $1 AND user_token = $2`, id, token)
	if err != nil {
		return fmt.Errorf("cardstore: delete card: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("cardstore: delete %q: %w", id, ErrNotFound)
	}
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) requireUser(ctx context.Context, q querier, token string) error {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE token = $1)`, token).Scan(&exists)
	if err != nil {
		return fmt.Errorf("cardstore: lookup user: %w", err)
	}
	if !exists {
		return ErrUnknownUser
	}
	return nil
}

// isDuplicateKeyError reports whether err is a PostgreSQL unique_violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

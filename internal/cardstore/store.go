// Package cardstore persists enrolled payment cards and the anonymous users
// that own them.
//
// A user is identified only by an opaque client-generated token. Cards are
// stored with their full number so that duplicate enrollments can be
// rejected, but every read path exposes only the last four digits.
//
// Three implementations are provided: [MemStore] for tests and throwaway
// deployments, [BadgerStore] for a single node with an embedded database,
// and [PostgresStore] backed by PostgreSQL via pgx.
package cardstore

import (
	"context"
	"errors"
	"time"
)

// TokenLength is the exact length of a user token.
const TokenLength = 16

// Sentinel errors returned by [Store] implementations.
var (
	// ErrNotFound is returned when a card does not exist or is not owned by
	// the requesting user.
	ErrNotFound = errors.New("card not found")

	// ErrDuplicateCard is returned when the user already has a card with the
	// same number.
	ErrDuplicateCard = errors.New("card already saved")

	// ErrUnknownUser is returned when a card operation names a token that
	// was never registered via [Store.EnsureUser].
	ErrUnknownUser = errors.New("unknown user")

	// ErrInvalidToken is returned when a token is not exactly [TokenLength]
	// characters long.
	ErrInvalidToken = errors.New("invalid user token")
)

// User is an anonymous card owner.
type User struct {
	Token      string    `json:"token"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// NewCard is a request to persist a confirmed card.
type NewCard struct {
	CardNumber  string
	CVV         string
	ExpireMonth string
	ExpireYear  string
	Label       string

	// MakeDefault marks the new card as the user's default card. Any card
	// previously marked default loses the flag.
	MakeDefault bool
}

// Card is the read model of a stored card. It never carries the full card
// number or the CVV.
type Card struct {
	ID          string    `json:"id"`
	LastFour    string    `json:"last_four"`
	ExpireMonth string    `json:"expire_month"`
	ExpireYear  string    `json:"expire_year"`
	Label       string    `json:"label,omitempty"`
	Default     bool      `json:"is_default"`
	CreatedAt   time.Time `json:"created_at"`
}

// Masked returns the card number as it may be shown or spoken: four stars
// followed by the last four digits.
func (c Card) Masked() string {
	return "****" + c.LastFour
}

// Store is the persistence contract for users and cards.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// EnsureUser returns the user for token, creating it when absent, and
	// refreshes its last-active timestamp.
	EnsureUser(ctx context.Context, token string) (User, error)

	// CountCards returns how many cards the user has stored.
	CountCards(ctx context.Context, token string) (int, error)

	// SaveCard stores a new card for the user. When card.MakeDefault is set
	// the default flag is moved atomically to the new card.
	SaveCard(ctx context.Context, token string, card NewCard) (Card, error)

	// ListCards returns the user's cards, default card first, then newest
	// first.
	ListCards(ctx context.Context, token string) ([]Card, error)

	// DeleteCard removes one of the user's cards.
	DeleteCard(ctx context.Context, token, id string) error

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error
}

// ValidToken reports whether token has the required length.
func ValidToken(token string) bool {
	return len(token) == TokenLength
}

func lastFour(number string) string {
	if len(number) <= 4 {
		return number
	}
	return number[len(number)-4:]
}

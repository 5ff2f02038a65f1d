package enroll

import (
	"context"
	"fmt"

	"github.com/MrWong99/voicecard/internal/cardstore"
)

// CardStore is the subset of [cardstore.Store] the commit step needs.
type CardStore interface {
	CountCards(ctx context.Context, token string) (int, error)
	SaveCard(ctx context.Context, token string, card cardstore.NewCard) (cardstore.Card, error)
}

// Confirmation describes a card that was stored successfully.
type Confirmation struct {
	CardID   string
	LastFour string
	Default  bool
}

// Committer persists a confirmed draft.
type Committer interface {
	Commit(ctx context.Context, userToken string, d Draft) (Confirmation, error)
}

// Adapter is the [Committer] backed by a [CardStore]. It holds no state of
// its own and never retries; duplicate handling and default-card
// bookkeeping belong to the store.
type Adapter struct {
	store CardStore
}

var _ Committer = (*Adapter)(nil)

// NewAdapter returns an adapter writing to store.
func NewAdapter(store CardStore) *Adapter {
	return &Adapter{store: store}
}

// Commit re-validates d and stores it. A draft that is incomplete or
// malformed yields an error wrapping [ErrInvariant]; the store is not
// called in that case. The new card becomes the default only when it is
// the user's first.
func (a *Adapter) Commit(ctx context.Context, userToken string, d Draft) (Confirmation, error) {
	if err := d.Validate(); err != nil {
		return Confirmation{}, fmt.Errorf("%w: commit: %w", ErrInvariant, err)
	}

	n, err := a.store.CountCards(ctx, userToken)
	if err != nil {
		return Confirmation{}, fmt.Errorf("enroll: count cards: %w", err)
	}

	card, err := a.store.SaveCard(ctx, userToken, cardstore.NewCard{
		CardNumber:  d.CardNumber,
		CVV:         d.CVV,
		ExpireMonth: d.ExpireMonth,
		ExpireYear:  d.ExpireYear,
		Label:       d.Label,
		MakeDefault: n == 0,
	})
	if err != nil {
		return Confirmation{}, fmt.Errorf("enroll: save card: %w", err)
	}
	return Confirmation{CardID: card.ID, LastFour: card.LastFour, Default: card.Default}, nil
}

package cardstore

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

var _ Store = (*BadgerStore)(nil)

// Key layout. Tokens are fixed-length so the prefixes never overlap.
const (
	userPrefix = "u/"
	cardPrefix = "c/"

	maxConflictRetries = 5
)

type userRecord struct {
	CreatedAt  time.Time `msgpack:"created_at"`
	LastActive time.Time `msgpack:"last_active"`

	// CardSeq is bumped by every SaveCard. Writing it makes concurrent saves
	// for one user conflict, so the default flag cannot end up on two cards.
	CardSeq uint64 `msgpack:"card_seq"`
}

type cardRecord struct {
	ID          string    `msgpack:"id"`
	Number      string    `msgpack:"number"`
	CVV         string    `msgpack:"cvv"`
	ExpireMonth string    `msgpack:"expire_month"`
	ExpireYear  string    `msgpack:"expire_year"`
	Label       string    `msgpack:"label,omitempty"`
	Default     bool      `msgpack:"default"`
	CreatedAt   time.Time `msgpack:"created_at"`
	Seq         uint64    `msgpack:"seq"`
}

func (r cardRecord) card() Card {
	return Card{
		ID:          r.ID,
		LastFour:    lastFour(r.Number),
		ExpireMonth: r.ExpireMonth,
		ExpireYear:  r.ExpireYear,
		Label:       r.Label,
		Default:     r.Default,
		CreatedAt:   r.CreatedAt,
	}
}

func userKey(token string) []byte { return []byte(userPrefix + token) }
func cardsKey(token string) []byte { return []byte(cardPrefix + token + "/") }
func cardKey(token, id string) []byte { return []byte(cardPrefix + token + "/" + id) }

// BadgerOptions configures [OpenBadger].
type BadgerOptions struct {
	// Dir is the data directory. Required unless InMemory is set.
	Dir string

	// InMemory keeps all data in memory. Used by tests.
	InMemory bool
}

// BadgerStore is an embedded [Store] backed by BadgerDB. Records are
// msgpack-encoded.
type BadgerStore struct {
	db  *badger.DB
	now func() time.Time
}

// OpenBadger opens (or creates) a badger database.
func OpenBadger(opts BadgerOptions) (*BadgerStore, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("cardstore: badger dir is required for on-disk mode")
	}
	bopts := badger.DefaultOptions(opts.Dir).WithLogger(badgerLogger{})
	if opts.InMemory {
		bopts = bopts.WithInMemory(true)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("cardstore: open badger: %w", err)
	}
	return &BadgerStore{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *BadgerStore) Close() error { return s.db.Close() }

// update runs fn in a read-write transaction, retrying on write conflicts.
func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for range maxConflictRetries {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func getRecord(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return msgpack.Unmarshal(val, v)
	})
}

func setRecord(txn *badger.Txn, key []byte, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func requireBadgerUser(txn *badger.Txn, token string) error {
	_, err := txn.Get(userKey(token))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrUnknownUser
	}
	return err
}

func userCards(txn *badger.Txn, token string) ([]cardRecord, error) {
	prefix := cardsKey(token)
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 16})
	defer it.Close()

	var out []cardRecord
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var rec cardRecord
		if err := it.Item().Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &rec)
		}); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// EnsureUser implements [Store.EnsureUser].
func (s *BadgerStore) EnsureUser(_ context.Context, token string) (User, error) {
	if !ValidToken(token) {
		return User{}, ErrInvalidToken
	}

	var u User
	err := s.update(func(txn *badger.Txn) error {
		now := s.now().UTC()
		var rec userRecord
		err := getRecord(txn, userKey(token), &rec)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			rec.CreatedAt = now
		case err != nil:
			return err
		}
		rec.LastActive = now
		u = User{Token: token, CreatedAt: rec.CreatedAt, LastActive: rec.LastActive}
		return setRecord(txn, userKey(token), rec)
	})
	if err != nil {
		return User{}, fmt.Errorf("cardstore: ensure user: %w", err)
	}
	return u, nil
}

// CountCards implements [Store.CountCards].
func (s *BadgerStore) CountCards(_ context.Context, token string) (int, error) {
	var n int
	err := s.db.View(func(txn *badger.Txn) error {
		if err := requireBadgerUser(txn, token); err != nil {
			return err
		}
		cards, err := userCards(txn, token)
		n = len(cards)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("cardstore: count cards: %w", err)
	}
	return n, nil
}

// SaveCard implements [Store.SaveCard].
func (s *BadgerStore) SaveCard(_ context.Context, token string, card NewCard) (Card, error) {
	var saved cardRecord
	err := s.update(func(txn *badger.Txn) error {
		var user userRecord
		if err := getRecord(txn, userKey(token), &user); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrUnknownUser
			}
			return err
		}
		existing, err := userCards(txn, token)
		if err != nil {
			return err
		}
		for _, c := range existing {
			if c.Number == card.CardNumber {
				return ErrDuplicateCard
			}
		}

		if card.MakeDefault {
			for _, c := range existing {
				if !c.Default {
					continue
				}
				c.Default = false
				if err := setRecord(txn, cardKey(token, c.ID), c); err != nil {
					return err
				}
			}
		}

		saved = cardRecord{
			ID:          uuid.NewString(),
			Number:      card.CardNumber,
			CVV:         card.CVV,
			ExpireMonth: card.ExpireMonth,
			ExpireYear:  card.ExpireYear,
			Label:       card.Label,
			Default:     card.MakeDefault,
			CreatedAt:   s.now().UTC(),
			Seq:         user.CardSeq + 1,
		}
		user.CardSeq = saved.Seq
		if err := setRecord(txn, userKey(token), user); err != nil {
			return err
		}
		return setRecord(txn, cardKey(token, saved.ID), saved)
	})
	if err != nil {
		return Card{}, fmt.Errorf("cardstore: save card: %w", err)
	}
	return saved.card(), nil
}

// ListCards implements [Store.ListCards].
func (s *BadgerStore) ListCards(_ context.Context, token string) ([]Card, error) {
	var recs []cardRecord
	err := s.db.View(func(txn *badger.Txn) error {
		if err := requireBadgerUser(txn, token); err != nil {
			return err
		}
		var err error
		recs, err = userCards(txn, token)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("cardstore: list cards: %w", err)
	}

	slices.SortFunc(recs, func(a, b cardRecord) int {
		if a.Default != b.Default {
			if a.Default {
				return -1
			}
			return 1
		}
		return cmp.Compare(b.Seq, a.Seq)
	})
	out := make([]Card, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.card())
	}
	return out, nil
}

// DeleteCard implements [Store.DeleteCard].
func (s *BadgerStore) DeleteCard(_ context.Context, token, id string) error {
	err := s.update(func(txn *badger.Txn) error {
		key := cardKey(token, id)
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return txn.Delete(key)
	})
	if err != nil {
		return fmt.Errorf("cardstore: delete %q: %w", id, err)
	}
	return nil
}

// Ping implements [Store.Ping].
func (s *BadgerStore) Ping(context.Context) error {
	if s.db.IsClosed() {
		return errors.New("cardstore: badger database is closed")
	}
	return nil
}

// badgerLogger routes badger's warnings and errors to slog and drops the
// rest.
type badgerLogger struct{}

var _ badger.Logger = badgerLogger{}

func (badgerLogger) Errorf(f string, v ...any)   { slog.Error("badger: " + fmt.Sprintf(f, v...)) }
func (badgerLogger) Warningf(f string, v ...any) { slog.Warn("badger: " + fmt.Sprintf(f, v...)) }
func (badgerLogger) Infof(string, ...any)        {}
func (badgerLogger) Debugf(string, ...any)       {}

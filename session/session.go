// Package session owns the signed-in user's client state. Every mutation is
// persisted right away through the key-value store; a failed write leaves the
// state as it was.
package session

import (
	"context"
	"strings"
	"sync"

	"organizer/kv"
	"organizer/ledger"
	"organizer/reminder"

	"github.com/google/uuid"
	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrSignedOut = errors.New("signed out")
)

// Persister stores one collection per (user, kind).
type Persister interface {
	Load(ctx context.Context, usr, kind string, dst any) error
	Save(ctx context.Context, usr, kind string, v any) error
	Wipe(ctx context.Context, usr string) error
}

type Session struct {
	mu        sync.RWMutex
	store     Persister
	converter *ledger.Converter
	clk       clock.Clock

	usr    string
	chatID int64

	reminders    []reminder.Reminder
	transactions []ledger.Transaction
	categories   []ledger.Category
}

// Open loads the user's state. A zero chatID means the user isn't linked to a
// chat; conv may be nil when amounts are never converted.
func Open(ctx context.Context, p Persister, usr string, chatID int64, conv *ledger.Converter) (*Session, error) {
	if usr == "" {
		return nil, errors.New("user is required")
	}

	s := &Session{
		store:     p,
		converter: conv,
		clk:       clock.New(),
		usr:       usr,
		chatID:    chatID,
	}

	if err := s.Load(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

// Load rereads the whole state from the store.
func (s *Session) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.usr == "" {
		return ErrSignedOut
	}

	var rs []reminder.Reminder
	var txs []ledger.Transaction
	var cats []ledger.Category

	if err := s.store.Load(ctx, s.usr, kv.KindReminders, &rs); err != nil {
		return err
	}
	if err := s.store.Load(ctx, s.usr, kv.KindTransactions, &txs); err != nil {
		return err
	}
	if err := s.store.Load(ctx, s.usr, kv.KindCategories, &cats); err != nil {
		return err
	}

	s.reminders, s.transactions, s.categories = rs, txs, cats
	return nil
}

func (s *Session) User() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.usr
}

// ChatID returns the chat the user is linked to.
func (s *Session) ChatID() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.chatID, s.chatID != 0
}

// SignOut wipes the user's state both in memory and in the store.
func (s *Session) SignOut(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.usr == "" {
		return nil
	}

	if err := s.store.Wipe(ctx, s.usr); err != nil {
		return err
	}

	s.usr, s.chatID = "", 0
	s.reminders, s.transactions, s.categories = nil, nil, nil
	return nil
}

// Reminders returns a copy of the reminders.
func (s *Session) Reminders() []reminder.Reminder {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]reminder.Reminder(nil), s.reminders...)
}

// AddReminder validates and stores a new armed reminder.
func (s *Session) AddReminder(ctx context.Context, r reminder.Reminder) (reminder.Reminder, error) {
	if err := r.Validate(); err != nil {
		return reminder.Reminder{}, err
	}

	if r.ID == "" {
		r.ID = reminder.NewID()
	}
	r.Title = strings.TrimSpace(r.Title)
	r.Notified = false

	err := s.updateReminders(ctx, func(rs []reminder.Reminder) ([]reminder.Reminder, error) {
		return append(rs, r), nil
	})
	return r, err
}

// UpdateReminder replaces the editable fields. Moving the reminder to another
// date or time arms it again.
func (s *Session) UpdateReminder(ctx context.Context, upd reminder.Reminder) error {
	if err := upd.Validate(); err != nil {
		return err
	}

	return s.updateReminders(ctx, func(rs []reminder.Reminder) ([]reminder.Reminder, error) {
		i := indexOfReminder(rs, upd.ID)
		if i < 0 {
			return nil, errors.Wrapf(ErrNotFound, "reminder %s", upd.ID)
		}

		r := &rs[i]
		if r.Date != upd.Date || r.Time != upd.Time {
			r.Notified = false
		}
		r.Title = strings.TrimSpace(upd.Title)
		r.Date, r.Time, r.Notes = upd.Date, upd.Time, upd.Notes
		return rs, nil
	})
}

// ToggleReminderDone flips the completion flag; see reminder.Reminder.SetDone.
func (s *Session) ToggleReminderDone(ctx context.Context, id string) error {
	return s.updateReminders(ctx, func(rs []reminder.Reminder) ([]reminder.Reminder, error) {
		i := indexOfReminder(rs, id)
		if i < 0 {
			return nil, errors.Wrapf(ErrNotFound, "reminder %s", id)
		}

		rs[i].SetDone(!rs[i].Done)
		return rs, nil
	})
}

func (s *Session) DeleteReminder(ctx context.Context, id string) error {
	return s.updateReminders(ctx, func(rs []reminder.Reminder) ([]reminder.Reminder, error) {
		i := indexOfReminder(rs, id)
		if i < 0 {
			return nil, errors.Wrapf(ErrNotFound, "reminder %s", id)
		}

		return append(rs[:i], rs[i+1:]...), nil
	})
}

// MarkNotified flags an armed reminder as notified. Done or already notified
// reminders are left alone.
func (s *Session) MarkNotified(ctx context.Context, id string) error {
	return s.updateReminders(ctx, func(rs []reminder.Reminder) ([]reminder.Reminder, error) {
		i := indexOfReminder(rs, id)
		if i < 0 {
			return nil, errors.Wrapf(ErrNotFound, "reminder %s", id)
		}

		if rs[i].Armed() {
			rs[i].Notified = true
		}
		return rs, nil
	})
}

// updateReminders applies f to a fresh copy of the stored reminders and
// persists the result before making it visible. Other processes of the same
// user write to the store too, so the cached slice is never saved as is.
func (s *Session) updateReminders(ctx context.Context, f func([]reminder.Reminder) ([]reminder.Reminder, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.usr == "" {
		return ErrSignedOut
	}

	var rs []reminder.Reminder
	if err := s.store.Load(ctx, s.usr, kv.KindReminders, &rs); err != nil {
		return err
	}
	s.reminders = rs

	rs, err := f(append([]reminder.Reminder(nil), rs...))
	if err != nil {
		return err
	}

	if err = s.store.Save(ctx, s.usr, kv.KindReminders, rs); err != nil {
		return err
	}

	s.reminders = rs
	return nil
}

func indexOfReminder(rs []reminder.Reminder, id string) int {
	for i := range rs {
		if rs[i].ID == id {
			return i
		}
	}
	return -1
}

// Transactions returns a copy of the ledger.
func (s *Session) Transactions() []ledger.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]ledger.Transaction(nil), s.transactions...)
}

// AddTransaction converts the amount from currency cur into the base currency,
// validates the entry and stores it. Nothing is stored on error.
func (s *Session) AddTransaction(ctx context.Context, t ledger.Transaction, cur string) (ledger.Transaction, error) {
	amount, err := s.converter.Normalize(t.Amount, cur)
	if err != nil {
		return ledger.Transaction{}, err
	}
	t.Amount = amount

	if t.Date.IsZero() {
		t.Date = s.clk.Now().UTC()
	}
	if err = t.Validate(); err != nil {
		return ledger.Transaction{}, err
	}

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CategoryID == "" {
		t.CategoryID = ledger.UncategorizedID
	}
	t.Description = strings.TrimSpace(t.Description)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.usr == "" {
		return ledger.Transaction{}, ErrSignedOut
	}

	if err = s.reloadTransactions(ctx); err != nil {
		return ledger.Transaction{}, err
	}

	txs := append(append([]ledger.Transaction(nil), s.transactions...), t)
	if err = s.store.Save(ctx, s.usr, kv.KindTransactions, txs); err != nil {
		return ledger.Transaction{}, err
	}

	s.transactions = txs
	return t, nil
}

func (s *Session) DeleteTransaction(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.usr == "" {
		return ErrSignedOut
	}

	if err := s.reloadTransactions(ctx); err != nil {
		return err
	}

	txs := make([]ledger.Transaction, 0, len(s.transactions))
	for _, t := range s.transactions {
		if t.ID != id {
			txs = append(txs, t)
		}
	}
	if len(txs) == len(s.transactions) {
		return errors.Wrapf(ErrNotFound, "transaction %s", id)
	}

	if err := s.store.Save(ctx, s.usr, kv.KindTransactions, txs); err != nil {
		return err
	}

	s.transactions = txs
	return nil
}

// reloadTransactions rereads the ledger. The caller holds the write lock.
func (s *Session) reloadTransactions(ctx context.Context) error {
	var txs []ledger.Transaction
	if err := s.store.Load(ctx, s.usr, kv.KindTransactions, &txs); err != nil {
		return err
	}
	s.transactions = txs
	return nil
}

func (s *Session) Balance() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return ledger.Balance(s.transactions)
}

func (s *Session) Categories() []ledger.Category {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]ledger.Category(nil), s.categories...)
}

func (s *Session) AddCategory(ctx context.Context, c ledger.Category) (ledger.Category, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return ledger.Category{}, errors.New("category name is required")
	}
	if !c.Type.Valid() {
		return ledger.Category{}, errors.Errorf("unknown category type %q", c.Type)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.usr == "" {
		return ledger.Category{}, ErrSignedOut
	}

	var cats []ledger.Category
	if err := s.store.Load(ctx, s.usr, kv.KindCategories, &cats); err != nil {
		return ledger.Category{}, err
	}
	s.categories = cats

	cats = append(append([]ledger.Category(nil), cats...), c)
	if err := s.store.Save(ctx, s.usr, kv.KindCategories, cats); err != nil {
		return ledger.Category{}, err
	}

	s.categories = cats
	return c, nil
}

// CategoryName resolves a category of a transaction, dangling references
// included.
func (s *Session) CategoryName(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return ledger.CategoryName(s.categories, id)
}

// Package kv persists client-side state: one JSON array per (user, kind).
package kv

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmhodges/clock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const keyPrefix = "organizer"

// Kinds of client state.
const (
	KindReminders    = "reminders"
	KindTransactions = "transactions"
	KindCategories   = "categories"
)

const schema = `CREATE TABLE IF NOT EXISTS client_state (
	key        TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	kind       TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_client_state_user ON client_state(user_id);`

var clk = clock.New()

type Store struct {
	db *sql.DB
}

// Key returns the namespaced key of the user's state of the given kind.
func Key(usr, kind string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, usr, kind)
}

// Open opens (or creates) the state database at path. ":memory:" is fine
// for tests.
func Open(path string) (*Store, error) {
	d, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "failed opening state database")
	}

	// a single connection keeps an in-memory database alive and avoids SQLITE_BUSY
	d.SetMaxOpenConns(1)
	d.SetMaxIdleConns(1)

	if err = d.Ping(); err != nil {
		d.Close()
		return nil, errors.Wrap(err, "failed connecting to state database")
	}

	if _, err = d.Exec(schema); err != nil {
		d.Close()
		return nil, errors.Wrap(err, "failed applying state schema")
	}

	return &Store{db: d}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Load unmarshals the user's state of the given kind into dst. A missing
// entry is an empty collection rather than an error.
func (s *Store) Load(ctx context.Context, usr, kind string, dst any) error {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM client_state WHERE key=?`, Key(usr, kind)).Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
		raw = "[]"
	case err != nil:
		return errors.Wrapf(err, "failed loading %s", kind)
	}

	if err = json.Unmarshal([]byte(raw), dst); err != nil {
		return errors.Wrapf(err, "failed decoding %s", kind)
	}
	return nil
}

// Save replaces the user's state of the given kind with v.
func (s *Store) Save(ctx context.Context, usr, kind string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "failed encoding %s", kind)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO client_state(key, user_id, kind, value, updated_at)
VALUES(?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		Key(usr, kind), usr, kind, string(raw), clk.Now().UTC())
	if err != nil {
		return errors.Wrapf(err, "failed saving %s", kind)
	}
	return nil
}

// Wipe removes every entry of the user.
func (s *Store) Wipe(ctx context.Context, usr string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM client_state WHERE user_id=?`, usr); err != nil {
		return errors.Wrap(err, "failed wiping client state")
	}
	return nil
}

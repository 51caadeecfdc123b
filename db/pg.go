package db

import (
	"context"
	"time"

	"organizer/ledger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

/**
DB tables (see schema.sql):
- user_chats: chat ID -> user ID binding, required before the bot accepts commands
- reminders: shared reminders delivered by the backend job
	- status: pending -> sending -> sent; a failed send returns to pending with last_error
	- claimed_at: set when the record goes to sending, a stale claim may be taken over
- transactions: ledger entries, source tells manual and bot entries apart
- broadcasts: audit of administrative messages
*/

var clk = clock.New()

// claimToken is the claimed_at value written for a claim made at now. The
// column keeps microseconds, so the token is truncated to match it.
func claimToken(now time.Time) time.Time {
	return now.UTC().Truncate(time.Microsecond)
}

// DueReminders returns pending reminders scheduled at or before now together
// with the ones stuck in sending since before staleBefore, oldest first.
func (d *Database) DueReminders(ctx context.Context, now, staleBefore time.Time, limit int) ([]Reminder, error) {
	rows, err := d.conn.Query(ctx, `SELECT id::text, chat_id, scheduled_at, status, title,
COALESCE(telegram_text, ''), COALESCE(last_error, '')
FROM reminders
WHERE (status=$1 AND scheduled_at<=$2) OR (status=$3 AND claimed_at<$4)
ORDER BY scheduled_at ASC
LIMIT $5`, string(StatusPending), now, string(StatusSending), staleBefore, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed querying due reminders")
	}
	defer rows.Close()

	var reminders []Reminder
	for rows.Next() {
		var r Reminder
		var status string
		if err = rows.Scan(&r.ID, &r.ChatID, &r.ScheduledAt, &status, &r.Title, &r.TelegramText, &r.LastError); err != nil {
			return nil, errors.Wrap(err, "failed scanning reminder")
		}
		r.Status = Status(status)
		reminders = append(reminders, r)
	}

	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed reading due reminders")
	}

	return reminders, nil
}

// ClaimReminder moves the reminder to sending if it's still pending or its
// previous claim went stale. The row lock makes a concurrent claimant wait and
// then see the reminder already taken. It reports whether the claim succeeded;
// the claim is identified by now in MarkSent and MarkFailed.
func (d *Database) ClaimReminder(ctx context.Context, id string, now, staleBefore time.Time) (bool, error) {
	tx, err := d.conn.Begin(ctx)
	if err != nil {
		return false, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	var status string
	var stale bool
	err = tx.QueryRow(ctx, `SELECT status, (claimed_at IS NOT NULL AND claimed_at<$2)
FROM reminders
WHERE id=$1
FOR UPDATE`, id, staleBefore).Scan(&status, &stale)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return false, nil
	case err != nil:
		return false, errors.Wrap(err, "failed reading reminder")
	}

	claimable := Status(status) == StatusPending || (Status(status) == StatusSending && stale)
	if !claimable {
		return false, nil
	}

	if _, err = tx.Exec(ctx, `UPDATE reminders SET status=$1, claimed_at=$2, updated_at=$2
WHERE id=$3`, string(StatusSending), claimToken(now), id); err != nil {
		return false, errors.Wrap(err, "failed claiming reminder")
	}

	if err = tx.Commit(ctx); err != nil {
		return false, errors.Wrap(err, "failed to commit")
	}

	return true, nil
}

// MarkSent completes delivery of the reminder claimed at claimedAt. A claim
// taken over by somebody else returns ErrNotClaimed.
func (d *Database) MarkSent(ctx context.Context, id string, claimedAt, now time.Time) error {
	tag, err := d.conn.Exec(ctx, `UPDATE reminders SET status=$1, notified_at=$2, updated_at=$2
WHERE id=$3 AND status=$4 AND claimed_at=$5`, string(StatusSent), now, id, string(StatusSending), claimToken(claimedAt))
	if err != nil {
		return errors.Wrap(err, "failed marking reminder as sent")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotClaimed
	}
	return nil
}

// MarkFailed returns the reminder claimed at claimedAt to pending keeping the
// failure reason.
func (d *Database) MarkFailed(ctx context.Context, id, reason string, claimedAt, now time.Time) error {
	tag, err := d.conn.Exec(ctx, `UPDATE reminders SET status=$1, last_error=$2, claimed_at=NULL, updated_at=$3
WHERE id=$4 AND status=$5 AND claimed_at=$6`, string(StatusPending), reason, now, id, string(StatusSending), claimToken(claimedAt))
	if err != nil {
		return errors.Wrap(err, "failed returning reminder to pending")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotClaimed
	}
	return nil
}

// CreateReminder stores a new pending reminder and returns its ID.
func (d *Database) CreateReminder(ctx context.Context, r *Reminder) (string, error) {
	if err := r.Validate(); err != nil {
		return "", err
	}

	var id string
	err := d.conn.QueryRow(ctx, `INSERT INTO reminders(chat_id, scheduled_at, status, title, telegram_text, created_at, updated_at)
VALUES($1, $2, $3, $4, NULLIF($5, ''), $6, $6)
RETURNING id::text`, r.ChatID, r.ScheduledAt.UTC(), string(StatusPending), r.Title, r.TelegramText, clk.Now().UTC()).Scan(&id)
	if err != nil {
		return "", errors.Wrap(err, "failed inserting reminder")
	}

	return id, nil
}

// BindChat creates the chat binding or points it to another user for the case
// when somebody else signed in on the same chat.
func (d *Database) BindChat(ctx context.Context, cht int64, usr string) error {
	tx, err := d.conn.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	var uID string
	err = tx.QueryRow(ctx, `SELECT user_id FROM user_chats WHERE chat_id=$1 FOR UPDATE`, cht).Scan(&uID)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if _, err := tx.Exec(ctx, `INSERT INTO user_chats(chat_id, user_id, created_at, updated_at)
VALUES($1, $2, $3, $3)`, cht, usr, clk.Now().UTC()); err != nil {
			return errors.Wrap(err, "failed inserting chat binding")
		}

	case err != nil:
		return errors.Wrap(err, "failed reading chat binding")

	default:
		if uID == usr {
			return nil
		}
		if _, err := tx.Exec(ctx, `UPDATE user_chats SET user_id=$1, updated_at=$2 WHERE chat_id=$3`, usr, clk.Now().UTC(), cht); err != nil {
			return errors.Wrap(err, "failed updating chat binding")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "failed to commit")
	}
	return nil
}

// UserByChat returns the user bound to the chat or ErrNotFound.
func (d *Database) UserByChat(ctx context.Context, cht int64) (string, error) {
	var usr string
	err := d.conn.QueryRow(ctx, `SELECT user_id FROM user_chats WHERE chat_id=$1`, cht).Scan(&usr)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return "", ErrNotFound
	case err != nil:
		return "", errors.Wrap(err, "failed fetching user by chat")
	}

	return usr, nil
}

// AddTransaction appends a validated ledger entry of the user. An empty ID is
// generated.
func (d *Database) AddTransaction(ctx context.Context, usr string, t *ledger.Transaction, source string) error {
	if err := t.Validate(); err != nil {
		return err
	}

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CategoryID == "" {
		t.CategoryID = ledger.UncategorizedID
	}

	if _, err := d.conn.Exec(ctx, `INSERT INTO transactions(id, user_id, type, amount, category_id, description, date, source, created_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, usr, string(t.Type), t.Amount.String(), t.CategoryID, t.Description, t.Date.UTC(), source, clk.Now().UTC()); err != nil {
		return errors.Wrap(err, "failed inserting transaction")
	}

	return nil
}

// Transactions returns the ledger of the user, latest first.
func (d *Database) Transactions(ctx context.Context, usr string) ([]ledger.Transaction, error) {
	rows, err := d.conn.Query(ctx, `SELECT id, type, amount::text, category_id, description, date
FROM transactions
WHERE user_id=$1
ORDER BY date DESC`, usr)
	if err != nil {
		return nil, errors.Wrap(err, "failed querying transactions")
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		var t ledger.Transaction
		var typ, amount string
		if err = rows.Scan(&t.ID, &typ, &amount, &t.CategoryID, &t.Description, &t.Date); err != nil {
			return nil, errors.Wrap(err, "failed scanning transaction")
		}

		t.Type = ledger.Type(typ)
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, errors.Wrapf(err, "malformed amount of transaction %s", t.ID)
		}
		txs = append(txs, t)
	}

	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed reading transactions")
	}

	return txs, nil
}

// ChatIDs returns all bound chats.
func (d *Database) ChatIDs(ctx context.Context) ([]int64, error) {
	rows, err := d.conn.Query(ctx, `SELECT chat_id FROM user_chats ORDER BY chat_id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed fetching list of chats")
	}
	defer rows.Close()

	var chats []int64
	for rows.Next() {
		var cht int64
		if err = rows.Scan(&cht); err != nil {
			return nil, errors.Wrap(err, "failed reading chat ID")
		}
		chats = append(chats, cht)
	}

	return chats, rows.Err()
}

// RecordBroadcast keeps the outcome of a broadcast for audit.
func (d *Database) RecordBroadcast(ctx context.Context, msg string, sent, total int) error {
	if _, err := d.conn.Exec(ctx, `INSERT INTO broadcasts(message, sent_count, total_count, created_at)
VALUES($1, $2, $3, $4)`, msg, sent, total, clk.Now().UTC()); err != nil {
		return errors.Wrap(err, "failed recording broadcast")
	}
	return nil
}

// Package reminder keeps client-side reminders and fires them when due.
package reminder

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
)

const (
	dateLayout    = "2006-01-02"
	clockLayout   = "15:04"
	messageLayout = "Mon, 02 Jan 2006 15:04"
)

var (
	clk = clock.New()

	ErrInvalidReminder = errors.New("invalid reminder")
)

// Reminder is a client-local reminder. Done is driven by the user, Notified by
// the scheduler; the two are independent except that un-doing a reminder
// re-arms it.
type Reminder struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Date     string `json:"date"` // ISO date or date-time, only the date part is used
	Time     string `json:"time"` // HH:MM local wall-clock time
	Notes    string `json:"notes,omitempty"`
	Done     bool   `json:"done"`
	Notified bool   `json:"notified"`
}

// NewID returns a unique ID made of the current timestamp and a random suffix.
func NewID() string {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return strconv.FormatInt(clk.Now().UnixNano(), 36)
	}
	return strconv.FormatInt(clk.Now().UnixMilli(), 36) + "-" + hex.EncodeToString(suffix)
}

// Armed tells whether the reminder still has to be notified about.
func (r *Reminder) Armed() bool {
	return !r.Done && !r.Notified
}

// SetDone updates the completion flag. Going from done back to not done
// resets Notified so the reminder fires again.
func (r *Reminder) SetDone(done bool) {
	if r.Done && !done {
		r.Notified = false
	}
	r.Done = done
}

// ScheduledAt combines date and time in loc. A missing or malformed time
// counts as midnight; a malformed date makes the reminder never due. A date
// with a zone, like "2024-04-30T22:00:00.000Z", is taken on the calendar of loc.
func (r *Reminder) ScheduledAt(loc *time.Location) (time.Time, bool) {
	if len(r.Date) < len(dateLayout) {
		return time.Time{}, false
	}

	d, err := time.Parse(dateLayout, r.Date[:len(dateLayout)])
	if err != nil {
		return time.Time{}, false
	}

	if len(r.Date) > len(dateLayout) {
		if ts, err := time.Parse(time.RFC3339, r.Date); err == nil {
			d = ts.In(loc)
		}
	}

	hh, mm := parseClock(r.Time)
	return time.Date(d.Year(), d.Month(), d.Day(), hh, mm, 0, 0, loc), true
}

func (r *Reminder) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return errors.Wrap(ErrInvalidReminder, "title is required")
	}

	if _, ok := r.ScheduledAt(time.UTC); !ok {
		return errors.Wrapf(ErrInvalidReminder, "malformed date %q", r.Date)
	}

	if r.Time != "" && !validClock(r.Time) {
		return errors.Wrapf(ErrInvalidReminder, "expected time in the format HH:MM, got %q", r.Time)
	}

	return nil
}

// Message composes the notification text.
func Message(r *Reminder, loc *time.Location) string {
	var sb strings.Builder

	sb.WriteString("⏰ ")
	sb.WriteString(r.Title)
	if notes := strings.TrimSpace(r.Notes); notes != "" {
		sb.WriteString("\n")
		sb.WriteString(notes)
	}
	if at, ok := r.ScheduledAt(loc); ok {
		sb.WriteString("\n")
		sb.WriteString(at.Format(messageLayout))
	}

	return sb.String()
}

// parseClock reads HH:MM; each malformed part is zero.
func parseClock(s string) (int, int) {
	hs, ms, _ := strings.Cut(strings.TrimSpace(s), ":")
	return clockPart(hs, 23), clockPart(ms, 59)
}

func clockPart(s string, limit int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > limit {
		return 0
	}
	return n
}

func validClock(s string) bool {
	_, err := time.Parse(clockLayout, s)
	return err == nil
}

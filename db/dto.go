package db

import (
	"time"

	"github.com/pkg/errors"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrNotClaimed      = errors.New("reminder is not claimed")
	ErrInvalidReminder = errors.New("invalid reminder")
)

// Reminder is the shared record delivered by the backend job.
type Reminder struct {
	ID           string
	ChatID       int64
	ScheduledAt  time.Time
	Status       Status
	Title        string
	TelegramText string // precomposed message, optional
	LastError    string // last delivery failure, kept as a trace after success
}

func (r *Reminder) Validate() error {
	switch {
	case r.ChatID == 0:
		return errors.Wrap(ErrInvalidReminder, "chat ID is required")
	case r.Title == "" && r.TelegramText == "":
		return errors.Wrap(ErrInvalidReminder, "title or text is required")
	case r.ScheduledAt.IsZero():
		return errors.Wrap(ErrInvalidReminder, "scheduled time is required")
	}
	return nil
}

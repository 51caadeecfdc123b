// Package delivery claims due shared reminders and sends them exactly once.
package delivery

import (
	"context"
	"fmt"
	"time"

	"organizer/db"
	"organizer/tgbot"

	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DefaultBatchSize    = 100
	DefaultClaimTimeout = 5 * time.Minute

	fmtReminder = "⏰ %s\n%s"
	timeLayout  = "02 Jan 2006 15:04 MST"
)

type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Store is the part of the shared store the job needs.
type Store interface {
	DueReminders(ctx context.Context, now, staleBefore time.Time, limit int) ([]db.Reminder, error)
	ClaimReminder(ctx context.Context, id string, now, staleBefore time.Time) (bool, error)
	MarkSent(ctx context.Context, id string, claimedAt, now time.Time) error
	MarkFailed(ctx context.Context, id, reason string, claimedAt, now time.Time) error
}

type Result struct {
	ID      string  `json:"id"`
	Outcome Outcome `json:"outcome"`
	Error   string  `json:"error,omitempty"`
}

// Summary is what a run did. Processed counts every due reminder looked at,
// skipped ones included.
type Summary struct {
	Processed int      `json:"processed"`
	Results   []Result `json:"results"`
}

func (s *Summary) Count(o Outcome) int {
	n := 0
	for _, r := range s.Results {
		if r.Outcome == o {
			n++
		}
	}
	return n
}

type Job struct {
	Store        Store
	Notifier     tgbot.Notifier
	Logger       *zap.SugaredLogger
	Clock        clock.Clock
	BatchSize    int
	ClaimTimeout time.Duration
}

func NewJob(s Store, n tgbot.Notifier, l *zap.SugaredLogger) *Job {
	return &Job{
		Store:        s,
		Notifier:     n,
		Logger:       l,
		Clock:        clock.New(),
		BatchSize:    DefaultBatchSize,
		ClaimTimeout: DefaultClaimTimeout,
	}
}

// Run delivers one batch of due reminders, oldest first. A failure of one
// reminder doesn't affect the others; only a failed due query fails the run.
func (j *Job) Run(ctx context.Context) (*Summary, error) {
	start := j.Clock.Now()
	defer func() {
		runDuration.Observe(j.Clock.Now().Sub(start).Seconds())
	}()

	now := start.UTC()
	due, err := j.Store.DueReminders(ctx, now, now.Add(-j.ClaimTimeout), j.BatchSize)
	if err != nil {
		runsTotal.WithLabelValues("error").Inc()
		return nil, errors.Wrap(err, "failed fetching due reminders")
	}

	summary := &Summary{Results: make([]Result, 0, len(due))}
	for i := range due {
		if ctx.Err() != nil {
			break
		}

		res := j.deliver(ctx, &due[i])
		remindersTotal.WithLabelValues(string(res.Outcome)).Inc()
		summary.Results = append(summary.Results, res)
	}
	summary.Processed = len(summary.Results)

	runsTotal.WithLabelValues("ok").Inc()
	if summary.Processed > 0 {
		j.Logger.Infow("delivery run finished", "processed", summary.Processed,
			"sent", summary.Count(OutcomeSent), "failed", summary.Count(OutcomeFailed))
	}

	return summary, nil
}

func (j *Job) deliver(ctx context.Context, r *db.Reminder) Result {
	l := j.Logger.With("reminder", r.ID, "cht", r.ChatID)

	claimedAt := j.Clock.Now().UTC()
	claimed, err := j.Store.ClaimReminder(ctx, r.ID, claimedAt, claimedAt.Add(-j.ClaimTimeout))
	switch {
	case err != nil:
		l.Errorw("failed claiming reminder", "err", err)
		return Result{ID: r.ID, Outcome: OutcomeSkipped, Error: err.Error()}
	case !claimed:
		l.Debug("reminder is claimed by someone else")
		return Result{ID: r.ID, Outcome: OutcomeSkipped}
	}

	res, err := j.Notifier.Notify(ctx, r.ChatID, Text(r))
	var reason string
	switch {
	case err != nil:
		reason = err.Error()
	case !res.OK:
		reason = fmt.Sprintf("provider rejected the message (%d): %s", res.StatusCode, res.Description)
	}

	// the claim must be released even if the run is being cancelled
	storeCtx := context.WithoutCancel(ctx)
	now := j.Clock.Now().UTC()

	if reason != "" {
		l.Warnw("failed sending reminder", "reason", reason)
		if err = j.Store.MarkFailed(storeCtx, r.ID, reason, claimedAt, now); err != nil {
			l.Errorw("failed returning reminder to pending", "err", err)
		}
		return Result{ID: r.ID, Outcome: OutcomeFailed, Error: reason}
	}

	if err = j.Store.MarkSent(storeCtx, r.ID, claimedAt, now); err != nil {
		// the message is out, a stale claim retried later would duplicate it
		l.Errorw("failed marking reminder as sent", "err", err)
		return Result{ID: r.ID, Outcome: OutcomeSent, Error: err.Error()}
	}

	return Result{ID: r.ID, Outcome: OutcomeSent}
}

// Text is the message sent for the reminder.
func Text(r *db.Reminder) string {
	if r.TelegramText != "" {
		return r.TelegramText
	}
	return fmt.Sprintf(fmtReminder, r.Title, r.ScheduledAt.UTC().Format(timeLayout))
}

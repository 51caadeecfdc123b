package reminder

import (
	"container/heap"
	"context"
	"time"

	"organizer/tgbot"

	"github.com/jmhodges/clock"
	"go.uber.org/zap"
)

const DefaultInterval = 30 * time.Second

// Store holds the reminders of the signed-in user. Load refreshes them from
// persistent storage shared with other processes.
type Store interface {
	Load(ctx context.Context) error
	Reminders() []Reminder
	MarkNotified(ctx context.Context, id string) error
	ChatID() (int64, bool)
}

// Scheduler fires due reminders. It's best effort: overlapping Tick calls
// may send a reminder twice, Run never overlaps them.
type Scheduler struct {
	Store    Store
	Notifier tgbot.Notifier
	Logger   *zap.SugaredLogger
	Clock    clock.Clock
	Location *time.Location
	Interval time.Duration
}

func NewScheduler(s Store, n tgbot.Notifier, loc *time.Location, l *zap.SugaredLogger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}

	return &Scheduler{
		Store:    s,
		Notifier: n,
		Logger:   l,
		Clock:    clk,
		Location: loc,
		Interval: DefaultInterval,
	}
}

// Run checks reminders right away and then every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.Logger.Infof("checking reminders every %s", s.Interval)

	for {
		s.Tick(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick notifies about every armed reminder due by now, oldest first, and
// returns how many were marked notified. A reminder whose send failed on the
// transport stays armed for the next tick.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.Clock.Now().In(s.Location)

	if err := s.Store.Load(ctx); err != nil {
		s.Logger.Errorw("failed reloading reminders, using the cached ones", "err", err)
	}

	rq := newReminderQueue()
	byID := make(map[string]Reminder)
	for _, r := range s.Store.Reminders() {
		if !r.Armed() {
			continue
		}

		at, ok := r.ScheduledAt(s.Location)
		if !ok {
			continue
		}

		byID[r.ID] = r
		heap.Push(rq, &queued{at: at, id: r.ID})
	}

	cht, hasChat := s.Store.ChatID()

	fired := 0
	for {
		q := rq.Peek()
		if q == nil || now.Before(q.at) {
			break
		}

		heap.Pop(rq)

		r := byID[q.id]
		l := s.Logger.With("reminder", r.ID)

		if hasChat {
			res, err := s.Notifier.Notify(ctx, cht, Message(&r, s.Location))
			if err != nil {
				l.Warnw("failed sending reminder, will retry", "err", err)
				continue
			}
			if !res.OK {
				l.Warnw("reminder rejected", "code", res.StatusCode, "description", res.Description)
			}
		}

		if err := s.Store.MarkNotified(ctx, r.ID); err != nil {
			l.Errorw("failed marking reminder as notified", "err", err)
			continue
		}
		fired++
	}

	return fired
}

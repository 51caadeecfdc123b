package delivery

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"organizer/db"
	"organizer/tgbot"

	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var now = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type row struct {
	db.Reminder
	claimedAt time.Time
}

// memStore mimics the row-locked claim of the shared store.
type memStore struct {
	mu      sync.Mutex
	rows    map[string]*row
	barrier *sync.WaitGroup
	dueErr  error
}

func newMemStore(reminders ...db.Reminder) *memStore {
	s := &memStore{rows: make(map[string]*row)}
	for _, r := range reminders {
		if r.Status == "" {
			r.Status = db.StatusPending
		}
		s.rows[r.ID] = &row{Reminder: r}
	}
	return s
}

func (s *memStore) DueReminders(_ context.Context, now, staleBefore time.Time, limit int) ([]db.Reminder, error) {
	if s.dueErr != nil {
		return nil, s.dueErr
	}

	s.mu.Lock()
	var due []db.Reminder
	for _, r := range s.rows {
		pending := r.Status == db.StatusPending && !r.ScheduledAt.After(now)
		stale := r.Status == db.StatusSending && r.claimedAt.Before(staleBefore)
		if pending || stale {
			due = append(due, r.Reminder)
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Before(due[j].ScheduledAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	// lets concurrent runs see the same snapshot before anybody claims
	if s.barrier != nil {
		s.barrier.Done()
		s.barrier.Wait()
	}

	return due, nil
}

func (s *memStore) ClaimReminder(_ context.Context, id string, now, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rows[id]
	if !ok {
		return false, nil
	}

	stale := r.Status == db.StatusSending && r.claimedAt.Before(staleBefore)
	if r.Status != db.StatusPending && !stale {
		return false, nil
	}

	r.Status = db.StatusSending
	r.claimedAt = now
	return true, nil
}

func (s *memStore) MarkSent(_ context.Context, id string, claimedAt, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.rows[id]
	if r == nil || r.Status != db.StatusSending || !r.claimedAt.Equal(claimedAt) {
		return db.ErrNotClaimed
	}
	r.Status = db.StatusSent
	return nil
}

func (s *memStore) MarkFailed(_ context.Context, id, reason string, claimedAt, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.rows[id]
	if r == nil || r.Status != db.StatusSending || !r.claimedAt.Equal(claimedAt) {
		return db.ErrNotClaimed
	}
	r.Status = db.StatusPending
	r.LastError = reason
	r.claimedAt = time.Time{}
	return nil
}

func (s *memStore) get(id string) db.Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.rows[id].Reminder
}

type fakeNotifier struct {
	mu     sync.Mutex
	sent   []int64
	result tgbot.Result
	err    error
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{result: tgbot.Result{OK: true, StatusCode: 200}}
}

func (n *fakeNotifier) Notify(_ context.Context, cht int64, _ string) (tgbot.Result, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.sent = append(n.sent, cht)
	return n.result, n.err
}

func (n *fakeNotifier) set(res tgbot.Result, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.result, n.err = res, err
}

func (n *fakeNotifier) chats() []int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]int64(nil), n.sent...)
}

type notifierFunc func(ctx context.Context, cht int64, txt string) (tgbot.Result, error)

func (f notifierFunc) Notify(ctx context.Context, cht int64, txt string) (tgbot.Result, error) {
	return f(ctx, cht, txt)
}

func newTestJob(s Store, n tgbot.Notifier) *Job {
	j := NewJob(s, n, zap.NewNop().Sugar())

	fc := clock.NewFake()
	fc.Set(now)
	j.Clock = fc

	return j
}

func TestRunDeliversDueOldestFirst(t *testing.T) {
	s := newMemStore(
		db.Reminder{ID: "newer", ChatID: 2, ScheduledAt: now.Add(-time.Minute), Title: "newer"},
		db.Reminder{ID: "future", ChatID: 3, ScheduledAt: now.Add(time.Hour), Title: "future"},
		db.Reminder{ID: "older", ChatID: 1, ScheduledAt: now.Add(-24 * time.Hour), Title: "older"},
		db.Reminder{ID: "exact", ChatID: 4, ScheduledAt: now, Title: "exact"},
	)
	n := newFakeNotifier()

	summary, err := newTestJob(s, n).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, []Result{
		{ID: "older", Outcome: OutcomeSent},
		{ID: "newer", Outcome: OutcomeSent},
		{ID: "exact", Outcome: OutcomeSent},
	}, summary.Results)
	assert.Equal(t, []int64{1, 2, 4}, n.chats())

	assert.Equal(t, db.StatusSent, s.get("older").Status)
	assert.Equal(t, db.StatusPending, s.get("future").Status)
}

func TestRunEmpty(t *testing.T) {
	n := newFakeNotifier()

	summary, err := newTestJob(newMemStore(), n).Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, summary.Processed)
	assert.Empty(t, summary.Results)
	assert.Empty(t, n.chats())
}

func TestRunConcurrentClaim(t *testing.T) {
	var reminders []db.Reminder
	for i := 0; i < 20; i++ {
		reminders = append(reminders, db.Reminder{
			ID:          string(rune('a' + i)),
			ChatID:      int64(i),
			ScheduledAt: now.Add(-time.Duration(i) * time.Minute),
			Title:       "race",
		})
	}

	s := newMemStore(reminders...)
	s.barrier = &sync.WaitGroup{}
	s.barrier.Add(2)
	n := newFakeNotifier()

	summaries := make([]*Summary, 2)
	var wg sync.WaitGroup
	for i := range summaries {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			summary, err := newTestJob(s, n).Run(context.Background())
			assert.NoError(t, err)
			summaries[i] = summary
		}(i)
	}
	wg.Wait()

	require.NotNil(t, summaries[0])
	require.NotNil(t, summaries[1])

	// both runs looked at every reminder, exactly one of them sent it
	assert.Equal(t, len(reminders), summaries[0].Processed)
	assert.Equal(t, len(reminders), summaries[1].Processed)
	assert.Equal(t, len(reminders), summaries[0].Count(OutcomeSent)+summaries[1].Count(OutcomeSent))
	assert.Equal(t, len(reminders), summaries[0].Count(OutcomeSkipped)+summaries[1].Count(OutcomeSkipped))

	sends := make(map[int64]int)
	for _, cht := range n.chats() {
		sends[cht]++
	}
	for _, r := range reminders {
		assert.Equal(t, 1, sends[r.ChatID], r.ID)
		assert.Equal(t, db.StatusSent, s.get(r.ID).Status, r.ID)
	}
}

func TestRunFailureThenRetry(t *testing.T) {
	s := newMemStore(db.Reminder{ID: "r1", ChatID: 42, ScheduledAt: now, Title: "Call mom"})
	n := newFakeNotifier()
	n.set(tgbot.Result{StatusCode: 400, Description: "Bad Request: chat not found"}, nil)
	j := newTestJob(s, n)

	summary, err := j.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, OutcomeFailed, summary.Results[0].Outcome)

	r := s.get("r1")
	assert.Equal(t, db.StatusPending, r.Status)
	assert.Contains(t, r.LastError, "chat not found")

	n.set(tgbot.Result{OK: true, StatusCode: 200}, nil)

	summary, err = j.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Result{{ID: "r1", Outcome: OutcomeSent}}, summary.Results)

	r = s.get("r1")
	assert.Equal(t, db.StatusSent, r.Status)
	assert.Len(t, n.chats(), 2)

	// sent never goes back
	summary, err = j.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Processed)
	assert.Len(t, n.chats(), 2)
}

func TestRunTransportFailure(t *testing.T) {
	s := newMemStore(db.Reminder{ID: "r1", ChatID: 42, ScheduledAt: now, Title: "Call mom"})
	n := newFakeNotifier()
	n.set(tgbot.Result{}, errors.New("dial tcp: lookup api.telegram.org: no such host"))

	summary, err := newTestJob(s, n).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, summary.Results[0].Outcome)

	r := s.get("r1")
	assert.Equal(t, db.StatusPending, r.Status)
	assert.Contains(t, r.LastError, "no such host")
}

func TestRunReclaimsStaleSending(t *testing.T) {
	s := newMemStore(
		db.Reminder{ID: "stale", ChatID: 1, ScheduledAt: now.Add(-time.Hour), Status: db.StatusSending},
		db.Reminder{ID: "fresh", ChatID: 2, ScheduledAt: now.Add(-time.Hour), Status: db.StatusSending},
	)
	s.rows["stale"].claimedAt = now.Add(-10 * time.Minute)
	s.rows["fresh"].claimedAt = now.Add(-time.Minute)
	n := newFakeNotifier()

	summary, err := newTestJob(s, n).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []Result{{ID: "stale", Outcome: OutcomeSent}}, summary.Results)
	assert.Equal(t, db.StatusSent, s.get("stale").Status)
	assert.Equal(t, db.StatusSending, s.get("fresh").Status)
}

func TestRunLateClaimantKeepsTakeover(t *testing.T) {
	s := newMemStore(db.Reminder{ID: "r1", ChatID: 42, ScheduledAt: now, Title: "Call mom"})

	// a later run finds the claim stale while the first send still hangs
	takeover := newTestJob(s, newFakeNotifier())
	takeover.Clock.(clock.FakeClock).Add(10 * time.Minute)

	var reclaimed *Summary
	sends := 0
	first := newTestJob(s, notifierFunc(func(ctx context.Context, _ int64, _ string) (tgbot.Result, error) {
		sends++
		var err error
		reclaimed, err = takeover.Run(ctx)
		require.NoError(t, err)
		return tgbot.Result{}, errors.New("read tcp: i/o timeout")
	}))

	summary, err := first.Run(context.Background())
	require.NoError(t, err)

	require.NotNil(t, reclaimed)
	assert.Equal(t, []Result{{ID: "r1", Outcome: OutcomeSent}}, reclaimed.Results)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, OutcomeFailed, summary.Results[0].Outcome)

	// the late failure doesn't put the delivered reminder back to pending
	r := s.get("r1")
	assert.Equal(t, db.StatusSent, r.Status)
	assert.Empty(t, r.LastError)
	assert.Equal(t, 1, sends)

	summary, err = first.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Processed)
}

func TestRunDueQueryFails(t *testing.T) {
	s := newMemStore()
	s.dueErr = errors.New("connection refused")

	_, err := newTestJob(s, newFakeNotifier()).Run(context.Background())
	assert.Error(t, err)
}

func TestText(t *testing.T) {
	r := &db.Reminder{Title: "Call mom", ScheduledAt: now}
	assert.Equal(t, "⏰ Call mom\n01 May 2024 09:00 UTC", Text(r))

	r.TelegramText = "Don't forget to call mom"
	assert.Equal(t, "Don't forget to call mom", Text(r))
}

package delivery

import (
	"context"
	"testing"

	"organizer/tgbot"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type broadcastStore struct {
	chats    []int64
	recorded []BroadcastReport
}

func (s *broadcastStore) ChatIDs(context.Context) ([]int64, error) {
	return s.chats, nil
}

func (s *broadcastStore) RecordBroadcast(_ context.Context, msg string, sent, total int) error {
	s.recorded = append(s.recorded, BroadcastReport{Message: msg, SentCount: sent, TotalCount: total})
	return nil
}

// pickyNotifier rejects chat 2 and can't reach chat 3.
type pickyNotifier struct {
	sent []int64
}

func (n *pickyNotifier) Notify(_ context.Context, cht int64, _ string) (tgbot.Result, error) {
	n.sent = append(n.sent, cht)
	switch cht {
	case 2:
		return tgbot.Result{StatusCode: 403, Description: "Forbidden: bot was blocked by the user"}, nil
	case 3:
		return tgbot.Result{}, errors.New("connection reset by peer")
	}
	return tgbot.Result{OK: true, StatusCode: 200}, nil
}

func TestBroadcast(t *testing.T) {
	s := &broadcastStore{chats: []int64{1, 2, 3, 4}}
	n := &pickyNotifier{}

	report, err := Broadcast(context.Background(), s, n, zap.NewNop().Sugar(), "New release is out")
	require.NoError(t, err)

	want := BroadcastReport{Message: "New release is out", SentCount: 2, TotalCount: 4}
	assert.Equal(t, &want, report)
	assert.Equal(t, []BroadcastReport{want}, s.recorded)
	assert.Equal(t, []int64{1, 2, 3, 4}, n.sent)
}

func TestBroadcastEmptyMessage(t *testing.T) {
	s := &broadcastStore{chats: []int64{1}}
	n := &pickyNotifier{}

	_, err := Broadcast(context.Background(), s, n, zap.NewNop().Sugar(), "  ")
	assert.True(t, errors.Is(err, ErrEmptyMessage))
	assert.Empty(t, n.sent)
	assert.Empty(t, s.recorded)
}

func TestBroadcastNoChats(t *testing.T) {
	s := &broadcastStore{}

	report, err := Broadcast(context.Background(), s, &pickyNotifier{}, zap.NewNop().Sugar(), "hello")
	require.NoError(t, err)
	assert.Zero(t, report.TotalCount)
	assert.Len(t, s.recorded, 1)
}

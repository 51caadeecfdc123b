package delivery

import (
	"context"
	"strings"

	"organizer/tgbot"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var ErrEmptyMessage = errors.New("message is empty")

// BroadcastStore is the part of the shared store broadcasts need.
type BroadcastStore interface {
	ChatIDs(ctx context.Context) ([]int64, error)
	RecordBroadcast(ctx context.Context, msg string, sent, total int) error
}

type BroadcastReport struct {
	Message    string `json:"message"`
	SentCount  int    `json:"sentCount"`
	TotalCount int    `json:"totalCount"`
}

// Broadcast sends msg to every bound chat one by one and records the totals.
// Failed chats are logged and counted out, they don't stop the fan-out.
func Broadcast(ctx context.Context, s BroadcastStore, n tgbot.Notifier, l *zap.SugaredLogger, msg string) (*BroadcastReport, error) {
	if strings.TrimSpace(msg) == "" {
		return nil, ErrEmptyMessage
	}

	chats, err := s.ChatIDs(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed fetching chats")
	}

	report := &BroadcastReport{Message: msg, TotalCount: len(chats)}
	for _, cht := range chats {
		if ctx.Err() != nil {
			break
		}

		res, err := n.Notify(ctx, cht, msg)
		switch {
		case err != nil:
			l.Errorw("failed broadcasting", "cht", cht, "err", err)
			broadcastMessagesTotal.WithLabelValues("error").Inc()
		case !res.OK:
			l.Warnw("broadcast rejected", "cht", cht, "code", res.StatusCode, "description", res.Description)
			broadcastMessagesTotal.WithLabelValues("rejected").Inc()
		default:
			report.SentCount++
			broadcastMessagesTotal.WithLabelValues("sent").Inc()
		}
	}

	if err = s.RecordBroadcast(context.WithoutCancel(ctx), msg, report.SentCount, report.TotalCount); err != nil {
		return report, errors.Wrap(err, "failed recording broadcast")
	}

	l.Infow("broadcast finished", "sent", report.SentCount, "total", report.TotalCount)

	return report, nil
}

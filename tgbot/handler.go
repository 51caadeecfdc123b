package tgbot

import (
	"context"
	"fmt"
	"strings"

	"organizer/db"
	"organizer/ledger"
	"organizer/logger"

	tg "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const (
	txtOnboarding = "Hi! I don't know you yet. Open the organizer app from this chat to link your account, then send me expenses like \"150 coffee\" or income like \"+500 gift\""
	txtHelp       = `Send me a transaction and I'll put it into your ledger:
150 coffee - an expense of 150
+500 gift - an income of 500
salary 1000 - an income too, I know a few income words
/balance - to see your balance
/help - to see this message`
	txtFailedSave    = "I couldn't save the transaction. Please try again later"
	txtFailedBalance = "I couldn't calculate your balance. Please try again later"

	fmtSaved   = "Saved %s: %s (%s)"
	fmtBalance = "Your balance: %s (%d transactions)"
)

var (
	cmdStart   = makeCommand("start")
	cmdHelp    = makeCommand("help")
	cmdBalance = makeCommand("balance")
)

// Outcomes of inbound messages.
const (
	outcomeOnboarding  = "onboarding"
	outcomeTransaction = "transaction"
	outcomeHelp        = "help"
	outcomeBalance     = "balance"
	outcomeIgnored     = "ignored"
	outcomeError       = "error"
)

var messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "organizer",
	Subsystem: "webhook",
	Name:      "messages_total",
	Help:      "Inbound chat messages by outcome.",
}, []string{"outcome"})

type Command struct {
	Name string
}

func makeCommand(name string) *Command {
	return &Command{Name: name}
}

// Store is the part of the shared store the webhook uses.
type Store interface {
	UserByChat(ctx context.Context, cht int64) (string, error)
	AddTransaction(ctx context.Context, usr string, t *ledger.Transaction, source string) error
	Transactions(ctx context.Context, usr string) ([]ledger.Transaction, error)
}

// Replier delivers a reply to a chat.
type Replier interface {
	Send(ctx context.Context, cht int64, txt string) error
}

// Handler turns inbound chat messages into ledger transactions.
type Handler struct {
	Store   Store
	Replier Replier
	Logger  *zap.SugaredLogger
	Clock   clock.Clock
}

func NewHandler(s Store, r Replier, l *zap.SugaredLogger) *Handler {
	return &Handler{
		Store:   s,
		Replier: r,
		Logger:  l,
		Clock:   clock.New(),
	}
}

// HandleUpdate processes a webhook update. Errors are logged, never returned:
// the provider redelivers updates the webhook fails on.
func (h *Handler) HandleUpdate(ctx context.Context, upd *tg.Update) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil || msg.Text == "" {
		return
	}

	cht := msg.Chat.ID
	l := logger.ForChat(h.Logger, cht)

	reply, outcome, err := h.HandleMessage(ctx, cht, msg.Text)
	messagesTotal.WithLabelValues(outcome).Inc()
	if err != nil {
		l.Errorw("failed handling message", "err", err)
	}

	if reply == "" {
		return
	}

	if err = h.Replier.Send(ctx, cht, reply); err != nil {
		l.Errorw("failed replying", "err", err)
	}
}

// HandleMessage returns the reply to the message and its outcome. An empty
// reply means the message is ignored.
func (h *Handler) HandleMessage(ctx context.Context, cht int64, text string) (string, string, error) {
	usr, err := h.Store.UserByChat(ctx, cht)
	switch {
	case errors.Is(err, db.ErrNotFound):
		return txtOnboarding, outcomeOnboarding, nil
	case err != nil:
		return "", outcomeError, errors.Wrap(err, "failed resolving user")
	}

	// "/start 42" carries a deep-link payload, not an amount
	if cmd := commandOf(text); cmd != "" {
		return h.handleCommand(ctx, usr, cmd)
	}

	parsed := ParseTransaction(text)
	if parsed == nil {
		return "", outcomeIgnored, nil
	}

	t := &ledger.Transaction{
		Type:        parsed.Type,
		Amount:      parsed.Amount,
		CategoryID:  ledger.UncategorizedID,
		Description: parsed.Description,
		Date:        h.Clock.Now().UTC(),
	}
	if err = h.Store.AddTransaction(ctx, usr, t, ledger.SourceBot); err != nil {
		return txtFailedSave, outcomeError, errors.Wrap(err, "failed saving transaction")
	}

	logger.ForUser(h.Logger, usr).Infow("transaction saved", "id", t.ID, "type", t.Type)

	return fmt.Sprintf(fmtSaved, t.Type, t.Amount.StringFixed(2), t.Description), outcomeTransaction, nil
}

func (h *Handler) handleCommand(ctx context.Context, usr, cmd string) (string, string, error) {
	switch cmd {
	case cmdStart.Name, cmdHelp.Name:
		return txtHelp, outcomeHelp, nil

	case cmdBalance.Name:
		txs, err := h.Store.Transactions(ctx, usr)
		if err != nil {
			return txtFailedBalance, outcomeError, errors.Wrap(err, "failed fetching transactions")
		}
		return fmt.Sprintf(fmtBalance, ledger.Balance(txs).StringFixed(2), len(txs)), outcomeBalance, nil
	}

	return "", outcomeIgnored, nil
}

// commandOf extracts "help" out of "/help" and "/help@some_bot args".
func commandOf(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}

	name := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name)
}

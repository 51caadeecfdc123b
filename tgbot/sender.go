package tgbot

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"organizer/bot"

	tg "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Result is the provider's answer to a send request. Provider-level failures
// are reported here rather than as errors.
type Result struct {
	OK          bool            `json:"ok"`
	StatusCode  int             `json:"statusCode,omitempty"`
	Description string          `json:"description,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Notifier sends a text message to a chat.
type Notifier interface {
	Notify(ctx context.Context, cht int64, txt string) (Result, error)
}

type Sender struct {
	Bot           *tg.BotAPI
	Logger        *zap.SugaredLogger
	RetryAttempts int
	RetryDelay    time.Duration
}

// DefaultTimeout bounds a single Bot API call.
const DefaultTimeout = 10 * time.Second

// NewClient returns an HTTP client for the Bot API. A non-positive timeout
// means DefaultTimeout.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// NewBot authorizes on the Bot API. endpoint is a format like
// "https://api.telegram.org/bot%s/%s", a nil client means NewClient(0).
func NewBot(token, endpoint string, client *http.Client, l *zap.SugaredLogger) (*tg.BotAPI, error) {
	if client == nil {
		client = NewClient(0)
	}

	b, err := tg.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize Telegram Bot")
	}

	b.Debug = false

	l.Infof("authorized on account %q (%q, %d)", b.Self.FirstName, b.Self.UserName, b.Self.ID)

	return b, nil
}

func NewSender(b *tg.BotAPI, l *zap.SugaredLogger) *Sender {
	return &Sender{
		Bot:           b,
		Logger:        l,
		RetryAttempts: 3,
		RetryDelay:    time.Second,
	}
}

// NoRetry returns a copy of the sender making a single attempt per message.
func (s *Sender) NoRetry() *Sender {
	c := *s
	c.RetryAttempts = 1
	return &c
}

// Notify issues a single sendMessage request. Only transport failures are
// returned as errors.
func (s *Sender) Notify(ctx context.Context, cht int64, txt string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	m := tg.NewMessage(cht, txt)
	m.DisableWebPagePreview = true

	resp, err := s.Bot.Request(m)

	var apiErr *tg.Error
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case err == nil:
		return Result{OK: true, StatusCode: http.StatusOK, Payload: resp.Result}, nil

	case errors.As(err, &apiErr):
		return Result{StatusCode: apiErr.Code, Description: apiErr.Message}, nil

	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return Result{Description: "malformed provider response: " + err.Error()}, nil
	}

	return Result{}, errors.Wrap(err, "failed sending message")
}

// Send delivers a reply retrying transport failures. Provider failures aren't
// retried.
func (s *Sender) Send(ctx context.Context, cht int64, txt string) error {
	var res Result
	var err error
	bot.RobustExecute(ctx, s.RetryAttempts, s.RetryDelay, func() bool {
		res, err = s.Notify(ctx, cht, txt)
		return err == nil
	})

	switch {
	case err != nil:
		s.Logger.Errorw("failed sending message", "cht", cht, "err", err)
		return err
	case !res.OK:
		s.Logger.Warnw("message rejected", "cht", cht, "code", res.StatusCode, "description", res.Description)
		return errors.Errorf("message rejected: %s", res.Description)
	}
	return nil
}

package bot

import (
	"context"

	"organizer/db"

	tg "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Context keeps references to common (configuration, logger, Telegram Bot API,
// database) dependencies of a command. Bot and DB stay nil until connected.
type Context struct {
	Config *Config
	Logger *zap.SugaredLogger
	Bot    *tg.BotAPI
	DB     *db.Database
}

// NewContext creates new context. Make sure pointers are not nil.
func NewContext(cfg *Config, l *zap.SugaredLogger) *Context {
	return &Context{
		Config: cfg,
		Logger: l,
	}
}

// ConnectDB connects to the shared database retrying as configured.
func (c *Context) ConnectDB(ctx context.Context) error {
	if err := c.Config.Require(CfgDbConnStr); err != nil {
		return err
	}

	var err error
	ok := RobustExecute(ctx, c.Config.DBRetryAttempts, c.Config.DBRetryDelay, func() bool {
		attemptCtx, cancel := context.WithTimeout(ctx, c.Config.DBTimeout)
		defer cancel()

		c.DB, err = db.NewDatabase(attemptCtx, c.Config.DBConnStr)
		if err != nil {
			c.Logger.Warnw("failed connecting to database", "err", err)
		}
		return err == nil
	})
	if !ok {
		if err == nil {
			err = ctx.Err()
		}
		return errors.Wrap(err, "database is unreachable")
	}

	return nil
}

// Close releases whatever was connected.
func (c *Context) Close() {
	if c.DB != nil {
		c.DB.Close()
	}
	_ = c.Logger.Sync()
}

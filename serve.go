package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"organizer/bot"
	"organizer/delivery"
	"organizer/server"
	"organizer/tgbot"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

// connectBackend connects to the database and to the Bot API.
func connectBackend(ctx context.Context) (*tgbot.Sender, error) {
	if err := app.Config.Require(bot.CfgTgToken, bot.CfgDbConnStr); err != nil {
		return nil, err
	}

	if err := app.ConnectDB(ctx); err != nil {
		return nil, err
	}

	b, err := tgbot.NewBot(app.Config.TgToken, app.Config.TgEndpoint, tgbot.NewClient(app.Config.TgTimeout), app.Logger)
	if err != nil {
		return nil, err
	}
	app.Bot = b

	s := tgbot.NewSender(b, app.Logger)
	s.RetryAttempts = app.Config.TgRetryAttempts
	s.RetryDelay = app.Config.TgRetryDelay
	return s, nil
}

func newJob(s *tgbot.Sender) *delivery.Job {
	j := delivery.NewJob(app.DB, s, app.Logger.Named("delivery"))
	j.BatchSize = app.Config.BatchSize
	j.ClaimTimeout = app.Config.ClaimTimeout
	return j
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the webhook, the delivery trigger and the API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			sender, err := connectBackend(ctx)
			if err != nil {
				return err
			}

			if app.Config.CronSecret == "" {
				app.Logger.Warn("cron secret isn't set, delivery and API endpoints are open")
			}

			// the provider redelivers updates answered slowly
			handler := tgbot.NewHandler(app.DB, sender.NoRetry(), app.Logger.Named("webhook"))
			srv := server.New(newJob(sender), handler, app.DB, app.Config.CronSecret, app.Logger)

			if app.Config.CronSchedule != "" {
				if err = srv.StartCron(app.Config.CronSchedule); err != nil {
					return err
				}
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start(app.Config.ServerAddr)
			}()

			select {
			case err = <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err

			case <-ctx.Done():
				app.Logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}
}

func deliverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deliver",
		Short: "Deliver one batch of due reminders and print the summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sender, err := connectBackend(cmd.Context())
			if err != nil {
				return err
			}

			summary, err := newJob(sender).Run(cmd.Context())
			if err != nil {
				return err
			}

			return printJSON(summary)
		},
	}
}

func broadcastCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "broadcast <message>",
		Short: "Send a message to every linked chat",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sender, err := connectBackend(cmd.Context())
			if err != nil {
				return err
			}

			report, err := delivery.Broadcast(cmd.Context(), app.DB, sender, app.Logger.Named("broadcast"), strings.Join(args, " "))
			if err != nil {
				return err
			}

			return printJSON(report)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create missing tables of the shared database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.ConnectDB(cmd.Context()); err != nil {
				return err
			}

			if err := app.DB.Migrate(cmd.Context()); err != nil {
				return err
			}

			app.Logger.Info("database is up to date")
			return nil
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

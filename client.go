package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"organizer/bot"
	"organizer/kv"
	"organizer/ledger"
	"organizer/reminder"
	"organizer/session"
	"organizer/tgbot"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// openSession opens the local state of the configured user. The returned
// function closes the underlying store.
func openSession(ctx context.Context) (*session.Session, func(), error) {
	if err := app.Config.Require(bot.CfgStatePath, bot.CfgClientUser); err != nil {
		return nil, nil, err
	}

	store, err := kv.Open(app.Config.StatePath)
	if err != nil {
		return nil, nil, err
	}

	conv := &ledger.Converter{Base: app.Config.BaseCurrency, Rates: app.Config.Rates}
	s, err := session.Open(ctx, store, app.Config.ClientUser, app.Config.ClientChat, conv)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	return s, func() { _ = store.Close() }, nil
}

func clientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Manage the local state of the signed-in user",
	}

	cmd.AddCommand(clientRunCmd())
	cmd.AddCommand(addReminderCmd())
	cmd.AddCommand(listRemindersCmd())
	cmd.AddCommand(doneReminderCmd())
	cmd.AddCommand(deleteReminderCmd())
	cmd.AddCommand(addTransactionCmd())
	cmd.AddCommand(balanceCmd())
	cmd.AddCommand(signOutCmd())

	return cmd
}

func clientRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Fire due reminders of the signed-in user until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			loc, err := time.LoadLocation(app.Config.ClientTimeZone)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", bot.CfgClientTimeZone, err)
			}

			s, closeStore, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			var notifier tgbot.Notifier
			if _, linked := s.ChatID(); linked {
				if err = app.Config.Require(bot.CfgTgToken); err != nil {
					return err
				}

				b, err := tgbot.NewBot(app.Config.TgToken, app.Config.TgEndpoint, tgbot.NewClient(app.Config.TgTimeout), app.Logger)
				if err != nil {
					return err
				}
				notifier = tgbot.NewSender(b, app.Logger)
			} else {
				app.Logger.Warn("no chat linked, reminders will only be marked as notified")
			}

			sch := reminder.NewScheduler(s, notifier, loc, app.Logger.Named("scheduler"))
			if app.Config.ClientInterval > 0 {
				sch.Interval = app.Config.ClientInterval
			}

			return sch.Run(ctx)
		},
	}
}

func addReminderCmd() *cobra.Command {
	var r reminder.Reminder

	cmd := &cobra.Command{
		Use:   "add-reminder",
		Short: "Add a reminder",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, closeStore, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			added, err := s.AddReminder(cmd.Context(), r)
			if err != nil {
				return err
			}

			fmt.Println(added.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&r.Title, "title", "", "reminder title")
	cmd.Flags().StringVar(&r.Date, "date", "", "date, YYYY-MM-DD")
	cmd.Flags().StringVar(&r.Time, "time", "", "local time, HH:MM")
	cmd.Flags().StringVar(&r.Notes, "notes", "", "free-form notes")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("date")

	return cmd
}

func listRemindersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List reminders",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, closeStore, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tDATE\tTIME\tDONE\tNOTIFIED\tTITLE")
			for _, r := range s.Reminders() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\t%s\n", r.ID, r.Date, r.Time, r.Done, r.Notified, r.Title)
			}
			return w.Flush()
		},
	}
}

func doneReminderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <id>",
		Short: "Flip the done flag of a reminder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeStore, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			return s.ToggleReminderDone(cmd.Context(), args[0])
		},
	}
}

func deleteReminderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-reminder <id>",
		Short: "Delete a reminder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeStore, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			return s.DeleteReminder(cmd.Context(), args[0])
		},
	}
}

func addTransactionCmd() *cobra.Command {
	var (
		income   bool
		amount   string
		currency string
		t        ledger.Transaction
	)

	cmd := &cobra.Command{
		Use:   "add-transaction",
		Short: "Add a ledger transaction",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", amount, err)
			}
			t.Amount = a
			t.Type = ledger.Expense
			if income {
				t.Type = ledger.Income
			}

			s, closeStore, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			added, err := s.AddTransaction(cmd.Context(), t, currency)
			if err != nil {
				return err
			}

			fmt.Printf("%s %s %s %s\n", added.ID, added.Type, added.Amount.StringFixed(2), s.CategoryName(added.CategoryID))
			return nil
		},
	}

	cmd.Flags().BoolVar(&income, "income", false, "record an income instead of an expense")
	cmd.Flags().StringVar(&amount, "amount", "", "positive amount")
	cmd.Flags().StringVar(&currency, "currency", "", "currency of the amount, base currency by default")
	cmd.Flags().StringVar(&t.CategoryID, "category", "", "category id")
	cmd.Flags().StringVar(&t.Description, "description", "", "description")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

func balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Print the ledger balance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, closeStore, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			fmt.Printf("%s %s\n", s.Balance().StringFixed(2), app.Config.BaseCurrency)
			return nil
		},
	}
}

func signOutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sign-out",
		Short: "Wipe the local state of the signed-in user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, closeStore, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			return s.SignOut(cmd.Context())
		},
	}
}

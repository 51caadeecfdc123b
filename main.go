package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"organizer/bot"
	"organizer/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	app     *bot.Context

	rootCmd = &cobra.Command{
		Use:   "organizer",
		Short: "Reminder delivery and ledger bot backend of the personal organizer",
		Long: `organizer delivers reminders over Telegram exactly once, turns chat messages
like "150 coffee" into ledger transactions and keeps the client-side state of a
signed-in user.`,
		PersistentPreRunE:  initApp,
		PersistentPostRunE: closeApp,
		SilenceUsage:       true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./organizer.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-development", false, "human-readable logs")

	_ = viper.BindPFlag(bot.CfgLogLevel, rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag(bot.CfgLogDevelopment, rootCmd.PersistentFlags().Lookup("log-development"))

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(deliverCmd())
	rootCmd.AddCommand(broadcastCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(clientCmd())
}

// organizer entry point
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initApp reads configuration from the file and the environment and sets up
// the logger
func initApp(cmd *cobra.Command, _ []string) error {
	v := viper.GetViper()
	bot.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("organizer")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(bot.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg, err := bot.Load(v)
	if err != nil {
		return err
	}

	l, err := logger.New(cmd.Name(), cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}

	app = bot.NewContext(cfg, l)
	return nil
}

func closeApp(*cobra.Command, []string) error {
	if app != nil {
		app.Close()
	}
	return nil
}

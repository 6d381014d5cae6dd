// Package cli wires the riskmgr command tree.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	ConfigPath string
	DBPath     string
	LogLevel   string
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "riskmgr",
		Short:         "riskmgr — real-time trading risk enforcement",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "Path to config file (optional, defaults apply)")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "SQLite state database (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "Log level: debug|info|warn|error")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return setupLogging(opts.LogLevel)
	}

	cmd.AddCommand(
		newRunCmd(opts),
		newCheckCmd(opts),
		newStatusCmd(opts),
		newUnlockCmd(opts),
	)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("riskmgr (dev)")
		},
	})

	return cmd
}

func setupLogging(level string) error {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return fmt.Errorf("bad log level %q", level)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
	return nil
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

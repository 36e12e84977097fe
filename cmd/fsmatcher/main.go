// Package main provides the fsmatcher command line tool.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Tributary-ai-services/fsmatcher/pkg/log"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

type rootOptions struct {
	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "fsmatcher",
		Short: "Match file scan results against sensitive-file rules",
		Long: `fsmatcher evaluates content-scanner results for individual files against a
configurable rule set and reports the files that count as sensitive.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			h, err := log.CreateHandlerWithStrings(cmd.ErrOrStderr(), opts.logLevel, opts.logFormat)
			if err != nil {
				return err
			}
			slog.SetDefault(slog.New(h))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level ("+strings.Join(log.AllLevels, ", ")+")")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "log format ("+strings.Join(log.AllFormats, ", ")+")")

	cmd.AddCommand(
		newCheckCmd(),
		newBatchCmd(),
		newWatchCmd(),
		newValidateCmd(),
		newVersionCmd(),
	)

	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

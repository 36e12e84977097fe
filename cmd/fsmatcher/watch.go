package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/spf13/cobra"

	"github.com/Tributary-ai-services/fsmatcher/pkg/config"
	"github.com/Tributary-ai-services/fsmatcher/pkg/pipeline"
	"github.com/Tributary-ai-services/fsmatcher/pkg/spool"
)

type watchOptions struct {
	configFile string
	dir        string
}

func newWatchCmd() *cobra.Command {
	opts := &watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch --config FILE",
		Short: "Process envelopes dropped into the spool directory",
		Long: `Watch the spool directory for scanner result envelopes and run each one
through the configured pipeline until interrupted (SIGINT or SIGTERM).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configFile, "config", "c", "configs/fsmatcher.yaml", "service configuration file")
	cmd.Flags().StringVar(&opts.dir, "dir", "", "spool directory (overrides spool.dir)")

	return cmd
}

func runWatch(cmd *cobra.Command, opts *watchOptions) error {
	cfg, err := config.LoadConfig(opts.configFile)
	if err != nil {
		return err
	}
	if opts.dir != "" {
		cfg.Spool.Dir = opts.dir
	}

	a, err := newApp(cfg, cmd.ErrOrStderr(), cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.Close()

	w, err := spool.NewWatcher(a.proc, cfg.SpoolConfig(),
		spool.WithLogger(a.logger),
		spool.WithResultHandler(printResult(cmd.OutOrStdout(), a.logger)),
	)
	if err != nil {
		return err
	}

	if err := w.Run(cmd.Context()); err != nil {
		return fmt.Errorf("watch %s: %w", cfg.Spool.Dir, err)
	}

	a.logger.Info("fsmatcher stopped")
	return nil
}

// printResult returns a handler writing each matched record as a JSON line.
// Handlers run on watcher workers, so writes are serialized.
func printResult(out io.Writer, logger *slog.Logger) spool.ResultHandler {
	var mu sync.Mutex
	enc := json.NewEncoder(out)

	return func(file string, res *pipeline.Result, err error) {
		if err != nil {
			logger.Warn("envelope failed", slog.String("file", file), slog.Any("error", err))
			return
		}
		if res.Record == nil {
			return
		}

		mu.Lock()
		defer mu.Unlock()
		if err := enc.Encode(res); err != nil {
			logger.Error("failed to write result", slog.String("file", file), slog.Any("error", err))
		}
	}
}

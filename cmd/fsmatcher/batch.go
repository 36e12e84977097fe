package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Tributary-ai-services/fsmatcher/pkg/config"
	"github.com/Tributary-ai-services/fsmatcher/pkg/pipeline"
	"github.com/Tributary-ai-services/fsmatcher/pkg/spool"
)

var errBatchFailed = errors.New("one or more envelopes failed")

type batchOptions struct {
	configFile string
	workers    int
}

func newBatchCmd() *cobra.Command {
	opts := &batchOptions{}

	cmd := &cobra.Command{
		Use:   "batch --config FILE ENVELOPE...",
		Short: "Evaluate scanner result envelopes concurrently",
		Long: `Evaluate a set of envelope files ({"path": ..., "result": ...}) with the
configured pipeline. One JSON line is printed per matching file.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.configFile, "config", "c", "configs/fsmatcher.yaml", "service configuration file")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 0, "concurrent evaluations (default: spool.workers)")

	return cmd
}

func runBatch(cmd *cobra.Command, opts *batchOptions, files []string) error {
	cfg, err := config.LoadConfig(opts.configFile)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, cmd.ErrOrStderr(), cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.Close()

	failed := 0
	reqs := make([]pipeline.Request, 0, len(files))
	for _, f := range files {
		req, err := spool.ReadEnvelope(f)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", f, err)
			failed++
			continue
		}
		reqs = append(reqs, req)
	}

	workers := opts.workers
	if workers <= 0 {
		workers = cfg.Spool.Workers
	}

	start := time.Now()
	results, err := a.proc.Batch(cmd.Context(), reqs, workers)
	if err != nil {
		return err
	}

	matched, err := writeResults(cmd.OutOrStdout(), cmd.ErrOrStderr(), results)
	if err != nil {
		return err
	}
	for _, res := range results {
		if res != nil && res.Err != nil {
			failed++
		}
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "%s envelopes, %d matched, %d failed in %s\n",
		humanize.Comma(int64(len(files))), matched, failed, time.Since(start).Round(time.Millisecond))

	if failed > 0 {
		return errBatchFailed
	}
	return nil
}

// writeResults prints one JSON line per matched record and reports per-file
// failures to errOut. It returns the number of matches.
func writeResults(out, errOut io.Writer, results []*pipeline.Result) (int, error) {
	enc := json.NewEncoder(out)
	matched := 0

	for _, res := range results {
		switch {
		case res == nil:
		case res.Err != nil:
			fmt.Fprintf(errOut, "%s: %v\n", res.Path, res.Err)
		case res.Record != nil:
			matched++
			if err := enc.Encode(res); err != nil {
				return matched, fmt.Errorf("encode result: %w", err)
			}
		}
	}

	return matched, nil
}

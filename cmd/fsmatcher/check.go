package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

type checkOptions struct {
	rulesFile   string
	formatsFile string
	resultFile  string
	strict      bool
}

func newCheckCmd() *cobra.Command {
	opts := &checkOptions{}

	cmd := &cobra.Command{
		Use:   "check --rules FILE --formats FILE --result FILE PATH",
		Short: "Evaluate one scanner result for the file at PATH",
		Long: `Evaluate one scanner result against the rule set. The sensitive-file record is
printed as JSON when at least one rule matches; nothing is printed otherwise.
Use "--result -" to read the scanner result from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.rulesFile, "rules", "", "rule set JSON file")
	cmd.Flags().StringVar(&opts.formatsFile, "formats", "", "format map JSON file")
	cmd.Flags().StringVar(&opts.resultFile, "result", "", "scanner result JSON file, or - for stdin")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "validate rule documents against their schemas")

	for _, name := range []string{"rules", "formats", "result"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}

func runCheck(cmd *cobra.Command, opts *checkOptions, path string) error {
	engine, err := loadEngine(opts.rulesFile, opts.formatsFile, opts.strict, slog.Default())
	if err != nil {
		return err
	}

	raw, err := readResult(cmd.InOrStdin(), opts.resultFile)
	if err != nil {
		return err
	}

	rec, err := engine.Check(raw, path)
	if err != nil {
		return err
	}
	if rec == nil {
		slog.Info("no rule matched", slog.String("path", path))
		return nil
	}

	out, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d rule(s) matched, max level %d, %s\n",
		rec.File.Name, len(rec.Securities), rec.MaxLevel(), humanize.Bytes(rec.File.Size))

	return nil
}

func readResult(stdin io.Reader, file string) ([]byte, error) {
	if file == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read result from stdin: %w", err)
		}
		return data, nil
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read result: %w", err)
	}
	return data, nil
}

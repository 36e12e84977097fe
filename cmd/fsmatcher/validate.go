package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Tributary-ai-services/fsmatcher/pkg/schema"
)

var errInvalidDocument = errors.New("invalid document")

type validateOptions struct {
	rulesFile   string
	formatsFile string
	printSchema string
	color       bool
}

func newValidateCmd() *cobra.Command {
	opts := &validateOptions{}

	cmd := &cobra.Command{
		Use:   "validate [--rules FILE] [--formats FILE]",
		Short: "Validate rule set and format map documents",
		Long: `Validate the rule set and format map documents against their JSON schemas.
The offending location is highlighted in the source for every failure.
With --print-schema the schema itself is printed instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.rulesFile, "rules", "", "rule set JSON file")
	cmd.Flags().StringVar(&opts.formatsFile, "formats", "", "format map JSON file")
	cmd.Flags().StringVar(&opts.printSchema, "print-schema", "", `print a schema ("rules" or "formats") and exit`)
	cmd.Flags().BoolVar(&opts.color, "color", false, "colorize annotated source")

	return cmd
}

func runValidate(cmd *cobra.Command, opts *validateOptions) error {
	switch opts.printSchema {
	case "":
	case "rules":
		return printSchema(cmd.OutOrStdout(), schema.RuleSetSchema)
	case "formats":
		return printSchema(cmd.OutOrStdout(), schema.FormatMapSchema)
	default:
		return fmt.Errorf("unknown schema %q, want rules or formats", opts.printSchema)
	}

	if opts.rulesFile == "" && opts.formatsFile == "" {
		return errors.New("at least one of --rules or --formats is required")
	}

	docs, err := schema.NewDocuments()
	if err != nil {
		return err
	}

	failed := false
	check := func(file string, validate func([]byte) error) error {
		if file == "" {
			return nil
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		if err := validate(data); err != nil {
			failed = true
			reportInvalid(cmd.OutOrStdout(), file, data, err, opts.color)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", file)
		return nil
	}

	if err := check(opts.rulesFile, docs.ValidateRuleSet); err != nil {
		return err
	}
	if err := check(opts.formatsFile, docs.ValidateFormatMap); err != nil {
		return err
	}

	if failed {
		return errInvalidDocument
	}
	return nil
}

func reportInvalid(w io.Writer, file string, data []byte, err error, color bool) {
	fmt.Fprintf(w, "%s: %v\n", file, err)

	var verr *schema.ValidationError
	if !errors.As(err, &verr) || verr.Path == nil {
		return
	}
	annotated, aerr := verr.Path.AnnotateSource(data, color)
	if aerr != nil {
		return
	}
	fmt.Fprintf(w, "%s\n", annotated)
}

func printSchema(w io.Writer, gen func() ([]byte, error)) error {
	data, err := gen()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Tributary-ai-services/fsmatcher/pkg/matcher"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fsmatcher %s (built %s)\n", Version, BuildTime)
			fmt.Fprintf(cmd.OutOrStdout(), "matcher lib %s (build: %s)\n", matcher.BuildDate, matcher.Version)
		},
	}
}

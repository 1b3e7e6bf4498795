package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/drumbench/drumbench/internal/version"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "drumbench",
		Short:         "A/B testing harness for generated drum one-shots",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.Version = version.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	rootCmd.PersistentFlags().String("config", "", "Settings file (default $DRUMBENCH_HOME/drumbench.yaml)")
	rootCmd.PersistentFlags().Bool("json", false, "Output in JSON format")

	rootCmd.AddCommand(
		newServeCommand(),
		newWorkerCommand(),
		newSamplesCommand(),
		newVersionCommand(),
	)
	return rootCmd
}

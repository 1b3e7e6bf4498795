package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drumbench/drumbench/internal/constants"
	"github.com/drumbench/drumbench/internal/version"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show drumbench and worker versions",
		Args:  cobra.NoArgs,
		RunE:  runVersion,
	}
}

type versionOutput struct {
	Version       string `json:"version"`
	WorkerVersion string `json:"worker_version,omitempty"`
	Warning       string `json:"warning,omitempty"`
}

func runVersion(cmd *cobra.Command, _ []string) error {
	out := versionOutput{Version: version.String()}
	human := "drumbench " + version.FormatVersion(out.Version)

	if a, err := newCLIApp(cmd); err == nil {
		ctx, cancel := context.WithTimeout(cmd.Context(), constants.WorkerHealthTimeout)
		defer cancel()
		if health, err := a.worker.Health(ctx); err == nil {
			out.WorkerVersion = health.Version
			out.Warning = version.CheckWorkerMismatch(health.Version)
			human += fmt.Sprintf("\ndrumbench-worker %s", version.FormatVersion(health.Version))
			if out.Warning != "" {
				human += "\n" + out.Warning
			}
		}
	}
	return newOutputFormatter(cmd).Result(out, human)
}

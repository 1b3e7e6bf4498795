package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drumbench/drumbench/internal/constants"
	"github.com/drumbench/drumbench/internal/supervisor"
	"github.com/drumbench/drumbench/internal/version"
)

func newWorkerCommand() *cobra.Command {
	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Manage the local synthesis worker",
	}

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Spawn the worker unless its port is already bound",
		Args:  cobra.NoArgs,
		RunE:  runWorkerStart,
	}
	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Terminate the worker recorded in the pid file",
		Args:  cobra.NoArgs,
		RunE:  runWorkerStop,
	}
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Report whether the worker is reachable",
		Args:  cobra.NoArgs,
		RunE:  runWorkerStatus,
	}
	commandCmd := &cobra.Command{
		Use:   "command",
		Short: "Print the command used to spawn the worker",
		Args:  cobra.NoArgs,
		RunE:  runWorkerCommand,
	}

	workerCmd.AddCommand(startCmd, stopCmd, statusCmd, commandCmd)
	return workerCmd
}

func runWorkerStart(cmd *cobra.Command, _ []string) error {
	a, err := newCLIApp(cmd)
	if err != nil {
		return err
	}
	res, err := a.supervisor.EnsureStarted(cmd.Context())
	if err != nil {
		return err
	}
	human := fmt.Sprintf("Worker %s", res.Status)
	if res.PID > 0 {
		human = fmt.Sprintf("Worker %s (PID %d)", res.Status, res.PID)
	}
	return newOutputFormatter(cmd).Result(res, human)
}

func runWorkerStop(cmd *cobra.Command, _ []string) error {
	a, err := newCLIApp(cmd)
	if err != nil {
		return err
	}
	pid, err := a.supervisor.StopRecorded()
	if err != nil {
		return fmt.Errorf("failed to stop worker: %w", err)
	}
	out := newOutputFormatter(cmd)
	if pid == 0 {
		return out.Result(map[string]any{"stopped": false}, "No recorded worker is running")
	}
	return out.Result(map[string]any{"stopped": true, "pid": pid}, fmt.Sprintf("Sent termination to worker (PID %d)", pid))
}

type workerStatus struct {
	Addr      string `json:"addr"`
	URL       string `json:"url"`
	PortBound bool   `json:"port_bound"`
	Healthy   bool   `json:"healthy"`
	PID       int    `json:"pid,omitempty"`
	Version   string `json:"version,omitempty"`
	Warning   string `json:"warning,omitempty"`
	Error     string `json:"error,omitempty"`
}

func runWorkerStatus(cmd *cobra.Command, _ []string) error {
	a, err := newCLIApp(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), constants.WorkerHealthTimeout)
	defer cancel()

	status := workerStatus{
		Addr:      a.supervisor.Addr(),
		URL:       a.worker.BaseURL(),
		PortBound: a.supervisor.Running(ctx),
		PID:       a.supervisor.RecordedPID(),
	}
	health, err := a.worker.Health(ctx)
	if err != nil {
		status.Error = err.Error()
	} else {
		status.Healthy = true
		status.Version = health.Version
		status.Warning = version.CheckWorkerMismatch(health.Version)
	}

	human := fmt.Sprintf("Worker at %s: unreachable (%s)", status.URL, status.Error)
	if status.Healthy {
		human = fmt.Sprintf("Worker at %s: healthy (version %s)", status.URL, version.FormatVersion(status.Version))
		if status.Warning != "" {
			human += "\n" + status.Warning
		}
	}
	return newOutputFormatter(cmd).Result(status, human)
}

func runWorkerCommand(cmd *cobra.Command, _ []string) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	command, err := supervisor.New(supervisorOptions(settings, nil)).Command()
	if err != nil {
		return err
	}
	return newOutputFormatter(cmd).Result(command, command.String())
}

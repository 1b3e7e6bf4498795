package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drumbench/drumbench/internal/constants"
	"github.com/drumbench/drumbench/internal/logging"
	"github.com/drumbench/drumbench/internal/server"
	"github.com/drumbench/drumbench/internal/store"
	"github.com/drumbench/drumbench/internal/version"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the A/B testing API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().String("listen", "", "Listen address (overrides settings)")
	cmd.Flags().Bool("start-worker", false, "Spawn the synthesis worker on startup when it is not running")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		settings.Listen = listen
	}

	logger, err := logging.New(logging.Options{Level: settings.LogLevel, Dir: settings.Paths.Logs, Name: "api"})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := newApp(settings, logger)
	if err != nil {
		return err
	}

	results, err := store.Open(store.Options{DBPath: settings.DBPath})
	if err != nil {
		return fmt.Errorf("failed to open results store: %w", err)
	}
	defer results.Close()

	api, err := server.New(server.Options{
		Registry:     a.registry,
		Selector:     a.selector,
		Audio:        a.catalog,
		Results:      results,
		Worker:       a.worker,
		Supervisor:   a.supervisor,
		AudioDir:     settings.AudioDir,
		ONNXDir:      settings.Worker.ResolvedONNXDir(),
		ModelVersion: settings.ModelVersion,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if start, _ := cmd.Flags().GetBool("start-worker"); start {
		res, err := a.supervisor.EnsureStarted(ctx)
		if err != nil {
			logger.Warn("failed to start model worker", zap.Error(err))
		} else {
			logger.Info("model worker", zap.String("status", string(res.Status)), zap.Int("pid", res.PID))
		}
	}

	logger.Info("drumbench API starting",
		zap.String("version", version.String()),
		zap.Int("pid", os.Getpid()),
		zap.String("db", results.Path()),
		zap.String("worker", a.worker.BaseURL()),
	)
	serveErr := api.ListenAndServe(ctx, settings.Listen)

	stopCtx, cancel := context.WithTimeout(context.Background(), constants.WorkerGracefulStopWindow)
	defer cancel()
	if err := a.supervisor.Stop(stopCtx); err != nil {
		logger.Warn("failed to stop model worker", zap.Error(err))
	}
	logger.Info("drumbench API stopped")
	return serveErr
}

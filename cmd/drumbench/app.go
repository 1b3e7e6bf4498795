package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drumbench/drumbench/internal/acquisition"
	"github.com/drumbench/drumbench/internal/catalog"
	"github.com/drumbench/drumbench/internal/config"
	"github.com/drumbench/drumbench/internal/logging"
	"github.com/drumbench/drumbench/internal/supervisor"
	"github.com/drumbench/drumbench/internal/worker"
)

// app holds the components shared by the API server and the CLI commands.
type app struct {
	settings   *config.Settings
	logger     *zap.Logger
	registry   *catalog.Registry
	catalog    *catalog.Client
	selector   *acquisition.Selector
	worker     *worker.Client
	supervisor *supervisor.Supervisor
}

func loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	path, _ := cmd.Flags().GetString("config")
	settings, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if _, err := config.EnsureDirs(settings.Paths.Home); err != nil {
		return nil, fmt.Errorf("failed to prepare home directory: %w", err)
	}
	return settings, nil
}

// newCLIApp loads settings and wires the app with a console logger.
func newCLIApp(cmd *cobra.Command) (*app, error) {
	settings, err := loadSettings(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Options{Level: settings.LogLevel, Console: true})
	if err != nil {
		return nil, err
	}
	return newApp(settings, logger)
}

func newApp(settings *config.Settings, logger *zap.Logger) (*app, error) {
	reg, err := settings.Registry()
	if err != nil {
		return nil, err
	}
	catalogClient := catalog.NewClient(catalog.Options{
		Timeout:           settings.Catalog.Timeout,
		AudioTimeout:      settings.Catalog.AudioTimeout,
		RequestsPerSecond: settings.Catalog.RequestsPerSecond,
		Burst:             settings.Catalog.Burst,
		InsecureTLS:       settings.Catalog.InsecureTLS,
		Logger:            logger,
	})
	agg := acquisition.NewAggregator(catalogClient, acquisition.AggregatorOptions{
		PageSize: settings.Catalog.PageSize,
		Logger:   logger,
	})
	selector, err := acquisition.NewSelector(agg, reg, acquisition.SelectorOptions{
		Secondary: settings.Catalog.Secondary,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		settings: settings,
		logger:   logger,
		registry: reg,
		catalog:  catalogClient,
		selector: selector,
		worker: worker.NewClient(worker.ClientOptions{
			BaseURL: settings.Worker.BaseURL(),
			Timeout: settings.Worker.Timeout,
			Logger:  logger,
		}),
		supervisor: supervisor.New(supervisorOptions(settings, logger)),
	}, nil
}

func supervisorOptions(settings *config.Settings, logger *zap.Logger) supervisor.Options {
	args := append([]string(nil), settings.Worker.Args...)
	if settings.Worker.ORTLibrary != "" {
		args = append(args, "--ort-lib", settings.Worker.ORTLibrary)
	}
	return supervisor.Options{
		Host:         settings.Worker.Host,
		Port:         settings.Worker.Port,
		WorkerBinary: settings.Worker.Binary,
		WorkerArgs:   args,
		ModelRoot:    settings.Worker.ModelRoot,
		ONNXDir:      settings.Worker.ResolvedONNXDir(),
		WorkDir:      settings.Paths.Home,
		LockPath:     settings.Paths.WorkerLock,
		PIDPath:      settings.Paths.WorkerPID,
		Logger:       logger,
	}
}

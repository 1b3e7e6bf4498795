// Command drumbench-worker serves the conditioned drum synthesizer over the
// worker HTTP protocol. It is normally spawned by the drumbench supervisor.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drumbench/drumbench/internal/constants"
	"github.com/drumbench/drumbench/internal/labels"
	"github.com/drumbench/drumbench/internal/logging"
	"github.com/drumbench/drumbench/internal/supervisor"
	"github.com/drumbench/drumbench/internal/synth"
	"github.com/drumbench/drumbench/internal/version"
	"github.com/drumbench/drumbench/internal/worker"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type workerFlags struct {
	modelRoot string
	onnxDir   string
	host      string
	port      int
	ortLib    string
	logLevel  string
	logDir    string
}

func newRootCommand() *cobra.Command {
	var flags workerFlags
	cmd := &cobra.Command{
		Use:           supervisor.WorkerBinaryName,
		Short:         "Serve the drum synthesis model",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), flags)
		},
	}
	cmd.Version = version.String()
	cmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	f := cmd.Flags()
	f.StringVar(&flags.modelRoot, "model-root", "", "Model root holding onnx_exports/")
	f.StringVar(&flags.onnxDir, "onnx-dir", "", "Directory with exported graphs (default <model-root>/onnx_exports/acoustic)")
	f.StringVar(&flags.host, "host", constants.DefaultWorkerHost, "Bind host")
	f.IntVar(&flags.port, "port", constants.DefaultWorkerPort, "Bind port")
	f.StringVar(&flags.ortLib, "ort-lib", os.Getenv("ONNXRUNTIME_LIB"), "Path to the onnxruntime shared library")
	f.StringVar(&flags.logLevel, "log-level", "info", "Log level")
	f.StringVar(&flags.logDir, "log-dir", "", "Also write logs to <log-dir>/worker.log")
	return cmd
}

func (f workerFlags) resolvedONNXDir() (string, error) {
	if f.onnxDir != "" {
		return f.onnxDir, nil
	}
	if f.modelRoot == "" {
		return "", fmt.Errorf("either --onnx-dir or --model-root is required")
	}
	return supervisor.DefaultONNXDir(f.modelRoot), nil
}

func run(ctx context.Context, flags workerFlags) error {
	logger, err := logging.New(logging.Options{Level: flags.logLevel, Dir: flags.logDir, Name: "worker"})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	dir, err := flags.resolvedONNXDir()
	if err != nil {
		return err
	}
	schema, err := labels.Load(filepath.Join(dir, synth.LabelDictionariesFile))
	if err != nil {
		return err
	}

	if err := synth.InitializeRuntime(flags.ortLib); err != nil {
		return err
	}
	defer func() {
		if err := synth.ShutdownRuntime(); err != nil {
			logger.Warn("failed to shut down onnxruntime", zap.Error(err))
		}
	}()

	model, err := synth.OpenONNX(dir, schema)
	if err != nil {
		return err
	}
	defer model.Close()

	engine := synth.NewEngine(model, logger)
	srv := worker.NewServer(engine, schema, logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := net.JoinHostPort(flags.host, strconv.Itoa(flags.port))
	logger.Info("drumbench worker starting",
		zap.String("version", version.String()),
		zap.Int("pid", os.Getpid()),
		zap.String("onnx_dir", dir),
		zap.String("addr", addr),
	)
	return worker.Serve(ctx, addr, srv.Handler(), logger)
}

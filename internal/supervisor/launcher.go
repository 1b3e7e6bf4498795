package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/drumbench/drumbench/internal/constants"
	"github.com/drumbench/drumbench/internal/procutil"
)

var (
	// ErrWorkerBinaryMissing indicates the worker binary does not exist.
	ErrWorkerBinaryMissing = errors.New("supervisor: worker binary not found")
	// ErrWorkerKilled indicates the worker was force-killed after the graceful window.
	ErrWorkerKilled = errors.New("supervisor: worker killed after graceful shutdown timeout")
)

// Command is a resolved worker launch.
type Command struct {
	Binary string
	Args   []string
	Env    []string
	Dir    string
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Binary}, c.Args...), " ")
}

// ProcessHandle is a spawned worker process.
type ProcessHandle interface {
	PID() int
	Exited() bool
	Stop(ctx context.Context) error
}

// Launcher spawns worker processes.
type Launcher interface {
	Launch(ctx context.Context, cmd Command) (ProcessHandle, error)
}

// ExecLauncher starts the worker as a detached child with its output
// discarded.
type ExecLauncher struct {
	GracefulTimeout time.Duration
	Logger          *zap.Logger
}

func (l ExecLauncher) Launch(_ context.Context, c Command) (ProcessHandle, error) {
	if strings.TrimSpace(c.Binary) == "" {
		return nil, ErrWorkerBinaryUnset
	}
	if _, err := os.Stat(c.Binary); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrWorkerBinaryMissing, c.Binary)
		}
		return nil, fmt.Errorf("supervisor: stat worker binary: %w", err)
	}

	// Not exec.CommandContext: the worker outlives the request that spawned it.
	cmd := exec.Command(c.Binary, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	cmd.SysProcAttr = procutil.DetachedAttrs()
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("supervisor: start worker: %w", err)
	}

	timeout := l.GracefulTimeout
	if timeout <= 0 {
		timeout = constants.WorkerGracefulStopWindow
	}
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	handle := &execHandle{
		cmd:     cmd,
		exited:  make(chan struct{}),
		timeout: timeout,
		logger:  logger,
	}
	go handle.wait()
	return handle, nil
}

type execHandle struct {
	cmd     *exec.Cmd
	exited  chan struct{}
	waitErr error
	timeout time.Duration
	logger  *zap.Logger
}

func (h *execHandle) wait() {
	h.waitErr = h.cmd.Wait()
	close(h.exited)
}

func (h *execHandle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *execHandle) Exited() bool {
	select {
	case <-h.exited:
		return true
	default:
		return false
	}
}

// Stop terminates the worker gracefully, force-killing it once the graceful
// window or ctx runs out.
func (h *execHandle) Stop(ctx context.Context) error {
	if h.cmd.Process == nil {
		return nil
	}
	pid := h.cmd.Process.Pid

	if h.Exited() {
		return normalizeExitError(h.waitErr, false)
	}

	if err := procutil.GracefulTerminate(h.cmd.Process); err != nil && errors.Is(err, os.ErrProcessDone) {
		<-h.exited
		return normalizeExitError(h.waitErr, false)
	}

	timeout := h.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.exited:
		return normalizeExitError(h.waitErr, false)
	case <-timer.C:
		h.logger.Warn("worker did not exit after graceful termination, force-killing",
			zap.Int("pid", pid), zap.Duration("timeout", timeout))
	case <-ctx.Done():
		h.logger.Warn("context cancelled while stopping worker, force-killing", zap.Int("pid", pid))
	}

	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("supervisor: kill worker: %w", err)
	}
	<-h.exited
	return normalizeExitError(h.waitErr, true)
}

// normalizeExitError treats any exit during shutdown as success unless the
// worker had to be force-killed.
func normalizeExitError(err error, forceKilled bool) error {
	if forceKilled {
		return ErrWorkerKilled
	}
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

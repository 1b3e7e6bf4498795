// Package supervisor lazily starts the synthesis worker when its port is not
// bound and best-effort stops the child it spawned.
package supervisor

import (
	"context"
	"errors"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/drumbench/drumbench/internal/constants"
	"github.com/drumbench/drumbench/internal/procutil"
)

// WorkerBinaryName is the worker executable looked up next to the running
// binary and on PATH.
const WorkerBinaryName = "drumbench-worker"

// ErrWorkerBinaryUnset indicates no worker binary could be resolved.
var ErrWorkerBinaryUnset = errors.New("supervisor: worker binary not configured and not found")

// Status is the outcome of EnsureStarted.
type Status string

const (
	StatusAlreadyRunning Status = "already_running"
	StatusStarted        Status = "started"
)

// Result reports what EnsureStarted did.
type Result struct {
	Status Status `json:"status"`
	PID    int    `json:"pid,omitempty"`
}

// ProbeFunc reports whether something accepts TCP connections on addr.
type ProbeFunc func(ctx context.Context, addr string, timeout time.Duration) bool

// DialProbe is the default ProbeFunc.
func DialProbe(ctx context.Context, addr string, timeout time.Duration) bool {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Options configures a Supervisor.
type Options struct {
	Host string
	Port int

	// WorkerBinary is the worker executable. Empty resolves WorkerBinaryName
	// next to the running executable, then on PATH.
	WorkerBinary string
	// WorkerArgs precede the generated flags, e.g. a script for an interpreter.
	WorkerArgs []string
	ModelRoot  string
	ONNXDir    string
	WorkDir    string
	Env        []string

	// LockPath and PIDPath enable the cross-process spawn lock.
	LockPath string
	PIDPath  string

	Launcher     Launcher
	Probe        ProbeFunc
	ProbeTimeout time.Duration
	Logger       *zap.Logger
}

// Supervisor owns at most one spawned worker per process.
type Supervisor struct {
	opts   Options
	lock   spawnLock
	logger *zap.Logger

	mu    sync.Mutex
	child ProcessHandle
}

// New constructs a Supervisor. It never spawns anything by itself.
func New(opts Options) *Supervisor {
	if opts.Host == "" {
		opts.Host = constants.DefaultWorkerHost
	}
	if opts.Port <= 0 {
		opts.Port = constants.DefaultWorkerPort
	}
	if opts.ONNXDir == "" && opts.ModelRoot != "" {
		opts.ONNXDir = DefaultONNXDir(opts.ModelRoot)
	}
	if opts.Probe == nil {
		opts.Probe = DialProbe
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = constants.WorkerPortProbeTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	logger := opts.Logger.Named("supervisor")
	if opts.Launcher == nil {
		opts.Launcher = ExecLauncher{Logger: logger}
	}
	return &Supervisor{
		opts:   opts,
		lock:   spawnLock{lockPath: opts.LockPath, pidPath: opts.PIDPath},
		logger: logger,
	}
}

// DefaultONNXDir is where exported graphs live under a model root.
func DefaultONNXDir(modelRoot string) string {
	return filepath.Join(modelRoot, "onnx_exports", "acoustic")
}

// Addr is the worker's host:port.
func (s *Supervisor) Addr() string {
	return net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
}

// Running reports whether the worker port accepts connections.
func (s *Supervisor) Running(ctx context.Context) bool {
	return s.opts.Probe(ctx, s.Addr(), s.opts.ProbeTimeout)
}

// Command resolves the worker launch command.
func (s *Supervisor) Command() (Command, error) {
	binary, err := s.resolveBinary()
	if err != nil {
		return Command{}, err
	}
	args := append([]string(nil), s.opts.WorkerArgs...)
	if s.opts.ModelRoot != "" {
		args = append(args, "--model-root", s.opts.ModelRoot)
	}
	if s.opts.ONNXDir != "" {
		args = append(args, "--onnx-dir", s.opts.ONNXDir)
	}
	args = append(args, "--host", s.opts.Host, "--port", strconv.Itoa(s.opts.Port))
	return Command{Binary: binary, Args: args, Env: s.opts.Env, Dir: s.opts.WorkDir}, nil
}

func (s *Supervisor) resolveBinary() (string, error) {
	if s.opts.WorkerBinary != "" {
		return s.opts.WorkerBinary, nil
	}
	name := WorkerBinaryName
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	if self, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(self), name)
		if info, err := os.Stat(sibling); err == nil && !info.IsDir() {
			return sibling, nil
		}
	}
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}
	return "", ErrWorkerBinaryUnset
}

// EnsureStarted returns immediately when the worker port is bound. Otherwise
// it spawns the worker without waiting for it to become ready. A worker this
// supervisor already spawned that is still starting up is reported as
// started rather than spawned again.
func (s *Supervisor) EnsureStarted(ctx context.Context) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Running(ctx) {
		return Result{Status: StatusAlreadyRunning}, nil
	}
	if s.child != nil {
		if !s.child.Exited() {
			return Result{Status: StatusStarted, PID: s.child.PID()}, nil
		}
		s.lock.clearPID(s.child.PID())
		s.child = nil
	}

	release, err := s.lock.acquire()
	if err != nil {
		return Result{}, err
	}
	defer release()

	// Another process may have spawned the worker while we waited.
	if s.Running(ctx) {
		return Result{Status: StatusAlreadyRunning}, nil
	}
	if pid := s.lock.readPID(); procutil.IsProcessAlive(pid) {
		return Result{Status: StatusAlreadyRunning, PID: pid}, nil
	}

	cmd, err := s.Command()
	if err != nil {
		return Result{}, err
	}
	handle, err := s.opts.Launcher.Launch(ctx, cmd)
	if err != nil {
		return Result{}, err
	}
	s.child = handle
	if err := s.lock.writePID(handle.PID()); err != nil {
		s.logger.Warn("failed to record worker pid", zap.Error(err))
	}
	s.logger.Info("worker spawned", zap.Int("pid", handle.PID()), zap.String("addr", s.Addr()))
	return Result{Status: StatusStarted, PID: handle.PID()}, nil
}

// Stop terminates the worker this supervisor spawned, if any, and forgets it.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	child := s.child
	s.child = nil
	s.mu.Unlock()

	if child == nil {
		return nil
	}
	pid := child.PID()
	err := child.Stop(ctx)
	s.lock.clearPID(pid)
	s.logger.Info("worker stopped", zap.Int("pid", pid), zap.Error(err))
	return err
}

// RecordedPID returns the pid of the last worker spawned by any supervisor
// sharing the pid file, or 0 when it is not alive.
func (s *Supervisor) RecordedPID() int {
	pid := s.lock.readPID()
	if !procutil.IsProcessAlive(pid) {
		return 0
	}
	return pid
}

// StopRecorded terminates the worker recorded in the pid file. It serves
// callers that did not spawn the worker themselves, such as the CLI.
func (s *Supervisor) StopRecorded() (int, error) {
	pid := s.RecordedPID()
	if pid == 0 {
		return 0, nil
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, err
	}
	if err := procutil.GracefulTerminate(proc); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return pid, err
	}
	s.lock.clearPID(pid)
	return pid, nil
}

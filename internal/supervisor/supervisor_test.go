package supervisor

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// TestHelperProcess is re-executed as a fake worker. It binds the port
// passed after --port and serves until terminated.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	port := ""
	for i, arg := range os.Args {
		if arg == "--port" && i+1 < len(os.Args) {
			port = os.Args[i+1]
		}
	}
	if port != "" {
		ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", port))
		if err != nil {
			os.Exit(3)
		}
		defer ln.Close()
	}
	time.Sleep(30 * time.Second)
	os.Exit(0)
}

func helperCommand() Command {
	return Command{
		Binary: os.Args[0],
		Args:   []string{"-test.run=TestHelperProcess", "--"},
		Env:    []string{"GO_WANT_HELPER_PROCESS=1"},
	}
}

type fakeHandle struct {
	pid     int
	exited  atomic.Bool
	stopped atomic.Int32
}

func (h *fakeHandle) PID() int     { return h.pid }
func (h *fakeHandle) Exited() bool { return h.exited.Load() }
func (h *fakeHandle) Stop(context.Context) error {
	h.stopped.Add(1)
	h.exited.Store(true)
	return nil
}

type fakeLauncher struct {
	mu       sync.Mutex
	commands []Command
	handles  []*fakeHandle
	err      error
}

func (l *fakeLauncher) Launch(_ context.Context, cmd Command) (ProcessHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.commands = append(l.commands, cmd)
	h := &fakeHandle{pid: 40000 + len(l.handles)}
	l.handles = append(l.handles, h)
	return h, nil
}

func (l *fakeLauncher) launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.commands)
}

func staticProbe(up *atomic.Bool) ProbeFunc {
	return func(context.Context, string, time.Duration) bool { return up.Load() }
}

func TestEnsureStartedAlreadyRunning(t *testing.T) {
	var up atomic.Bool
	up.Store(true)
	launcher := &fakeLauncher{}
	sup := New(Options{WorkerBinary: "/opt/worker", Launcher: launcher, Probe: staticProbe(&up)})

	for i := 0; i < 2; i++ {
		res, err := sup.EnsureStarted(context.Background())
		require.NoError(t, err)
		assert.Equal(t, Result{Status: StatusAlreadyRunning}, res)
	}
	assert.Zero(t, launcher.launches())
}

func TestEnsureStartedSpawnsOnce(t *testing.T) {
	var up atomic.Bool
	launcher := &fakeLauncher{}
	sup := New(Options{
		WorkerBinary: "/opt/worker",
		ModelRoot:    "/models/v18",
		Launcher:     launcher,
		Probe:        staticProbe(&up),
	})

	res, err := sup.EnsureStarted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Status: StatusStarted, PID: 40000}, res)

	require.Equal(t, 1, launcher.launches())
	assert.Equal(t, "/opt/worker", launcher.commands[0].Binary)
	assert.Equal(t, []string{
		"--model-root", "/models/v18",
		"--onnx-dir", filepath.Join("/models/v18", "onnx_exports", "acoustic"),
		"--host", "127.0.0.1",
		"--port", "8001",
	}, launcher.commands[0].Args)

	// Still booting: the same child is reported.
	res, err = sup.EnsureStarted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Status: StatusStarted, PID: 40000}, res)
	assert.Equal(t, 1, launcher.launches())

	// Child died before binding: a new one is spawned.
	launcher.handles[0].exited.Store(true)
	res, err = sup.EnsureStarted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 40001, res.PID)
	assert.Equal(t, 2, launcher.launches())
}

func TestEnsureStartedConcurrentCallers(t *testing.T) {
	var up atomic.Bool
	launcher := &fakeLauncher{}
	sup := New(Options{WorkerBinary: "/opt/worker", Launcher: launcher, Probe: staticProbe(&up)})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := sup.EnsureStarted(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, StatusStarted, res.Status)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, launcher.launches())
}

func TestEnsureStartedLaunchFailure(t *testing.T) {
	var up atomic.Bool
	boom := errors.New("exec format error")
	sup := New(Options{WorkerBinary: "/opt/worker", Launcher: &fakeLauncher{err: boom}, Probe: staticProbe(&up)})

	_, err := sup.EnsureStarted(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestEnsureStartedHonoursRecordedWorker(t *testing.T) {
	var up atomic.Bool
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "worker.pid")
	require.NoError(t, os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644))

	launcher := &fakeLauncher{}
	sup := New(Options{
		WorkerBinary: "/opt/worker",
		LockPath:     filepath.Join(dir, "worker.lock"),
		PIDPath:      pidPath,
		Launcher:     launcher,
		Probe:        staticProbe(&up),
	})

	res, err := sup.EnsureStarted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Status: StatusAlreadyRunning, PID: os.Getpid()}, res)
	assert.Zero(t, launcher.launches())
	assert.Equal(t, os.Getpid(), sup.RecordedPID())
}

func TestEnsureStartedRecordsPID(t *testing.T) {
	var up atomic.Bool
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "run", "worker.pid")
	launcher := &fakeLauncher{}
	sup := New(Options{
		WorkerBinary: "/opt/worker",
		LockPath:     filepath.Join(dir, "run", "worker.lock"),
		PIDPath:      pidPath,
		Launcher:     launcher,
		Probe:        staticProbe(&up),
	})

	_, err := sup.EnsureStarted(context.Background())
	require.NoError(t, err)
	data, err := os.ReadFile(pidPath)
	require.NoError(t, err)
	assert.Equal(t, "40000\n", string(data))

	require.NoError(t, sup.Stop(context.Background()))
	_, err = os.Stat(pidPath)
	assert.True(t, os.IsNotExist(err))
}

func TestStop(t *testing.T) {
	var up atomic.Bool
	launcher := &fakeLauncher{}
	sup := New(Options{WorkerBinary: "/opt/worker", Launcher: launcher, Probe: staticProbe(&up)})

	require.NoError(t, sup.Stop(context.Background()), "no child is a no-op")

	_, err := sup.EnsureStarted(context.Background())
	require.NoError(t, err)
	require.NoError(t, sup.Stop(context.Background()))
	require.NoError(t, sup.Stop(context.Background()))
	assert.EqualValues(t, 1, launcher.handles[0].stopped.Load())
}

func TestCommandResolution(t *testing.T) {
	sup := New(Options{
		WorkerBinary: "/usr/bin/python3",
		WorkerArgs:   []string{"worker.py"},
		ONNXDir:      "/exports",
		Host:         "0.0.0.0",
		Port:         9100,
		WorkDir:      "/srv",
	})
	cmd, err := sup.Command()
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/python3", cmd.Binary)
	assert.Equal(t, []string{"worker.py", "--onnx-dir", "/exports", "--host", "0.0.0.0", "--port", "9100"}, cmd.Args)
	assert.Equal(t, "/srv", cmd.Dir)
	assert.Equal(t, "0.0.0.0:9100", sup.Addr())
}

func TestDialProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	assert.True(t, DialProbe(context.Background(), addr, time.Second))
	ln.Close()
	<-done
	assert.False(t, DialProbe(context.Background(), addr, 200*time.Millisecond))
}

func TestExecLauncherMissingBinary(t *testing.T) {
	_, err := ExecLauncher{}.Launch(context.Background(), Command{})
	assert.ErrorIs(t, err, ErrWorkerBinaryUnset)

	_, err = ExecLauncher{}.Launch(context.Background(), Command{Binary: filepath.Join(t.TempDir(), "missing")})
	assert.ErrorIs(t, err, ErrWorkerBinaryMissing)
}

func TestExecLauncherStopsChild(t *testing.T) {
	handle, err := ExecLauncher{}.Launch(context.Background(), helperCommand())
	require.NoError(t, err)
	assert.Positive(t, handle.PID())
	assert.False(t, handle.Exited())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, handle.Stop(ctx))
	assert.True(t, handle.Exited())
	require.NoError(t, handle.Stop(ctx), "stopping twice is harmless")
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestSupervisorSpawnsRealWorker(t *testing.T) {
	helper := helperCommand()
	sup := New(Options{
		Port:         freePort(t),
		WorkerBinary: helper.Binary,
		WorkerArgs:   helper.Args,
		Env:          helper.Env,
	})

	res, err := sup.EnsureStarted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, res.Status)
	assert.Positive(t, res.PID)

	require.Eventually(t, func() bool { return sup.Running(context.Background()) }, 10*time.Second, 50*time.Millisecond)

	res, err = sup.EnsureStarted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyRunning, res.Status)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, sup.Stop(ctx))
	assert.False(t, sup.Running(context.Background()))
}

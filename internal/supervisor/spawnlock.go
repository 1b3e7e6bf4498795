package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// spawnLock serializes the probe-then-spawn sequence across processes
// sharing the same home directory. The pid file beside it records the last
// worker spawned by any of them.
type spawnLock struct {
	lockPath string
	pidPath  string
}

func (l spawnLock) enabled() bool {
	return l.lockPath != ""
}

// acquire blocks until the advisory lock is held. The returned func releases it.
func (l spawnLock) acquire() (func(), error) {
	if !l.enabled() {
		return func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(l.lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("supervisor: ensure lock directory: %w", err)
	}
	f, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("supervisor: open spawn lock: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("supervisor: acquire spawn lock: %w", err)
	}
	return func() {
		_ = unlockFile(f)
		_ = f.Close()
	}, nil
}

func (l spawnLock) readPID() int {
	if l.pidPath == "" {
		return 0
	}
	data, err := os.ReadFile(l.pidPath)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

func (l spawnLock) writePID(pid int) error {
	if l.pidPath == "" {
		return nil
	}
	return os.WriteFile(l.pidPath, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

func (l spawnLock) clearPID(pid int) {
	if l.pidPath == "" {
		return
	}
	if l.readPID() == pid {
		_ = os.Remove(l.pidPath)
	}
}

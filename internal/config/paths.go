package config

import (
	"os"
	"path/filepath"
	"strings"
)

// HomeEnv overrides the drumbench home directory.
const HomeEnv = "DRUMBENCH_HOME"

// Paths contains every on-disk location used by a drumbench home.
type Paths struct {
	Home       string // Home directory
	ConfigFile string // Optional YAML settings file
	Database   string // SQLite results database
	AudioDir   string // Generated audio files
	Logs       string // Logs directory
	RunDir     string // Runtime state (locks, pid files)
	WorkerLock string // Worker spawn lock
	WorkerPID  string // Pid of the last spawned worker
}

// GetPaths returns the layout rooted at home. Empty home resolves GetHome().
func GetPaths(home string) Paths {
	if home == "" {
		home = GetHome()
	}
	home = ExpandPath(home)
	runDir := filepath.Join(home, "run")

	return Paths{
		Home:       home,
		ConfigFile: filepath.Join(home, "drumbench.yaml"),
		Database:   filepath.Join(home, "results.db"),
		AudioDir:   filepath.Join(home, "audio_files"),
		Logs:       filepath.Join(home, "logs"),
		RunDir:     runDir,
		WorkerLock: filepath.Join(runDir, "worker.lock"),
		WorkerPID:  filepath.Join(runDir, "worker.pid"),
	}
}

// GetHome returns $DRUMBENCH_HOME, or ~/.drumbench when unset.
func GetHome() string {
	if home := strings.TrimSpace(os.Getenv(HomeEnv)); home != "" {
		return ExpandPath(home)
	}
	userHome, _ := os.UserHomeDir()
	return filepath.Join(userHome, ".drumbench")
}

// ExpandPath expands ~ to the user home directory.
func ExpandPath(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) == 1 {
			return home
		}
		if path[1] == '/' || path[1] == os.PathSeparator {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// EnsureDirs creates the directory structure under home if it does not exist.
func EnsureDirs(home string) (Paths, error) {
	paths := GetPaths(home)

	dirs := []string{
		paths.Home,
		paths.AudioDir,
		paths.Logs,
		paths.RunDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return paths, err
		}
	}

	return paths, nil
}

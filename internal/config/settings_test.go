package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drumbench/drumbench/internal/catalog"
)

// isolate points the home at a temp dir and clears every variable Load reads.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv(HomeEnv, home)
	for _, key := range []string{
		LegacyModelRootEnv, LegacyWorkerURLEnv, LegacyWorkerTimeoutEnv,
		"DRUMBENCH_LISTEN", "DRUMBENCH_LOG_LEVEL",
		"DRUMBENCH_WORKER_PORT", "DRUMBENCH_WORKER_URL", "DRUMBENCH_WORKER_TIMEOUT",
		"DRUMBENCH_WORKER_MODEL_ROOT", "DRUMBENCH_CATALOG_PAGE_SIZE",
	} {
		t.Setenv(key, "")
	}
	return home
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestLoadDefaults(t *testing.T) {
	home := isolate(t)

	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultListen, s.Listen)
	assert.Equal(t, DefaultModelVersion, s.ModelVersion)
	assert.Equal(t, filepath.Join(home, "results.db"), s.DBPath)
	assert.Equal(t, filepath.Join(home, "audio_files"), s.AudioDir)
	assert.Equal(t, 200, s.Catalog.PageSize)
	assert.Equal(t, 8*time.Second, s.Catalog.Timeout)
	assert.Equal(t, catalog.DefaultSources(), s.Catalog.Sources)
	assert.Equal(t, "http://127.0.0.1:8001", s.Worker.BaseURL())
	assert.Equal(t, 2*time.Minute, s.Worker.Timeout)
	assert.Equal(t, filepath.Join(home, "models", "onnx_exports", "acoustic"), s.Worker.ResolvedONNXDir())
	assert.Equal(t, home, s.Paths.Home)
}

func TestLoadReadsHomeConfigFile(t *testing.T) {
	home := isolate(t)
	writeFile(t, filepath.Join(home, "drumbench.yaml"), `
listen: 0.0.0.0:9000
catalog:
  primary: lab
  secondary: ""
  sources:
    - name: lab
      base_url: http://catalog.local/lab/
      dataset_param: acoustic_drums
      exclude_dataset_types: [electronic]
worker:
  port: 9100
  timeout: 30s
  onnx_dir: /exports/acoustic
`)

	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", s.Listen)
	require.Len(t, s.Catalog.Sources, 1)
	assert.Equal(t, "lab", s.Catalog.Sources[0].Name)
	assert.Equal(t, []string{"electronic"}, s.Catalog.Sources[0].ExcludeDatasetTypes)
	assert.Equal(t, "http://127.0.0.1:9100", s.Worker.BaseURL())
	assert.Equal(t, 30*time.Second, s.Worker.Timeout)
	assert.Equal(t, "/exports/acoustic", s.Worker.ResolvedONNXDir())

	reg, err := s.Registry()
	require.NoError(t, err)
	assert.Equal(t, "lab", reg.Primary().Name)
}

func TestLoadEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("DRUMBENCH_LISTEN", ":9001")
	t.Setenv("DRUMBENCH_WORKER_PORT", "9200")
	t.Setenv("DRUMBENCH_CATALOG_PAGE_SIZE", "50")

	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":9001", s.Listen)
	assert.Equal(t, 9200, s.Worker.Port)
	assert.Equal(t, 50, s.Catalog.PageSize)
}

func TestLoadLegacyEnv(t *testing.T) {
	isolate(t)
	t.Setenv(LegacyModelRootEnv, "/models/v18")
	t.Setenv(LegacyWorkerURLEnv, "http://gpu-box:8001/")
	t.Setenv(LegacyWorkerTimeoutEnv, "45")

	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/models/v18", s.Worker.ModelRoot)
	assert.Equal(t, "http://gpu-box:8001", s.Worker.BaseURL())
	assert.Equal(t, 45*time.Second, s.Worker.Timeout)
}

func TestLoadPrefixedEnvBeatsLegacy(t *testing.T) {
	isolate(t)
	t.Setenv(LegacyWorkerTimeoutEnv, "45")
	t.Setenv("DRUMBENCH_WORKER_TIMEOUT", "10s")
	t.Setenv(LegacyModelRootEnv, "/models/legacy")
	t.Setenv("DRUMBENCH_WORKER_MODEL_ROOT", "/models/current")

	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, s.Worker.Timeout)
	assert.Equal(t, "/models/current", s.Worker.ModelRoot)
}

func TestLoadRejectsBadLegacyTimeout(t *testing.T) {
	isolate(t)
	t.Setenv(LegacyWorkerTimeoutEnv, "soon")

	_, err := Load("")
	assert.ErrorContains(t, err, LegacyWorkerTimeoutEnv)
}

func TestLoadExplicitFileMustExist(t *testing.T) {
	home := isolate(t)

	_, err := Load(filepath.Join(home, "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown primary", "catalog:\n  primary: nope\n", "nope"},
		{"unknown secondary", "catalog:\n  secondary: nope\n", "catalog.secondary"},
		{"port range", "worker:\n  port: 70000\n", "worker.port"},
		{"page size", "catalog:\n  page_size: 0\n", "page_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			home := isolate(t)
			path := filepath.Join(home, "custom.yaml")
			writeFile(t, path, tt.yaml)

			_, err := Load(path)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

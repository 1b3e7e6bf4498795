package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/drumbench/drumbench/internal/catalog"
	"github.com/drumbench/drumbench/internal/constants"
	"github.com/drumbench/drumbench/internal/supervisor"
)

// EnvPrefix prefixes every environment override, e.g. DRUMBENCH_LISTEN or
// DRUMBENCH_WORKER_PORT.
const EnvPrefix = "DRUMBENCH"

// Environment variables honoured for compatibility with existing deployments.
const (
	LegacyModelRootEnv     = "DRUMGEN_MODEL_ROOT"
	LegacyWorkerURLEnv     = "MODEL_BETA_URL"
	LegacyWorkerTimeoutEnv = "MODEL_BETA_TIMEOUT" // seconds
)

const (
	DefaultListen       = "127.0.0.1:8000"
	DefaultLogLevel     = "info"
	DefaultModelVersion = "v18_acoustic"
)

// Settings is the resolved runtime configuration.
type Settings struct {
	Listen       string          `mapstructure:"listen"`
	LogLevel     string          `mapstructure:"log_level"`
	ModelVersion string          `mapstructure:"model_version"`
	AudioDir     string          `mapstructure:"audio_dir"`
	DBPath       string          `mapstructure:"db_path"`
	Catalog      CatalogSettings `mapstructure:"catalog"`
	Worker       WorkerSettings  `mapstructure:"worker"`

	// Paths is the home layout the defaults were derived from.
	Paths Paths `mapstructure:"-"`
}

// CatalogSettings configures the remote catalogs.
type CatalogSettings struct {
	Sources           []catalog.Source `mapstructure:"sources"`
	Primary           string           `mapstructure:"primary"`
	Secondary         string           `mapstructure:"secondary"`
	PageSize          int              `mapstructure:"page_size"`
	Timeout           time.Duration    `mapstructure:"timeout"`
	AudioTimeout      time.Duration    `mapstructure:"audio_timeout"`
	RequestsPerSecond float64          `mapstructure:"requests_per_second"`
	Burst             int              `mapstructure:"burst"`
	InsecureTLS       bool             `mapstructure:"insecure_tls"`
}

// WorkerSettings configures the synthesis worker and how it is spawned.
type WorkerSettings struct {
	URL        string        `mapstructure:"url"`
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	Binary     string        `mapstructure:"binary"`
	Args       []string      `mapstructure:"args"`
	ModelRoot  string        `mapstructure:"model_root"`
	ONNXDir    string        `mapstructure:"onnx_dir"`
	ORTLibrary string        `mapstructure:"ort_library"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// BaseURL is the worker endpoint the API talks to. An explicit URL wins over
// host and port.
func (w WorkerSettings) BaseURL() string {
	if w.URL != "" {
		return strings.TrimRight(w.URL, "/")
	}
	return "http://" + net.JoinHostPort(w.Host, strconv.Itoa(w.Port))
}

// ResolvedONNXDir returns the exported model directory.
func (w WorkerSettings) ResolvedONNXDir() string {
	if w.ONNXDir != "" {
		return w.ONNXDir
	}
	return supervisor.DefaultONNXDir(w.ModelRoot)
}

// Load reads settings from the YAML file at path, then applies environment
// overrides. An empty path reads <home>/drumbench.yaml when it exists.
func Load(path string) (*Settings, error) {
	paths := GetPaths("")

	v := viper.New()
	setDefaults(v, paths)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("worker.model_root", EnvPrefix+"_WORKER_MODEL_ROOT", LegacyModelRootEnv); err != nil {
		return nil, err
	}
	if err := v.BindEnv("worker.url", EnvPrefix+"_WORKER_URL", LegacyWorkerURLEnv); err != nil {
		return nil, err
	}

	required := path != ""
	if path == "" {
		path = paths.ConfigFile
	}
	if _, err := os.Stat(path); err == nil || required {
		v.SetConfigFile(ExpandPath(path))
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("config: decode settings: %w", err)
	}
	s.Paths = paths

	// The legacy timeout only applies when nothing newer configures one.
	if os.Getenv(EnvPrefix+"_WORKER_TIMEOUT") == "" && !fileSets(v, "worker.timeout") {
		if raw := strings.TrimSpace(os.Getenv(LegacyWorkerTimeoutEnv)); raw != "" {
			timeout, err := parseSeconds(raw)
			if err != nil {
				return nil, fmt.Errorf("config: %s: %w", LegacyWorkerTimeoutEnv, err)
			}
			s.Worker.Timeout = timeout
		}
	}
	if len(s.Catalog.Sources) == 0 {
		s.Catalog.Sources = catalog.DefaultSources()
	}
	s.AudioDir = ExpandPath(s.AudioDir)
	s.DBPath = ExpandPath(s.DBPath)
	s.Worker.ModelRoot = ExpandPath(s.Worker.ModelRoot)
	s.Worker.ONNXDir = ExpandPath(s.Worker.ONNXDir)

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func setDefaults(v *viper.Viper, paths Paths) {
	v.SetDefault("listen", DefaultListen)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("model_version", DefaultModelVersion)
	v.SetDefault("audio_dir", paths.AudioDir)
	v.SetDefault("db_path", paths.Database)

	v.SetDefault("catalog.primary", catalog.PrimarySourceName)
	v.SetDefault("catalog.secondary", catalog.SecondarySourceName)
	v.SetDefault("catalog.page_size", constants.CatalogPageSize)
	v.SetDefault("catalog.timeout", constants.CatalogRequestTimeout)
	v.SetDefault("catalog.audio_timeout", constants.CatalogAudioTimeout)
	v.SetDefault("catalog.requests_per_second", 0)
	v.SetDefault("catalog.burst", 0)
	v.SetDefault("catalog.insecure_tls", false)

	v.SetDefault("worker.url", "")
	v.SetDefault("worker.host", constants.DefaultWorkerHost)
	v.SetDefault("worker.port", constants.DefaultWorkerPort)
	v.SetDefault("worker.binary", "")
	v.SetDefault("worker.args", []string{})
	v.SetDefault("worker.model_root", filepath.Join(paths.Home, "models"))
	v.SetDefault("worker.onnx_dir", "")
	v.SetDefault("worker.ort_library", "")
	v.SetDefault("worker.timeout", constants.WorkerRequestTimeout)
}

// fileSets reports whether the loaded config file sets key explicitly.
func fileSets(v *viper.Viper, key string) bool {
	return v.ConfigFileUsed() != "" && v.InConfig(key)
}

func parseSeconds(raw string) (time.Duration, error) {
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid seconds %q", raw)
	}
	if seconds <= 0 {
		return 0, fmt.Errorf("seconds must be positive, got %q", raw)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// Validate checks settings that would otherwise fail late at request time.
func (s *Settings) Validate() error {
	var errs []error
	if strings.TrimSpace(s.Listen) == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if s.Catalog.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("catalog.page_size must be positive, got %d", s.Catalog.PageSize))
	}
	if s.Catalog.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("catalog.requests_per_second must not be negative"))
	}
	if s.Worker.Port <= 0 || s.Worker.Port > 65535 {
		errs = append(errs, fmt.Errorf("worker.port out of range: %d", s.Worker.Port))
	}
	if s.Worker.Timeout <= 0 {
		errs = append(errs, errors.New("worker.timeout must be positive"))
	}
	if strings.TrimSpace(s.AudioDir) == "" {
		errs = append(errs, errors.New("audio_dir is required"))
	}
	if strings.TrimSpace(s.DBPath) == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if _, err := s.Registry(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Registry builds the catalog registry with the configured primary source.
func (s *Settings) Registry() (*catalog.Registry, error) {
	reg, err := catalog.NewRegistry(s.Catalog.Primary, s.Catalog.Sources...)
	if err != nil {
		return nil, err
	}
	if s.Catalog.Secondary != "" {
		if _, ok := reg.Lookup(s.Catalog.Secondary); !ok {
			return nil, fmt.Errorf("catalog.secondary %q: %w", s.Catalog.Secondary, catalog.ErrUnknownSource)
		}
	}
	return reg, nil
}

// Package catalog talks to the remote sample catalogs: paginated listings and
// the audio proxy endpoint each catalog exposes.
package catalog

import (
	"errors"
	"fmt"
	"strings"
)

const (
	PrimarySourceName   = "gold-db"
	SecondarySourceName = "full-db"
)

// ErrUnknownSource is returned when a source name is not registered.
var ErrUnknownSource = errors.New("catalog: unknown source")

// Source is one independently hosted catalog.
type Source struct {
	Name                string   `mapstructure:"name"`
	BaseURL             string   `mapstructure:"base_url"`
	DatasetParam        string   `mapstructure:"dataset_param"`
	ExcludeDatasetTypes []string `mapstructure:"exclude_dataset_types"`
}

// Excludes reports whether items of the given upstream dataset type are
// unplayable on this source.
func (s Source) Excludes(datasetType string) bool {
	datasetType = strings.ToLower(strings.TrimSpace(datasetType))
	if datasetType == "" {
		return false
	}
	for _, excluded := range s.ExcludeDatasetTypes {
		if strings.EqualFold(strings.TrimSpace(excluded), datasetType) {
			return true
		}
	}
	return false
}

// DefaultSources returns the two catalogs the harness was built against.
func DefaultSources() []Source {
	return []Source{
		{
			Name:         PrimarySourceName,
			BaseURL:      "https://dev-onla-drumgen-demo.waves.com/gold-db",
			DatasetParam: "acoustic_drums",
		},
		{
			Name:                SecondarySourceName,
			BaseURL:             "https://dev-onla-drumgen-demo.waves.com/full-db",
			DatasetParam:        "acoustic",
			ExcludeDatasetTypes: []string{"electronic"},
		},
	}
}

// Registry is the ordered set of configured sources.
type Registry struct {
	sources []Source
	byName  map[string]Source
	primary string
}

// NewRegistry validates sources and designates primary. Names are matched
// case-insensitively.
func NewRegistry(primary string, sources ...Source) (*Registry, error) {
	if len(sources) == 0 {
		return nil, errors.New("catalog: no sources configured")
	}
	r := &Registry{byName: make(map[string]Source, len(sources))}
	for _, src := range sources {
		src.Name = normalizeName(src.Name)
		src.BaseURL = strings.TrimRight(strings.TrimSpace(src.BaseURL), "/")
		if src.Name == "" {
			return nil, errors.New("catalog: source name is required")
		}
		if strings.Contains(src.Name, DatasetSeparator) {
			return nil, fmt.Errorf("catalog: source name %q must not contain %q", src.Name, DatasetSeparator)
		}
		if src.BaseURL == "" {
			return nil, fmt.Errorf("catalog: source %s: base url is required", src.Name)
		}
		if _, dup := r.byName[src.Name]; dup {
			return nil, fmt.Errorf("catalog: duplicate source %s", src.Name)
		}
		r.byName[src.Name] = src
		r.sources = append(r.sources, src)
	}
	r.primary = normalizeName(primary)
	if r.primary == "" {
		r.primary = r.sources[0].Name
	}
	if _, ok := r.byName[r.primary]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, primary)
	}
	return r, nil
}

// Lookup returns the named source.
func (r *Registry) Lookup(name string) (Source, bool) {
	src, ok := r.byName[normalizeName(name)]
	return src, ok
}

// Sources returns every source in configured order.
func (r *Registry) Sources() []Source {
	return append([]Source(nil), r.sources...)
}

// Primary returns the designated primary source.
func (r *Registry) Primary() Source {
	return r.byName[r.primary]
}

// AudioOrder is the order in which audio for a sample is looked up. A known
// source is tried first and followed by the primary, which also serves audio
// for acoustic items listed elsewhere. An unknown or empty name tries every
// source.
func (r *Registry) AudioOrder(requested string) []Source {
	src, ok := r.Lookup(requested)
	if !ok {
		return r.Sources()
	}
	order := []Source{src}
	if src.Name != r.primary {
		order = append(order, r.Primary())
	}
	return order
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

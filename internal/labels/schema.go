// Package labels holds a model's declared label vocabulary and maps free-form
// sample metadata onto it.
package labels

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
)

// DefaultDatasetType is reported when the artifact does not declare one.
const DefaultDatasetType = "unknown"

// Field is one label column and its allowed values in index order.
type Field struct {
	Name    string
	Options []string
	indices map[string]int
	width   int
}

// Index returns the encoding slot of option within the field.
func (f Field) Index(option string) (int, bool) {
	idx, ok := f.indices[option]
	return idx, ok
}

// Schema is the immutable label vocabulary of a model. It is loaded once per
// worker lifetime and shared read-only between requests.
type Schema struct {
	fields      map[string]Field
	names       []string
	multi       map[string]struct{}
	multiNames  []string
	datasetType string
}

type wireSchema struct {
	Dictionaries   map[string]map[string]any `json:"dictionaries"`
	MultiValueCols []string                  `json:"multi_value_cols"`
	DatasetType    string                    `json:"dataset_type"`
}

// Load reads a label dictionary artifact from disk.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("labels: read schema: %w", err)
	}
	return Parse(data)
}

// Parse decodes a label dictionary artifact.
func Parse(data []byte) (*Schema, error) {
	var wire wireSchema
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("labels: decode schema: %w", err)
	}
	return fromWire(wire), nil
}

func fromWire(wire wireSchema) *Schema {
	s := &Schema{
		fields:      make(map[string]Field, len(wire.Dictionaries)),
		multi:       make(map[string]struct{}, len(wire.MultiValueCols)),
		datasetType: wire.DatasetType,
	}
	if s.datasetType == "" {
		s.datasetType = DefaultDatasetType
	}
	for name, options := range wire.Dictionaries {
		s.fields[name] = newField(name, options)
		s.names = append(s.names, name)
	}
	sort.Strings(s.names)
	for _, name := range wire.MultiValueCols {
		if _, dup := s.multi[name]; dup {
			continue
		}
		s.multi[name] = struct{}{}
		s.multiNames = append(s.multiNames, name)
	}
	return s
}

// newField orders options by their declared index. Options without a numeric
// index are appended after the indexed ones in lexical order.
func newField(name string, options map[string]any) Field {
	type entry struct {
		option string
		index  int
	}
	var indexed, loose []entry
	for opt, raw := range options {
		if n, ok := raw.(float64); ok && n >= 0 && n == math.Trunc(n) {
			indexed = append(indexed, entry{opt, int(n)})
		} else {
			loose = append(loose, entry{opt, -1})
		}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].index != indexed[j].index {
			return indexed[i].index < indexed[j].index
		}
		return indexed[i].option < indexed[j].option
	})
	sort.Slice(loose, func(i, j int) bool { return loose[i].option < loose[j].option })

	f := Field{Name: name, indices: make(map[string]int, len(options))}
	for _, e := range indexed {
		f.Options = append(f.Options, e.option)
		f.indices[e.option] = e.index
		if e.index+1 > f.width {
			f.width = e.index + 1
		}
	}
	for _, e := range loose {
		f.Options = append(f.Options, e.option)
		f.indices[e.option] = f.width
		f.width++
	}
	return f
}

// Fields returns the label field names in lexical order.
func (s *Schema) Fields() []string {
	return append([]string(nil), s.names...)
}

// Field looks up a label field by name.
func (s *Schema) Field(name string) (Field, bool) {
	f, ok := s.fields[name]
	return f, ok
}

// IsMultiValued reports whether name accepts a list of values.
func (s *Schema) IsMultiValued(name string) bool {
	_, ok := s.multi[name]
	return ok
}

// DatasetType is the dataset family the model was trained on.
func (s *Schema) DatasetType() string {
	return s.datasetType
}

// Width is the length of the vector produced by Encode.
func (s *Schema) Width() int {
	total := 0
	for _, name := range s.names {
		total += s.fields[name].width
	}
	return total
}

// Encode renders normalized labels as a multi-hot vector. Fields occupy
// consecutive slots in lexical field order; unknown values are ignored.
func (s *Schema) Encode(labels map[string]any) []float32 {
	vec := make([]float32, s.Width())
	offset := 0
	for _, name := range s.names {
		f := s.fields[name]
		if raw, ok := labels[name]; ok {
			for _, value := range ParseMultiValue(raw) {
				if idx, ok := f.indices[value]; ok {
					vec[offset+idx] = 1
				}
			}
		}
		offset += f.width
	}
	return vec
}

// MarshalJSON renders the schema in the artifact layout.
func (s *Schema) MarshalJSON() ([]byte, error) {
	wire := wireSchema{
		Dictionaries:   make(map[string]map[string]any, len(s.fields)),
		MultiValueCols: append([]string{}, s.multiNames...),
		DatasetType:    s.datasetType,
	}
	for name, f := range s.fields {
		opts := make(map[string]any, len(f.Options))
		for _, opt := range f.Options {
			opts[opt] = f.indices[opt]
		}
		wire.Dictionaries[name] = opts
	}
	return json.Marshal(wire)
}

// UnmarshalJSON accepts the artifact layout.
func (s *Schema) UnmarshalJSON(data []byte) error {
	var wire wireSchema
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*s = *fromWire(wire)
	return nil
}

// Package acquisition finds unused catalog samples for a drum type by paging
// through the configured sources in stages.
package acquisition

import (
	"github.com/drumbench/drumbench/internal/catalog"
	"github.com/drumbench/drumbench/internal/labels"
)

// DefaultDataset is assumed for catalog items that do not name a dataset.
const DefaultDataset = "acoustic_drums"

var (
	multiValueTags = []string{"Genres", "Process", "Free Tags"}
	nonPromptTags  = map[string]struct{}{"audio_url": {}, "dataset": {}}
)

// Key is the identity of a sample within one fetch session.
type Key struct {
	Source   string
	Dataset  string
	Filename string
}

// Sample is a catalog item with its identity resolved.
type Sample struct {
	Source   string
	Dataset  string
	Filename string
	Kind     string
	Item     catalog.Item
}

func newSample(source string, item catalog.Item) Sample {
	dataset := item.String("dataset")
	if dataset == "" {
		dataset = DefaultDataset
	}
	return Sample{
		Source:   source,
		Dataset:  dataset,
		Filename: item.String("Filename"),
		Kind:     item.String("Kind"),
		Item:     item,
	}
}

func (s Sample) Key() Key {
	return Key{Source: s.Source, Dataset: s.Dataset, Filename: s.Filename}
}

// EncodedDataset is the dataset qualified with the sample's source.
func (s Sample) EncodedDataset() string {
	return catalog.EncodeDataset(s.Source, s.Dataset)
}

// ID is the stable identifier presented to callers.
func (s Sample) ID() string {
	return s.EncodedDataset() + ":" + s.Filename
}

// DrumType classifies the sample's kind.
func (s Sample) DrumType() DrumType {
	return Classify(s.Kind)
}

// AudioURL is the upstream audio reference, if the catalog supplied one.
func (s Sample) AudioURL() string {
	return s.Item.String("audio_url")
}

// PromptTags returns the sample's tags as offered for generation: every field
// except the audio reference and dataset, with multi-valued tags as lists.
func (s Sample) PromptTags() map[string]any {
	tags := make(map[string]any, len(s.Item))
	for k, v := range s.Item {
		if _, skip := nonPromptTags[k]; skip {
			continue
		}
		tags[k] = v
	}
	splitMultiValues(tags)
	return tags
}

// ModelJSON is the raw item with multi-valued tags as string lists.
func (s Sample) ModelJSON() map[string]any {
	out := make(map[string]any, len(s.Item))
	for k, v := range s.Item {
		out[k] = v
	}
	splitMultiValues(out)
	return out
}

func splitMultiValues(tags map[string]any) {
	for _, name := range multiValueTags {
		v, ok := tags[name]
		if !ok {
			continue
		}
		values := labels.ParseMultiValue(v)
		if values == nil {
			values = []string{}
		}
		tags[name] = values
	}
}

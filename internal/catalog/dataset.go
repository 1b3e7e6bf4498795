package catalog

import "strings"

// DatasetSeparator joins a source name and a dataset identifier.
const DatasetSeparator = "|"

// EncodeDataset qualifies dataset with the source it was listed on.
func EncodeDataset(source, dataset string) string {
	return source + DatasetSeparator + dataset
}

// DecodeDataset splits a source-qualified dataset. When the prefix is not a
// registered source, or there is no prefix, source is empty and dataset is
// returned unchanged.
func (r *Registry) DecodeDataset(encoded string) (source, dataset string) {
	prefix, raw, ok := strings.Cut(encoded, DatasetSeparator)
	if !ok || raw == "" {
		return "", encoded
	}
	src, known := r.Lookup(prefix)
	if !known {
		return "", encoded
	}
	return src.Name, raw
}

package acquisition

import "github.com/drumbench/drumbench/internal/catalog"

// UsedSet reports whether a sample has already been scored.
type UsedSet interface {
	Contains(Key) bool
}

type scoredKey struct {
	dataset  string
	filename string
}

// UsedKeys is a UsedSet built from persisted (dataset, filename) pairs, where
// dataset is normally source-qualified. Rows written before datasets carried
// a source prefix are matched against legacySource.
type UsedKeys struct {
	keys         map[scoredKey]struct{}
	legacySource string
}

// NewUsedKeys returns an empty set. legacySource may be empty.
func NewUsedKeys(legacySource string) *UsedKeys {
	return &UsedKeys{keys: make(map[scoredKey]struct{}), legacySource: legacySource}
}

// Add records a persisted pair.
func (u *UsedKeys) Add(dataset, filename string) {
	u.keys[scoredKey{dataset: dataset, filename: filename}] = struct{}{}
}

func (u *UsedKeys) Len() int {
	return len(u.keys)
}

func (u *UsedKeys) Contains(k Key) bool {
	if u == nil {
		return false
	}
	if _, ok := u.keys[scoredKey{dataset: catalog.EncodeDataset(k.Source, k.Dataset), filename: k.Filename}]; ok {
		return true
	}
	if u.legacySource != "" && k.Source == u.legacySource {
		_, ok := u.keys[scoredKey{dataset: k.Dataset, filename: k.Filename}]
		return ok
	}
	return false
}

func isUsed(used UsedSet, k Key) bool {
	return used != nil && used.Contains(k)
}

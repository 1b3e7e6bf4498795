package acquisition

import (
	"fmt"
	"sort"
	"strings"
)

// DrumType is the coarse category a caller asks samples for.
type DrumType string

const (
	BassDrum DrumType = "bass_drum"
	Snare    DrumType = "snare"
	LowTom   DrumType = "low_tom"
	MidTom   DrumType = "mid_tom"
	HighTom  DrumType = "high_tom"
	Other    DrumType = "other"
)

var drumTypes = []DrumType{BassDrum, Snare, LowTom, MidTom, HighTom}

// catalogKinds lists, per drum type, the kind strings the catalogs file
// samples under.
var catalogKinds = map[DrumType][]string{
	BassDrum: {"Bass Drum", "Kick"},
	Snare:    {"Snare", "Snare Piccolo", "Snare + Clap"},
	LowTom:   {"Low Tom", "Floor Tom"},
	MidTom:   {"Mid Tom"},
	HighTom:  {"High Tom", "Hi Tom"},
}

// DrumTypes returns every selectable drum type in display order.
func DrumTypes() []DrumType {
	return append([]DrumType(nil), drumTypes...)
}

// ParseDrumType validates s as a selectable drum type.
func ParseDrumType(s string) (DrumType, error) {
	d := DrumType(s)
	if _, ok := catalogKinds[d]; !ok {
		names := make([]string, len(drumTypes))
		for i, t := range drumTypes {
			names[i] = string(t)
		}
		return "", fmt.Errorf("drum_type must be one of: %s", strings.Join(names, ", "))
	}
	return d, nil
}

// Kinds returns the catalog kinds queried for d.
func (d DrumType) Kinds() []string {
	return append([]string(nil), catalogKinds[d]...)
}

// AllKinds returns every known catalog kind, sorted and deduplicated.
func AllKinds() []string {
	set := make(map[string]struct{})
	for _, kinds := range catalogKinds {
		for _, k := range kinds {
			set[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Classify maps a free-form catalog kind back to a drum type. Rules are
// substring matches checked in order; anything unmatched is Other.
func Classify(kind string) DrumType {
	k := strings.ToLower(strings.TrimSpace(kind))
	switch {
	case strings.Contains(k, "snare"):
		return Snare
	case strings.Contains(k, "kick"), strings.Contains(k, "bass drum"):
		return BassDrum
	case strings.Contains(k, "floor tom"), strings.Contains(k, "low tom"):
		return LowTom
	case strings.Contains(k, "mid tom"):
		return MidTom
	case strings.Contains(k, "high tom"), strings.Contains(k, "hi tom"):
		return HighTom
	default:
		return Other
	}
}

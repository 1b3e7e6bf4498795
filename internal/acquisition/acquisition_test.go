package acquisition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drumbench/drumbench/internal/catalog"
)

type pageCall struct {
	Source string
	Kind   string
	Page   int
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls []pageCall
	pages func(source, kind string, page int) ([]catalog.Item, error)
}

func (f *fakeFetcher) FetchPage(_ context.Context, src catalog.Source, kind string, page, _ int) ([]catalog.Item, error) {
	f.mu.Lock()
	f.calls = append(f.calls, pageCall{Source: src.Name, Kind: kind, Page: page})
	f.mu.Unlock()
	return f.pages(src.Name, kind, page)
}

func (f *fakeFetcher) callsFor(source string) []pageCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []pageCall
	for _, c := range f.calls {
		if c.Source == source {
			out = append(out, c)
		}
	}
	return out
}

func item(filename, kind string) catalog.Item {
	return catalog.Item{"Filename": filename, "Kind": kind, "dataset": "acoustic_drums"}
}

func itemsN(prefix, kind string, n int) []catalog.Item {
	out := make([]catalog.Item, n)
	for i := range out {
		out[i] = item(fmt.Sprintf("%s-%d.wav", prefix, i), kind)
	}
	return out
}

func testRegistry(t *testing.T) *catalog.Registry {
	t.Helper()
	reg, err := catalog.NewRegistry(catalog.PrimarySourceName, catalog.DefaultSources()...)
	require.NoError(t, err)
	return reg
}

func source(t *testing.T, name string) catalog.Source {
	t.Helper()
	src, ok := testRegistry(t).Lookup(name)
	require.True(t, ok)
	return src
}

func noShuffle(int, func(i, j int)) {}

func TestAggregatorStopsOnShortPage(t *testing.T) {
	f := &fakeFetcher{pages: func(_, _ string, page int) ([]catalog.Item, error) {
		switch page {
		case 1:
			return itemsN("a", "Kick", 3), nil
		case 2:
			return []catalog.Item{item("b.wav", "Kick")}, nil
		}
		t.Fatalf("unexpected page %d", page)
		return nil, nil
	}}
	agg := NewAggregator(f, AggregatorOptions{PageSize: 3})

	got := agg.Fetch(context.Background(), source(t, "gold-db"), []string{"Kick"}, 0, nil)
	assert.Len(t, got, 4)
	assert.Len(t, f.callsFor("gold-db"), 2)
}

func TestAggregatorStopsAfterStalledPages(t *testing.T) {
	quiet := func(page int) []catalog.Item {
		items := itemsN(fmt.Sprintf("q%d", page), "Kick", 2)
		for _, it := range items {
			it["Velocity"] = " QUIET "
		}
		return items
	}
	f := &fakeFetcher{pages: func(_, _ string, page int) ([]catalog.Item, error) {
		if page == 1 {
			return itemsN("ok", "Kick", 2), nil
		}
		return quiet(page), nil
	}}
	agg := NewAggregator(f, AggregatorOptions{PageSize: 2})

	got := agg.Fetch(context.Background(), source(t, "gold-db"), []string{"Kick"}, 0, nil)
	assert.Len(t, got, 2)
	assert.Len(t, f.callsFor("gold-db"), 4, "one productive page and three stalled pages")
}

func TestAggregatorBudgetShortCircuits(t *testing.T) {
	f := &fakeFetcher{pages: func(_, kind string, _ int) ([]catalog.Item, error) {
		return itemsN(kind, kind, 5), nil
	}}
	agg := NewAggregator(f, AggregatorOptions{PageSize: 5})

	got := agg.Fetch(context.Background(), source(t, "gold-db"), []string{"Kick", "Bass Drum"}, 3, nil)
	assert.Len(t, got, 3)
	assert.Equal(t, []pageCall{{Source: "gold-db", Kind: "Kick", Page: 1}}, f.callsFor("gold-db"))
}

func TestAggregatorPageErrorAbandonsOnlyThatKind(t *testing.T) {
	f := &fakeFetcher{pages: func(_, kind string, page int) ([]catalog.Item, error) {
		if kind == "Kick" && page == 2 {
			return nil, errors.New("timeout")
		}
		if page > 1 {
			return nil, nil
		}
		return itemsN(kind, kind, 2), nil
	}}
	agg := NewAggregator(f, AggregatorOptions{PageSize: 2})

	got := agg.Fetch(context.Background(), source(t, "gold-db"), []string{"Kick", "Bass Drum"}, 0, nil)
	assert.Len(t, got, 4)
}

func TestAggregatorFiltersAndDeduplicates(t *testing.T) {
	f := &fakeFetcher{pages: func(_, kind string, _ int) ([]catalog.Item, error) {
		electronic := item("e.wav", kind)
		electronic["_dataset"] = "Electronic"
		return []catalog.Item{
			item("shared.wav", "Kick"),
			item("shared.wav", "Kick"),
			{"Kind": "Kick"},
			electronic,
			item("used.wav", "Kick"),
			{"Filename": "nodataset.wav", "Kind": "Kick"},
		}, nil
	}}
	agg := NewAggregator(f, AggregatorOptions{PageSize: 100})
	used := NewUsedKeys("")
	used.Add("full-db|acoustic_drums", "used.wav")

	got := agg.Fetch(context.Background(), source(t, "full-db"), []string{"Kick", "Bass Drum"}, 0, used)
	require.Len(t, got, 2)
	assert.Equal(t, "shared.wav", got[0].Filename)
	assert.Equal(t, "nodataset.wav", got[1].Filename)
	assert.Equal(t, DefaultDataset, got[1].Dataset)

	keys := map[Key]bool{}
	for _, s := range got {
		assert.False(t, keys[s.Key()], "duplicate key %v", s.Key())
		keys[s.Key()] = true
		assert.False(t, used.Contains(s.Key()))
	}
}

func TestAggregatorKeepsElectronicOnPrimary(t *testing.T) {
	f := &fakeFetcher{pages: func(string, string, int) ([]catalog.Item, error) {
		it := item("e.wav", "Kick")
		it["_dataset"] = "electronic"
		return []catalog.Item{it}, nil
	}}
	agg := NewAggregator(f, AggregatorOptions{PageSize: 10})

	got := agg.Fetch(context.Background(), source(t, "gold-db"), []string{"Kick"}, 0, nil)
	assert.Len(t, got, 1)
}

func TestUsedKeysLegacyDataset(t *testing.T) {
	used := NewUsedKeys(catalog.PrimarySourceName)
	used.Add("acoustic_drums", "old.wav")
	used.Add("full-db|acoustic", "new.wav")

	assert.True(t, used.Contains(Key{Source: "gold-db", Dataset: "acoustic_drums", Filename: "old.wav"}))
	assert.False(t, used.Contains(Key{Source: "full-db", Dataset: "acoustic_drums", Filename: "old.wav"}))
	assert.True(t, used.Contains(Key{Source: "full-db", Dataset: "acoustic", Filename: "new.wav"}))
	assert.False(t, used.Contains(Key{Source: "gold-db", Dataset: "acoustic", Filename: "new.wav"}))
	assert.Equal(t, 2, used.Len())

	var none *UsedKeys
	assert.False(t, none.Contains(Key{}))
}

func newTestSelector(t *testing.T, f *fakeFetcher) *Selector {
	t.Helper()
	agg := NewAggregator(f, AggregatorOptions{PageSize: 200})
	sel, err := NewSelector(agg, testRegistry(t), SelectorOptions{
		Secondary: catalog.SecondarySourceName,
		Shuffle:   noShuffle,
	})
	require.NoError(t, err)
	return sel
}

func TestSelectorTopsUpFromSecondary(t *testing.T) {
	f := &fakeFetcher{pages: func(source, kind string, page int) ([]catalog.Item, error) {
		if page > 1 || kind != "Kick" {
			return nil, nil
		}
		if source == "gold-db" {
			return itemsN("gold", "Kick", 4), nil
		}
		return itemsN("full", "Kick", 20), nil
	}}
	sel := newTestSelector(t, f)

	batch, err := sel.ListUnused(context.Background(), BassDrum, 10, nil)
	require.NoError(t, err)
	require.Len(t, batch.Items, 10)
	assert.Equal(t, 10, batch.TotalAvailable)
	assert.Equal(t, 10, batch.QuotaRequested)
	assert.False(t, batch.Depleted)

	ids := map[string]bool{}
	sources := map[string]int{}
	for _, s := range batch.Items {
		assert.False(t, ids[s.ID()])
		ids[s.ID()] = true
		sources[s.Source]++
	}
	assert.Equal(t, map[string]int{"gold-db": 4, "full-db": 6}, sources)
}

func TestSelectorSkipsSecondaryWhenPrimarySuffices(t *testing.T) {
	f := &fakeFetcher{pages: func(_, kind string, page int) ([]catalog.Item, error) {
		if page > 1 {
			return nil, nil
		}
		return itemsN(kind, kind, 30), nil
	}}
	sel := newTestSelector(t, f)

	batch, err := sel.ListUnused(context.Background(), Snare, 10, nil)
	require.NoError(t, err)
	assert.Len(t, batch.Items, 10)
	assert.Empty(t, f.callsFor("full-db"))
}

func TestSelectorBroadStageReclassifies(t *testing.T) {
	f := &fakeFetcher{pages: func(source, kind string, page int) ([]catalog.Item, error) {
		if page > 1 {
			return nil, nil
		}
		if source == "full-db" && kind == "Hi Tom" {
			return []catalog.Item{item("misfiled-kick.wav", "Kick (Layered)"), item("tom.wav", "Hi Tom")}, nil
		}
		return nil, nil
	}}
	sel := newTestSelector(t, f)

	batch, err := sel.ListUnused(context.Background(), BassDrum, 5, nil)
	require.NoError(t, err)
	require.Len(t, batch.Items, 1)
	assert.Equal(t, "misfiled-kick.wav", batch.Items[0].Filename)
	assert.Equal(t, BassDrum, batch.Items[0].DrumType())
}

func TestSelectorBroadStageSharesBudget(t *testing.T) {
	bassKinds := map[string]bool{}
	for _, k := range BassDrum.Kinds() {
		bassKinds[k] = true
	}
	f := &fakeFetcher{pages: func(source, kind string, page int) ([]catalog.Item, error) {
		if source == "gold-db" && kind == "Snare" && page == 1 {
			return itemsN("snare", "Snare", 200), nil
		}
		return nil, nil
	}}
	sel := newTestSelector(t, f)

	batch, err := sel.ListUnused(context.Background(), BassDrum, 5, nil)
	require.NoError(t, err)
	assert.True(t, batch.Depleted)

	// gold-db exhausted the 200-item budget, so full-db is only asked for
	// bass drum kinds by the secondary stage.
	for _, c := range f.callsFor("full-db") {
		assert.True(t, bassKinds[c.Kind], "unexpected full-db request for %q", c.Kind)
	}
}

func TestSelectorDepleted(t *testing.T) {
	f := &fakeFetcher{pages: func(source, kind string, page int) ([]catalog.Item, error) {
		if page > 1 || kind != "Mid Tom" {
			return nil, nil
		}
		return []catalog.Item{item("m.wav", "Mid Tom")}, nil
	}}
	sel := newTestSelector(t, f)

	used := NewUsedKeys(catalog.PrimarySourceName)
	used.Add("gold-db|acoustic_drums", "m.wav")
	used.Add("full-db|acoustic_drums", "m.wav")

	batch, err := sel.ListUnused(context.Background(), MidTom, 3, used)
	require.NoError(t, err)
	assert.Empty(t, batch.Items)
	assert.True(t, batch.Depleted)
	assert.Zero(t, batch.TotalAvailable)
}

func TestSelectorRejectsBadInput(t *testing.T) {
	sel := newTestSelector(t, &fakeFetcher{pages: func(string, string, int) ([]catalog.Item, error) { return nil, nil }})

	_, err := sel.ListUnused(context.Background(), "cowbell", 1, nil)
	assert.Error(t, err)
	_, err = sel.ListUnused(context.Background(), Snare, 0, nil)
	assert.Error(t, err)

	_, err = NewSelector(nil, testRegistry(t), SelectorOptions{Secondary: "nope"})
	assert.ErrorIs(t, err, catalog.ErrUnknownSource)
}

func TestCustomStages(t *testing.T) {
	var ran []string
	stage := func(name string, n int, applies func(int, int) bool) Stage {
		return Stage{
			Name:    name,
			Applies: applies,
			Run: func(_ context.Context, req StageRequest) []Sample {
				ran = append(ran, fmt.Sprintf("%s:%d/%d", name, req.Have, req.Needed))
				out := make([]Sample, n)
				for i := range out {
					out[i] = Sample{Source: name, Dataset: "d", Filename: fmt.Sprintf("%d.wav", i)}
				}
				return out
			},
		}
	}
	sel, err := NewSelector(nil, testRegistry(t), SelectorOptions{
		Shuffle: noShuffle,
		Stages: []Stage{
			stage("one", 2, Short),
			stage("two", 5, Short),
			stage("three", 1, Short),
			stage("last", 1, Empty),
		},
	})
	require.NoError(t, err)

	batch, err := sel.ListUnused(context.Background(), HighTom, 4, nil)
	require.NoError(t, err)
	assert.Len(t, batch.Items, 4)
	assert.Equal(t, []string{"one:0/4", "two:2/2"}, ran)
}

func TestClassify(t *testing.T) {
	tests := map[string]DrumType{
		"Kick":         BassDrum,
		"bass drum":    BassDrum,
		"Snare + Clap": Snare,
		"Snare Kick":   Snare,
		"Floor Tom":    LowTom,
		" low tom ":    LowTom,
		"Mid Tom":      MidTom,
		"High Tom":     HighTom,
		"Hi Tom":       HighTom,
		"Cowbell":      Other,
		"":             Other,
	}
	for kind, want := range tests {
		assert.Equal(t, want, Classify(kind), kind)
	}
}

func TestKinds(t *testing.T) {
	all := AllKinds()
	assert.Len(t, all, 10)
	assert.IsIncreasing(t, all)
	for _, d := range DrumTypes() {
		for _, k := range d.Kinds() {
			assert.Equal(t, d, Classify(k), k)
		}
	}

	_, err := ParseDrumType("kick")
	assert.Error(t, err)
	d, err := ParseDrumType("low_tom")
	require.NoError(t, err)
	assert.Equal(t, LowTom, d)
}

func TestSamplePresentation(t *testing.T) {
	s := newSample("full-db", catalog.Item{
		"Filename":  "x.wav",
		"Kind":      "Snare",
		"dataset":   "acoustic",
		"audio_url": "https://cdn/x.wav",
		"Genres":    "Rock, Jazz ,",
		"Free Tags": []any{"tight", " "},
		"Velocity":  "hard",
	})

	assert.Equal(t, "full-db|acoustic:x.wav", s.ID())
	assert.Equal(t, "full-db|acoustic", s.EncodedDataset())
	assert.Equal(t, "https://cdn/x.wav", s.AudioURL())
	assert.Equal(t, Snare, s.DrumType())

	tags := s.PromptTags()
	assert.NotContains(t, tags, "audio_url")
	assert.NotContains(t, tags, "dataset")
	assert.Equal(t, []string{"Rock", "Jazz"}, tags["Genres"])
	assert.Equal(t, []string{"tight"}, tags["Free Tags"])
	assert.NotContains(t, tags, "Process")
	assert.Equal(t, "hard", tags["Velocity"])

	modelJSON := s.ModelJSON()
	assert.Equal(t, "acoustic", modelJSON["dataset"])
	assert.Equal(t, []string{"Rock", "Jazz"}, modelJSON["Genres"])
	assert.Equal(t, "Rock, Jazz ,", s.Item["Genres"], "source item is not mutated")
}

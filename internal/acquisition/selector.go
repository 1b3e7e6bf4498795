package acquisition

import (
	"context"
	"fmt"
	"math/rand/v2"

	"go.uber.org/zap"

	"github.com/drumbench/drumbench/internal/catalog"
	"github.com/drumbench/drumbench/internal/constants"
)

// Tuning holds the over-fetch policy. The defaults were tuned empirically
// against the production catalogs.
type Tuning struct {
	PrimaryFactor   int
	SecondaryFactor int
	MinBudget       int
}

// DefaultTuning returns the stock over-fetch policy.
func DefaultTuning() Tuning {
	return Tuning{
		PrimaryFactor:   constants.PrimaryOverFetchFactor,
		SecondaryFactor: constants.SecondaryOverFetchFactor,
		MinBudget:       constants.MinFetchBudget,
	}
}

func (t Tuning) budget(factor, n int) int {
	return max(n*factor, t.MinBudget)
}

// StageRequest is what a stage sees of the running selection.
type StageRequest struct {
	DrumType DrumType
	Quota    int
	Have     int
	Needed   int
	Used     UsedSet
}

// Stage is one step of the fallback cascade. Applies decides from the
// running count whether the stage runs; Run returns candidate samples which
// the selector deduplicates and caps.
type Stage struct {
	Name    string
	Applies func(have, quota int) bool
	Run     func(ctx context.Context, req StageRequest) []Sample
}

// Short runs a stage while the quota is unmet.
func Short(have, quota int) bool { return have < quota }

// Empty runs a stage only when nothing has been found yet.
func Empty(have, _ int) bool { return have == 0 }

// Batch is the result of one selection.
type Batch struct {
	Items          []Sample
	TotalAvailable int
	QuotaRequested int
	Remaining      int
	Depleted       bool
}

// SelectorOptions configures a Selector.
type SelectorOptions struct {
	Tuning Tuning
	// Secondary names the fallback source; empty disables the second stage.
	Secondary string
	// Stages replaces the default cascade.
	Stages []Stage
	// Shuffle randomizes presentation order; nil uses math/rand/v2.
	Shuffle func(n int, swap func(i, j int))
	Logger  *zap.Logger
}

// Selector runs the staged cascade across sources.
type Selector struct {
	agg     *Aggregator
	reg     *catalog.Registry
	tuning  Tuning
	stages  []Stage
	shuffle func(n int, swap func(i, j int))
	logger  *zap.Logger
}

// NewSelector builds a selector over the registry's primary source and the
// named secondary.
func NewSelector(agg *Aggregator, reg *catalog.Registry, opts SelectorOptions) (*Selector, error) {
	if opts.Tuning == (Tuning{}) {
		opts.Tuning = DefaultTuning()
	}
	if opts.Shuffle == nil {
		opts.Shuffle = rand.Shuffle
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Selector{
		agg:     agg,
		reg:     reg,
		tuning:  opts.Tuning,
		shuffle: opts.Shuffle,
		logger:  opts.Logger.Named("selector"),
	}

	if opts.Stages != nil {
		s.stages = opts.Stages
		return s, nil
	}

	var secondary *catalog.Source
	if opts.Secondary != "" {
		src, ok := reg.Lookup(opts.Secondary)
		if !ok {
			return nil, fmt.Errorf("acquisition: secondary %w: %s", catalog.ErrUnknownSource, opts.Secondary)
		}
		if src.Name != reg.Primary().Name {
			secondary = &src
		}
	}
	s.stages = s.defaultStages(secondary)
	return s, nil
}

func (s *Selector) defaultStages(secondary *catalog.Source) []Stage {
	primary := s.reg.Primary()
	broad := []catalog.Source{primary}

	stages := []Stage{{
		Name:    "primary",
		Applies: Short,
		Run: func(ctx context.Context, req StageRequest) []Sample {
			return s.agg.Fetch(ctx, primary, req.DrumType.Kinds(), s.tuning.budget(s.tuning.PrimaryFactor, req.Quota), req.Used)
		},
	}}
	if secondary != nil {
		src := *secondary
		broad = append(broad, src)
		stages = append(stages, Stage{
			Name:    "secondary",
			Applies: Short,
			Run: func(ctx context.Context, req StageRequest) []Sample {
				return s.agg.Fetch(ctx, src, req.DrumType.Kinds(), s.tuning.budget(s.tuning.SecondaryFactor, req.Needed), req.Used)
			},
		})
	}
	stages = append(stages, Stage{
		Name:    "broad",
		Applies: Empty,
		Run: func(ctx context.Context, req StageRequest) []Sample {
			return s.broadSearch(ctx, broad, req)
		},
	})
	return stages
}

// broadSearch re-queries the sources in order across all known kinds and
// keeps the items whose kind reclassifies to the requested drum type. The
// sources share a single fetch budget.
func (s *Selector) broadSearch(ctx context.Context, sources []catalog.Source, req StageRequest) []Sample {
	kinds := AllKinds()
	budget := s.tuning.budget(s.tuning.PrimaryFactor, req.Quota)

	var typed []Sample
	for _, src := range sources {
		if budget <= 0 || ctx.Err() != nil {
			break
		}
		samples := s.agg.Fetch(ctx, src, kinds, budget, req.Used)
		budget -= len(samples)
		for _, sample := range samples {
			if sample.DrumType() == req.DrumType {
				typed = append(typed, sample)
			}
		}
	}
	return typed
}

// ListUnused returns up to quota unused samples of drumType. An empty batch
// with Depleted set means the category is exhausted; that is not an error.
func (s *Selector) ListUnused(ctx context.Context, drumType DrumType, quota int, used UsedSet) (*Batch, error) {
	if _, err := ParseDrumType(string(drumType)); err != nil {
		return nil, err
	}
	if quota <= 0 {
		return nil, fmt.Errorf("acquisition: quota must be positive, got %d", quota)
	}

	var results []Sample
	ids := make(map[string]struct{})
	for _, stage := range s.stages {
		if !stage.Applies(len(results), quota) {
			continue
		}
		candidates := stage.Run(ctx, StageRequest{
			DrumType: drumType,
			Quota:    quota,
			Have:     len(results),
			Needed:   quota - len(results),
			Used:     used,
		})
		before := len(results)
		results = appendUnused(results, ids, candidates, used, quota)
		s.logger.Debug("stage complete",
			zap.String("stage", stage.Name),
			zap.String("drum_type", string(drumType)),
			zap.Int("candidates", len(candidates)),
			zap.Int("added", len(results)-before),
		)
	}

	s.shuffle(len(results), func(i, j int) { results[i], results[j] = results[j], results[i] })
	selected := results[:min(len(results), quota)]
	return &Batch{
		Items:          selected,
		TotalAvailable: len(results),
		QuotaRequested: quota,
		Remaining:      len(results) - len(selected),
		Depleted:       len(results) == 0,
	}, nil
}

// appendUnused adds candidates not already selected and not used, stopping
// once quota is reached.
func appendUnused(results []Sample, ids map[string]struct{}, candidates []Sample, used UsedSet, quota int) []Sample {
	for _, sample := range candidates {
		if len(results) >= quota {
			break
		}
		if sample.Filename == "" || isUsed(used, sample.Key()) {
			continue
		}
		id := sample.ID()
		if _, dup := ids[id]; dup {
			continue
		}
		ids[id] = struct{}{}
		results = append(results, sample)
	}
	return results
}

package acquisition

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/drumbench/drumbench/internal/catalog"
	"github.com/drumbench/drumbench/internal/constants"
	"github.com/drumbench/drumbench/internal/labels"
)

// PageFetcher returns one page of raw catalog items.
type PageFetcher interface {
	FetchPage(ctx context.Context, src catalog.Source, kind string, page, perPage int) ([]catalog.Item, error)
}

// AggregatorOptions tunes pagination. Zero values take the package defaults.
type AggregatorOptions struct {
	PageSize   int
	StallLimit int
	Logger     *zap.Logger
}

// Aggregator pages through one source per call and returns deduplicated,
// playable, unused samples.
type Aggregator struct {
	fetcher    PageFetcher
	pageSize   int
	stallLimit int
	logger     *zap.Logger
}

func NewAggregator(fetcher PageFetcher, opts AggregatorOptions) *Aggregator {
	if opts.PageSize <= 0 {
		opts.PageSize = constants.CatalogPageSize
	}
	if opts.StallLimit <= 0 {
		opts.StallLimit = constants.StalledPageLimit
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Aggregator{
		fetcher:    fetcher,
		pageSize:   opts.PageSize,
		stallLimit: opts.StallLimit,
		logger:     opts.Logger.Named("aggregator"),
	}
}

// Fetch pages through src for each kind in turn and returns at most budget
// samples; budget <= 0 means unbounded. For each kind, pagination stops on a
// short page, after StallLimit consecutive pages that contribute nothing, or
// on a request failure. Reaching the budget ends the whole fetch. used may
// be nil.
func (a *Aggregator) Fetch(ctx context.Context, src catalog.Source, kinds []string, budget int, used UsedSet) []Sample {
	var out []Sample
	seen := make(map[Key]struct{})
	log := a.logger.With(zap.String("source", src.Name))

	for _, kind := range kinds {
		stalled := 0
		for page := 1; ; page++ {
			if ctx.Err() != nil {
				return out
			}
			items, err := a.fetcher.FetchPage(ctx, src, kind, page, a.pageSize)
			if err != nil {
				log.Warn("catalog page failed, skipping kind",
					zap.String("kind", kind), zap.Int("page", page), zap.Error(err))
				break
			}
			if len(items) == 0 {
				break
			}

			added := 0
			for _, item := range items {
				if !a.playable(src, item) {
					continue
				}
				sample := newSample(src.Name, item)
				if sample.Filename == "" {
					continue
				}
				key := sample.Key()
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				if isUsed(used, key) {
					continue
				}
				out = append(out, sample)
				added++
				if budget > 0 && len(out) >= budget {
					return out
				}
			}

			if added == 0 {
				stalled++
				if stalled >= a.stallLimit {
					log.Debug("kind stalled", zap.String("kind", kind), zap.Int("page", page))
					break
				}
			} else {
				stalled = 0
			}
			if len(items) < a.pageSize {
				break
			}
		}
	}
	return out
}

func (a *Aggregator) playable(src catalog.Source, item catalog.Item) bool {
	if src.Excludes(item.String("_dataset")) {
		return false
	}
	for field := range item {
		reserved, ok := labels.ReservedOption(field)
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(item.String(field)), reserved) {
			return false
		}
	}
	return true
}

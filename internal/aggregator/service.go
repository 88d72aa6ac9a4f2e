package aggregator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"market-aggregator-api/internal/adapters"
	"market-aggregator-api/internal/fallback"
	"market-aggregator-api/internal/models"
	"market-aggregator-api/internal/queryvar"
	"market-aggregator-api/pkg/cache"
)

// ContractViolation is the only user-visible error class: the caller broke
// the aggregate call's contract. Everything source-side is absorbed.
type ContractViolation struct {
	Reason string
}

func (e *ContractViolation) Error() string {
	return "contract violation: " + e.Reason
}

// SourceRegistry resolves source names to adapters.
type SourceRegistry interface {
	Lookup(name string) (adapters.SourceAdapter, bool)
	Names() []string
}

// ResultCache is the partitioned per-source store the orchestrator reads
// before fanning out and writes after each source settles.
type ResultCache interface {
	Get(ctx context.Context, query string, sources []string) (map[string][]models.Product, []string)
	Put(ctx context.Context, query, source string, products []models.Product) error
}

// Options tunes the orchestrator.
type Options struct {
	// MaxConcurrentSources bounds in-flight source tasks.
	MaxConcurrentSources int
	// AggregateTimeout bounds the whole fan-out; stragglers are replaced
	// with fallback data but keep running to populate the cache.
	AggregateTimeout time.Duration
	// QueryVariations is how many related queries each source receives.
	QueryVariations int
}

// Service is the aggregation orchestrator: cache lookup, bounded parallel
// fan-out over uncached sources, merge, dedup, filter, sort. Individual
// source failure never fails the aggregate.
type Service struct {
	registry SourceRegistry
	cache    ResultCache
	synth    *fallback.Synthesizer
	queryGen *queryvar.Generator
	validate *validator.Validate
	pool     *ants.Pool
	flight   singleflight.Group
	opts     Options
}

func NewService(registry SourceRegistry, store ResultCache, opts Options) (*Service, error) {
	if opts.MaxConcurrentSources <= 0 {
		opts.MaxConcurrentSources = 4
	}
	if opts.AggregateTimeout <= 0 {
		opts.AggregateTimeout = 90 * time.Second
	}
	if opts.QueryVariations <= 0 {
		opts.QueryVariations = 3
	}

	pool, err := ants.NewPool(opts.MaxConcurrentSources)
	if err != nil {
		return nil, err
	}

	return &Service{
		registry: registry,
		cache:    store,
		synth:    fallback.NewSynthesizer(),
		queryGen: queryvar.NewGenerator(),
		validate: validator.New(),
		pool:     pool,
		opts:     opts,
	}, nil
}

func (s *Service) Close() {
	if s.pool != nil {
		s.pool.Release()
	}
}

// Validate checks the caller's contract before any fetching begins. It
// never silently corrects bad input.
func (s *Service) Validate(query string, filters models.SearchFilters, sources []string) error {
	if strings.TrimSpace(query) == "" {
		return &ContractViolation{Reason: "query cannot be empty"}
	}
	if err := s.validate.Struct(filters); err != nil {
		return &ContractViolation{Reason: err.Error()}
	}
	if filters.MinPrice > 0 && filters.MaxPrice > 0 && filters.MinPrice > filters.MaxPrice {
		return &ContractViolation{Reason: fmt.Sprintf("minPrice %.2f exceeds maxPrice %.2f", filters.MinPrice, filters.MaxPrice)}
	}
	for _, src := range sources {
		if _, ok := s.registry.Lookup(src); !ok {
			return &ContractViolation{Reason: fmt.Sprintf("unknown source %q", src)}
		}
	}
	return nil
}

type rawAggregate struct {
	products  []models.Product
	fromCache []string
}

// Aggregate runs one aggregation: validate, partial cache lookup, fan out
// to uncached sources, merge, dedup, filter, sort. The returned fromCache
// names which sources were served from cache.
func (s *Service) Aggregate(ctx context.Context, query string, filters models.SearchFilters, sources []string) ([]models.Product, []string, error) {
	if len(sources) == 0 {
		sources = s.registry.Names()
	}
	if err := s.Validate(query, filters, sources); err != nil {
		return nil, nil, err
	}

	raw, err := s.rawResults(ctx, query, filters.SortBy, sources)
	if err != nil {
		return nil, nil, err
	}

	products := Dedup(raw.products)
	products = ApplyFilters(products, filters)
	ApplySort(products, filters.SortBy)

	return products, raw.fromCache, nil
}

// rawResults is collapsed via singleflight so concurrent identical requests
// share one fan-out. Filters are applied per caller afterwards; the raw set
// is filter-independent by design.
func (s *Service) rawResults(ctx context.Context, query, sortBy string, sources []string) (rawAggregate, error) {
	key := flightKey(query, sortBy, sources)

	v, err, shared := s.flight.Do(key, func() (interface{}, error) {
		return s.fanOut(ctx, query, sortBy, sources), nil
	})
	if err != nil {
		return rawAggregate{}, err
	}
	if shared {
		zap.S().Debugw("aggregation shared via singleflight", "key", key)
	}
	return v.(rawAggregate), nil
}

func flightKey(query, sortBy string, sources []string) string {
	sorted := make([]string, len(sources))
	copy(sorted, sources)
	sort.Strings(sorted)
	return cache.NormalizeQuery(query) + "|" + sortBy + "|" + strings.Join(sorted, ",")
}

type sourceResult struct {
	source   string
	products []models.Product
}

func (s *Service) fanOut(ctx context.Context, query, sortBy string, sources []string) rawAggregate {
	slices, covered := s.cache.Get(ctx, query, sources)
	coveredSet := make(map[string]bool, len(covered))
	for _, src := range covered {
		coveredSet[src] = true
	}

	var missing []string
	for _, src := range sources {
		if !coveredSet[src] {
			missing = append(missing, src)
		}
	}

	zap.S().Infow("aggregation fan-out",
		"query", query, "cached", covered, "fetching", missing)

	if len(missing) > 0 {
		results := make(chan sourceResult, len(missing))

		timer := time.NewTimer(s.opts.AggregateTimeout)
		defer timer.Stop()

		// Submit blocks when the pool is saturated, so submission runs
		// beside the collection loop under the same deadline.
		go func() {
			for _, src := range missing {
				src := src
				// Detached from the caller so an abandoned request still
				// finishes and populates the cache for the next caller.
				taskCtx := context.WithoutCancel(ctx)

				if err := s.pool.Submit(func() {
					results <- sourceResult{source: src, products: s.fetchSource(taskCtx, src, query, sortBy)}
				}); err != nil {
					zap.S().Warnw("failed to submit source task", "source", src, "err", err)
					results <- sourceResult{source: src, products: s.synth.Synthesize(query, src)}
				}
			}
		}()

		settled := 0
	collect:
		for settled < len(missing) {
			select {
			case r := <-results:
				slices[r.source] = r.products
				settled++
			case <-timer.C:
				zap.S().Warnw("aggregate timeout, substituting fallback for stragglers",
					"settled", settled, "total", len(missing))
				break collect
			case <-ctx.Done():
				// Caller abandoned the request; tasks finish on their own.
				break collect
			}
		}

		// Stragglers and abandoned slots get deterministic synthetic data
		// so the caller never sees a hole where a source should be.
		for _, src := range missing {
			if _, ok := slices[src]; !ok {
				slices[src] = s.synth.Synthesize(query, src)
			}
		}
	}

	return rawAggregate{
		products:  Merge(sources, slices),
		fromCache: covered,
	}
}

// fetchSource runs one source task: query variations, adapter search, cache
// write. Adapters already absorb ordinary failures into fallback data; an
// error here means a programming/contract problem, still absorbed at this
// boundary because one source must never fail the aggregate.
func (s *Service) fetchSource(ctx context.Context, source, query, sortBy string) (out []models.Product) {
	defer func() {
		if r := recover(); r != nil {
			zap.S().Errorw("source task panic recovered", "source", source, "panic", r)
			out = s.synth.Synthesize(query, source)
		}
	}()

	adapter, ok := s.registry.Lookup(source)
	if !ok {
		return s.synth.Synthesize(query, source)
	}

	variations := s.queryGen.Variations(query, sortBy, s.opts.QueryVariations)

	products, err := adapter.Search(ctx, query, variations)
	if err != nil {
		zap.S().Errorw("adapter contract error", "source", source, "err", err)
		products = s.synth.Synthesize(query, source)
	}
	if products == nil {
		products = make([]models.Product, 0)
	}

	// Cache write failures cost latency on the next call, not correctness.
	if err := s.cache.Put(ctx, query, source, products); err != nil {
		zap.S().Debugw("cache write skipped", "source", source, "err", err)
	}

	return products
}

// Details resolves a single product via the owning adapter, when supported.
func (s *Service) Details(ctx context.Context, source, productURL string) (*models.ProductDetails, error) {
	adapter, ok := s.registry.Lookup(source)
	if !ok {
		return nil, &ContractViolation{Reason: fmt.Sprintf("unknown source %q", source)}
	}
	fetcher, ok := adapter.(adapters.DetailFetcher)
	if !ok {
		return nil, &ContractViolation{Reason: fmt.Sprintf("source %q does not support details", source)}
	}
	return fetcher.GetDetails(ctx, productURL)
}

// Reviews pages a product's reviews via the owning adapter, when supported.
func (s *Service) Reviews(ctx context.Context, source, productURL string, page int) ([]models.Review, error) {
	adapter, ok := s.registry.Lookup(source)
	if !ok {
		return nil, &ContractViolation{Reason: fmt.Sprintf("unknown source %q", source)}
	}
	fetcher, ok := adapter.(adapters.ReviewFetcher)
	if !ok {
		return nil, &ContractViolation{Reason: fmt.Sprintf("source %q does not support reviews", source)}
	}
	return fetcher.GetReviews(ctx, productURL, page)
}

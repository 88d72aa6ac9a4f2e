package aggregator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"market-aggregator-api/internal/adapters"
	"market-aggregator-api/internal/fallback"
	"market-aggregator-api/internal/models"
)

type stubAdapter struct {
	name string
	fn   func(ctx context.Context, query string, variations []string) ([]models.Product, error)

	mu    sync.Mutex
	calls int
}

func (a *stubAdapter) Name() string { return a.name }

func (a *stubAdapter) Descriptor() adapters.Descriptor {
	return adapters.Descriptor{Name: a.name}
}

func (a *stubAdapter) Search(ctx context.Context, query string, variations []string) ([]models.Product, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	return a.fn(ctx, query, variations)
}

func (a *stubAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type stubRegistry struct {
	order    []string
	adapters map[string]*stubAdapter
}

func newStubRegistry(stubs ...*stubAdapter) *stubRegistry {
	r := &stubRegistry{adapters: make(map[string]*stubAdapter)}
	for _, s := range stubs {
		r.order = append(r.order, s.name)
		r.adapters[s.name] = s
	}
	return r
}

func (r *stubRegistry) Lookup(name string) (adapters.SourceAdapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

func (r *stubRegistry) Names() []string { return r.order }

type stubCache struct {
	mu      sync.Mutex
	entries map[string][]models.Product
	puts    int
}

func newStubCache() *stubCache {
	return &stubCache{entries: make(map[string][]models.Product)}
}

func (c *stubCache) seed(source string, products []models.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[source] = products
}

func (c *stubCache) Get(ctx context.Context, query string, sources []string) (map[string][]models.Product, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	results := make(map[string][]models.Product)
	var covered []string
	for _, src := range sources {
		if products, ok := c.entries[src]; ok {
			results[src] = products
			covered = append(covered, src)
		}
	}
	return results, covered
}

func (c *stubCache) Put(ctx context.Context, query, source string, products []models.Product) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[source] = products
	c.puts++
	return nil
}

func (c *stubCache) putCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.puts
}

func returning(products ...models.Product) func(context.Context, string, []string) ([]models.Product, error) {
	return func(context.Context, string, []string) ([]models.Product, error) {
		return products, nil
	}
}

func listing(id, title, platform string, price float64) models.Product {
	return models.Product{
		ID:         id,
		Title:      title,
		Platform:   platform,
		Price:      price,
		ProductURL: "https://example.com/" + id,
		Source:     models.SourceDOMExtraction,
	}
}

func testOptions() Options {
	return Options{MaxConcurrentSources: 4, AggregateTimeout: 10 * time.Second, QueryVariations: 2}
}

func TestAggregatePartialCacheHitFetchesOnlyMissing(t *testing.T) {
	lazada := &stubAdapter{name: "lazada", fn: returning(listing("l1", "Laptop A", "lazada", 100))}
	shopee := &stubAdapter{name: "shopee", fn: returning(listing("s1", "Laptop B", "shopee", 200))}
	tokopedia := &stubAdapter{name: "tokopedia", fn: returning(listing("t1", "Laptop C", "tokopedia", 300))}

	store := newStubCache()
	store.seed("lazada", []models.Product{listing("cl1", "Cached A", "lazada", 90)})
	store.seed("shopee", []models.Product{listing("cs1", "Cached B", "shopee", 190)})

	svc, err := NewService(newStubRegistry(lazada, shopee, tokopedia), store, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()

	products, fromCache, err := svc.Aggregate(context.Background(), "laptop", models.SearchFilters{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if lazada.callCount() != 0 || shopee.callCount() != 0 {
		t.Error("cached sources must not be fetched")
	}
	if tokopedia.callCount() != 1 {
		t.Errorf("tokopedia fetched %d times, want 1", tokopedia.callCount())
	}

	if len(fromCache) != 2 {
		t.Errorf("fromCache = %v, want lazada and shopee", fromCache)
	}
	if len(products) != 3 {
		t.Errorf("got %d products, want 3", len(products))
	}
}

func TestAggregateFullyCachedSkipsAllFetching(t *testing.T) {
	lazada := &stubAdapter{name: "lazada", fn: returning(listing("l1", "A", "lazada", 1))}

	store := newStubCache()
	store.seed("lazada", []models.Product{listing("cl1", "Cached", "lazada", 5)})

	svc, err := NewService(newStubRegistry(lazada), store, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()

	products, fromCache, err := svc.Aggregate(context.Background(), "laptop", models.SearchFilters{}, []string{"lazada"})
	if err != nil {
		t.Fatal(err)
	}
	if lazada.callCount() != 0 {
		t.Error("fully cached request must not fetch")
	}
	if store.putCount() != 0 {
		t.Error("fully cached request must not write the cache")
	}
	if len(fromCache) != 1 || fromCache[0] != "lazada" {
		t.Errorf("fromCache = %v", fromCache)
	}
	if len(products) != 1 || products[0].Title != "Cached" {
		t.Errorf("products = %v", products)
	}
}

func TestAggregateFailingSourceYieldsFallbackAlongsideRealData(t *testing.T) {
	good := &stubAdapter{name: "tokopedia", fn: returning(listing("t1", "Real Laptop", "tokopedia", 300))}
	bad := &stubAdapter{name: "lazada", fn: func(context.Context, string, []string) ([]models.Product, error) {
		return nil, errors.New("session crashed")
	}}

	svc, err := NewService(newStubRegistry(good, bad), newStubCache(), testOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()

	products, _, err := svc.Aggregate(context.Background(), "laptop", models.SearchFilters{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	var real, synthetic int
	for _, p := range products {
		switch p.Source {
		case models.SourceFallback:
			synthetic++
		default:
			real++
		}
	}
	if real != 1 {
		t.Errorf("real products = %d, want 1", real)
	}
	if synthetic == 0 {
		t.Error("failed source should contribute fallback products")
	}

	expected := Dedup(fallback.NewSynthesizer().Synthesize("laptop", "lazada"))
	var fallbackIDs []string
	for _, p := range products {
		if p.Source == models.SourceFallback {
			fallbackIDs = append(fallbackIDs, p.ID)
		}
	}
	if len(fallbackIDs) != len(expected) || fallbackIDs[0] != expected[0].ID {
		t.Error("fallback substitution should be deterministic per (query, source)")
	}
}

func TestAggregatePanickingAdapterIsAbsorbed(t *testing.T) {
	boom := &stubAdapter{name: "shopee", fn: func(context.Context, string, []string) ([]models.Product, error) {
		panic("selector cascade touched nil document")
	}}

	svc, err := NewService(newStubRegistry(boom), newStubCache(), testOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()

	products, _, err := svc.Aggregate(context.Background(), "laptop", models.SearchFilters{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(products) == 0 {
		t.Fatal("panic should degrade to fallback data, not an empty result")
	}
	for _, p := range products {
		if p.Source != models.SourceFallback {
			t.Errorf("product %q source = %q, want fallback", p.ID, p.Source)
		}
	}
}

func TestAggregateWritesFetchedSourcesToCache(t *testing.T) {
	lazada := &stubAdapter{name: "lazada", fn: returning(listing("l1", "A", "lazada", 1))}
	store := newStubCache()

	svc, err := NewService(newStubRegistry(lazada), store, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()

	if _, _, err := svc.Aggregate(context.Background(), "laptop", models.SearchFilters{}, nil); err != nil {
		t.Fatal(err)
	}
	if store.putCount() != 1 {
		t.Errorf("cache puts = %d, want 1", store.putCount())
	}

	// Second identical request is served from cache.
	if _, fromCache, err := svc.Aggregate(context.Background(), "laptop", models.SearchFilters{}, nil); err != nil {
		t.Fatal(err)
	} else if len(fromCache) != 1 {
		t.Errorf("second call fromCache = %v, want lazada", fromCache)
	}
	if lazada.callCount() != 1 {
		t.Errorf("adapter calls = %d, want 1", lazada.callCount())
	}
}

func TestAggregateContractViolations(t *testing.T) {
	lazada := &stubAdapter{name: "lazada", fn: returning()}

	svc, err := NewService(newStubRegistry(lazada), newStubCache(), testOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()

	tests := []struct {
		name    string
		query   string
		filters models.SearchFilters
		sources []string
	}{
		{"empty query", "   ", models.SearchFilters{}, nil},
		{"inverted price range", "laptop", models.SearchFilters{MinPrice: 500, MaxPrice: 100}, nil},
		{"negative price", "laptop", models.SearchFilters{MinPrice: -1}, nil},
		{"bad sort order", "laptop", models.SearchFilters{SortBy: "cheapest"}, nil},
		{"unknown source", "laptop", models.SearchFilters{}, []string{"amazon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Aggregate(context.Background(), tt.query, tt.filters, tt.sources)
			var cv *ContractViolation
			if !errors.As(err, &cv) {
				t.Errorf("error = %v, want ContractViolation", err)
			}
		})
	}

	if lazada.callCount() != 0 {
		t.Error("contract violations must be rejected before any fetching")
	}
}

func TestAggregateFiltersAndSorts(t *testing.T) {
	lazada := &stubAdapter{name: "lazada", fn: returning(
		listing("l1", "Samsung Galaxy A54", "lazada", 4_000_000),
		listing("l2", "Samsung Galaxy S24", "lazada", 13_000_000),
		listing("l3", "Casing Samsung", "lazada", 50_000),
	)}

	svc, err := NewService(newStubRegistry(lazada), newStubCache(), testOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()

	filters := models.SearchFilters{MinPrice: 1_000_000, SortBy: models.SortPriceDesc}
	products, _, err := svc.Aggregate(context.Background(), "samsung", filters, nil)
	if err != nil {
		t.Fatal(err)
	}

	if len(products) != 2 {
		t.Fatalf("got %d products, want 2", len(products))
	}
	if products[0].Price < products[1].Price {
		t.Error("products not sorted price descending")
	}
}

func TestAggregateDeduplicates(t *testing.T) {
	lazada := &stubAdapter{name: "lazada", fn: returning(
		listing("l1", "Sepatu Lari X", "lazada", 100),
		listing("l2", "sepatu lari x", "lazada", 120),
	)}

	svc, err := NewService(newStubRegistry(lazada), newStubCache(), testOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()

	products, _, err := svc.Aggregate(context.Background(), "sepatu", models.SearchFilters{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(products) != 1 {
		t.Fatalf("got %d products, want 1 after dedup", len(products))
	}
	if products[0].ID != "l1" {
		t.Errorf("kept %q, want first occurrence l1", products[0].ID)
	}
}

func TestAggregateTimeoutSubstitutesFallback(t *testing.T) {
	release := make(chan struct{})
	slow := &stubAdapter{name: "lazada", fn: func(ctx context.Context, _ string, _ []string) ([]models.Product, error) {
		<-release
		return []models.Product{listing("l1", "Too Late", "lazada", 1)}, nil
	}}

	opts := testOptions()
	opts.AggregateTimeout = 50 * time.Millisecond

	svc, err := NewService(newStubRegistry(slow), newStubCache(), opts)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		close(release)
		svc.Close()
	}()

	products, _, err := svc.Aggregate(context.Background(), "laptop", models.SearchFilters{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(products) == 0 {
		t.Fatal("timed-out source should be substituted, not omitted")
	}
	for _, p := range products {
		if p.Source != models.SourceFallback {
			t.Errorf("product %q source = %q, want fallback", p.ID, p.Source)
		}
	}
}

func TestAggregateTimeoutCoversSubmissionBacklog(t *testing.T) {
	release := make(chan struct{})
	slow := &stubAdapter{name: "lazada", fn: func(ctx context.Context, _ string, _ []string) ([]models.Product, error) {
		<-release
		return nil, nil
	}}
	fast := &stubAdapter{name: "shopee", fn: returning(listing("s1", "Quick", "shopee", 1))}

	// With one worker the second submission waits behind the wedged first
	// task, and the overall deadline has to cover that wait too.
	opts := testOptions()
	opts.MaxConcurrentSources = 1
	opts.AggregateTimeout = 100 * time.Millisecond

	svc, err := NewService(newStubRegistry(slow, fast), newStubCache(), opts)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		close(release)
		svc.Close()
	}()

	start := time.Now()
	products, _, err := svc.Aggregate(context.Background(), "laptop", models.SearchFilters{}, nil)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatal(err)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("Aggregate took %v, want bounded by the 100ms overall timeout", elapsed)
	}
	if len(products) == 0 {
		t.Fatal("timed-out sources should be substituted, not omitted")
	}
	for _, p := range products {
		if p.Source != models.SourceFallback {
			t.Errorf("product %q source = %q, want fallback", p.ID, p.Source)
		}
	}
}

func TestDetailsUnsupportedSource(t *testing.T) {
	lazada := &stubAdapter{name: "lazada", fn: returning()}

	svc, err := NewService(newStubRegistry(lazada), newStubCache(), testOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()

	if _, err := svc.Details(context.Background(), "lazada", "https://example.com/p"); err == nil {
		t.Error("adapter without detail support should error")
	}
	if _, err := svc.Details(context.Background(), "amazon", "https://example.com/p"); err == nil {
		t.Error("unknown source should error")
	}
}

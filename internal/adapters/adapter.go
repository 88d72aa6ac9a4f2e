package adapters

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"

	"market-aggregator-api/internal/diagnostics"
	"market-aggregator-api/internal/fallback"
	"market-aggregator-api/internal/models"
	"market-aggregator-api/pkg/antiblock"
	"market-aggregator-api/pkg/browser"
	"market-aggregator-api/pkg/extract"
	"market-aggregator-api/pkg/retry"
)

// SourceAdapter is the uniform contract over one external catalog. Search
// never errors for ordinary failure modes (network error, empty result,
// block page); it returns real data or a fallback-synthesized set and logs
// the failure class internally. The only error it may return is a
// contract violation on its inputs.
type SourceAdapter interface {
	Name() string
	Descriptor() Descriptor
	Search(ctx context.Context, query string, variations []string) ([]models.Product, error)
}

// DetailFetcher is implemented by adapters that can resolve a product page.
type DetailFetcher interface {
	GetDetails(ctx context.Context, productURL string) (*models.ProductDetails, error)
}

// ReviewFetcher is implemented by adapters that expose paged reviews.
type ReviewFetcher interface {
	GetReviews(ctx context.Context, productURL string, page int) ([]models.Review, error)
}

// Descriptor is the static capability description of one source, resolved
// once at startup. Call sites branch on these flags, never on ambient
// environment checks.
type Descriptor struct {
	Name                    string
	BaseURL                 string
	SearchURLFormat         string
	Domains                 []string
	RequiresRenderedSession bool
	SupportsDirectAPI       bool
	Cascade                 extract.Cascade
}

// SearchURL renders the search endpoint for a query.
func (d Descriptor) SearchURL(query string) string {
	return fmt.Sprintf(d.SearchURLFormat, strings.ReplaceAll(strings.TrimSpace(query), " ", "%20"))
}

// Deps bundles the shared collaborators injected into every adapter: one
// central retry policy, one anti-block detector, the fallback synthesizer,
// the extraction engine and the diagnostics recorder.
type Deps struct {
	Retry    *retry.Policy
	Detector *antiblock.Detector
	Synth    *fallback.Synthesizer
	Engine   *extract.Engine
	Diag     *diagnostics.Recorder
	Browser  browser.Options
}

// Registry holds the resolved adapters in a stable iteration order.
type Registry struct {
	order    []string
	adapters map[string]SourceAdapter
}

// NewRegistry wires every known source adapter.
func NewRegistry(deps Deps) *Registry {
	r := &Registry{adapters: make(map[string]SourceAdapter)}
	for _, a := range []SourceAdapter{
		NewLazadaAdapter(deps),
		NewShopeeAdapter(deps),
		NewTokopediaAdapter(deps),
		NewBlibliAdapter(deps),
		NewBukalapakAdapter(deps),
	} {
		r.order = append(r.order, a.Name())
		r.adapters[a.Name()] = a
	}
	return r
}

// Lookup returns the adapter for a source name, case-insensitively.
func (r *Registry) Lookup(name string) (SourceAdapter, bool) {
	a, ok := r.adapters[strings.ToLower(strings.TrimSpace(name))]
	return a, ok
}

// Names returns the registered source names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Descriptors returns every source's capability description in
// registration order.
func (r *Registry) Descriptors() []Descriptor {
	descs := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		descs = append(descs, r.adapters[name].Descriptor())
	}
	return descs
}

var idNode *snowflake.Node

func init() {
	var err error
	idNode, err = snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
}

// assignIDs gives scraped products unique IDs and drops anything that is not
// independently resolvable (no product URL).
func assignIDs(products []models.Product, source string) []models.Product {
	kept := make([]models.Product, 0, len(products))
	for _, p := range products {
		if p.ProductURL == "" {
			continue
		}
		if p.ID == "" {
			p.ID = fmt.Sprintf("%s_%s", source, idNode.Generate().String())
		}
		kept = append(kept, p)
	}
	return kept
}

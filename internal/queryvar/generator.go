package queryvar

import (
	"strings"

	"market-aggregator-api/internal/models"
	"market-aggregator-api/pkg/cache"
)

// Generator produces semantically related query strings so repeated calls to
// a source surface a more diverse pool than the same top-N. Most sources
// expose no stable paging cursor; issuing several related queries and
// deduplicating the union is the substitute pagination strategy.
type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

var (
	budgetModifiers  = []string{"murah", "promo", "diskon", "termurah", "second"}
	premiumModifiers = []string{"original", "premium", "official store", "garansi resmi", "high end"}
	recencyModifiers = []string{"terbaru", "new", "latest", "keluaran terbaru", "2025"}
	popularModifiers = []string{"terlaris", "best seller", "populer", "trending", "paling laku"}
	generalModifiers = []string{"murah", "original", "terbaru", "terlaris", "promo"}

	locationQualifiers = []string{"jakarta", "indonesia", "bandung", "surabaya"}
)

// Variations returns up to count related queries. The unmodified base query
// is always first; the modifier vocabulary follows the requested sort intent.
func (g *Generator) Variations(base, sortBy string, count int) []string {
	normalized := cache.NormalizeQuery(base)
	if count <= 0 {
		count = 1
	}

	variations := []string{normalized}
	seen := map[string]bool{normalized: true}

	add := func(q string) {
		if len(variations) >= count {
			return
		}
		q = cache.NormalizeQuery(q)
		if q == "" || seen[q] {
			return
		}
		seen[q] = true
		variations = append(variations, q)
	}

	for _, mod := range modifiersFor(sortBy) {
		add(normalized + " " + mod)
	}
	for _, loc := range locationQualifiers {
		add(normalized + " " + loc)
	}

	return variations
}

func modifiersFor(sortBy string) []string {
	switch strings.ToLower(sortBy) {
	case models.SortPriceAsc:
		return budgetModifiers
	case models.SortPriceDesc:
		return premiumModifiers
	case models.SortRecency:
		return recencyModifiers
	case models.SortPopularity:
		return popularModifiers
	default:
		return generalModifiers
	}
}

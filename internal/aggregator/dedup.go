package aggregator

import (
	"sort"
	"strings"

	"market-aggregator-api/internal/models"
)

// Merge flattens per-source slices in fan-out order: source iteration order
// first, within-source extraction order second. That order is the sort
// tie-break when no explicit sort is requested.
func Merge(order []string, slices map[string][]models.Product) []models.Product {
	merged := make([]models.Product, 0)
	for _, source := range order {
		merged = append(merged, slices[source]...)
	}
	return merged
}

func dedupKey(p models.Product) string {
	return strings.ToLower(strings.TrimSpace(p.Title)) + "\x00" + strings.ToLower(strings.TrimSpace(p.Platform))
}

// Dedup removes duplicates by normalized (title, platform) pair, first
// occurrence wins. Idempotent: running it twice yields the same set.
func Dedup(products []models.Product) []models.Product {
	seen := make(map[string]bool, len(products))
	result := make([]models.Product, 0, len(products))
	for _, p := range products {
		key := dedupKey(p)
		if seen[key] {
			continue
		}
		seen[key] = true
		result = append(result, p)
	}
	return result
}

// ApplyFilters keeps products matching every set filter. Filters are
// independent predicates, so application order never changes the subset.
func ApplyFilters(products []models.Product, f models.SearchFilters) []models.Product {
	filtered := make([]models.Product, 0, len(products))
	for _, p := range products {
		if f.MinPrice > 0 && p.Price < f.MinPrice {
			continue
		}
		if f.MaxPrice > 0 && p.Price > f.MaxPrice {
			continue
		}
		if f.Brand != "" && !strings.Contains(strings.ToLower(p.Title), strings.ToLower(f.Brand)) {
			continue
		}
		if f.Category != "" && !strings.Contains(strings.ToLower(p.Title), strings.ToLower(f.Category)) {
			continue
		}
		filtered = append(filtered, p)
	}
	return filtered
}

// ApplySort orders products in place. Stable, so ties keep fan-out
// insertion order; relevance (or no sort) means insertion order as-is.
func ApplySort(products []models.Product, sortBy string) {
	switch sortBy {
	case models.SortPriceAsc:
		sort.SliceStable(products, func(i, j int) bool { return products[i].Price < products[j].Price })
	case models.SortPriceDesc:
		sort.SliceStable(products, func(i, j int) bool { return products[i].Price > products[j].Price })
	case models.SortRating:
		sort.SliceStable(products, func(i, j int) bool { return products[i].Rating > products[j].Rating })
	case models.SortRecency:
		sort.SliceStable(products, func(i, j int) bool { return products[i].ScrapedAt.After(products[j].ScrapedAt) })
	case models.SortPopularity:
		sort.SliceStable(products, func(i, j int) bool { return products[i].Sales > products[j].Sales })
	case models.SortRelevance, "":
		// insertion order
	}
}

// Paginate slices one page out of the filtered set.
func Paginate(products []models.Product, page, limit int) ([]models.Product, int) {
	if limit <= 0 {
		limit = 10
	}
	if page <= 0 {
		page = 1
	}

	total := len(products)
	totalPages := (total + limit - 1) / limit

	start := (page - 1) * limit
	if start >= total {
		return []models.Product{}, totalPages
	}
	end := start + limit
	if end > total {
		end = total
	}
	return products[start:end], totalPages
}

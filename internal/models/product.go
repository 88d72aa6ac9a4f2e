package models

import (
	"time"
)

// Product is the unit of aggregation output. A product without a URL cannot
// be resolved independently and is dropped before merge.
type Product struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	Price              float64   `json:"price"`
	OriginalPrice      float64   `json:"original_price,omitempty"`
	DiscountPercentage float64   `json:"discount_percentage,omitempty"`
	ProductURL         string    `json:"product_url"`
	ImageURL           string    `json:"image_url,omitempty"`
	Platform           string    `json:"platform"`
	Rating             float64   `json:"rating,omitempty"`
	RatingCount        int       `json:"rating_count,omitempty"`
	Location           string    `json:"location,omitempty"`
	Sales              int       `json:"sales,omitempty"`
	Source             string    `json:"source"`
	ScrapedAt          time.Time `json:"scraped_at"`
}

// Provenance tags for Product.Source.
const (
	SourceDOMExtraction = "dom-extraction"
	SourcePageState     = "page-state"
	SourceAPI           = "api"
	SourceFallback      = "fallback"
)

// ProductDetails extends a Product with fields only available on detail pages.
type ProductDetails struct {
	Product
	Description string   `json:"description,omitempty"`
	Specs       []string `json:"specs,omitempty"`
	Seller      string   `json:"seller,omitempty"`
	Stock       int      `json:"stock,omitempty"`
}

type Review struct {
	Author    string    `json:"author"`
	Rating    float64   `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Sort orders accepted by SearchFilters.SortBy.
const (
	SortPriceAsc   = "price_asc"
	SortPriceDesc  = "price_desc"
	SortRating     = "rating"
	SortRecency    = "recency"
	SortPopularity = "popularity"
	SortRelevance  = "relevance"
)

// SearchFilters is applied only at the orchestration boundary so cached raw
// results stay filter-independent.
type SearchFilters struct {
	MinPrice float64 `json:"min_price,omitempty" validate:"gte=0"`
	MaxPrice float64 `json:"max_price,omitempty" validate:"gte=0"`
	Brand    string  `json:"brand,omitempty"`
	Category string  `json:"category,omitempty"`
	SortBy   string  `json:"sort_by,omitempty" validate:"omitempty,oneof=price_asc price_desc rating recency popularity relevance"`
}

type SearchParams struct {
	Query   string        `json:"query"`
	Sources []string      `json:"sources"`
	Page    int           `json:"page"`
	Limit   int           `json:"limit"`
	Filters SearchFilters `json:"filters"`
}

type SearchResponse struct {
	Query      string        `json:"query"`
	Products   []Product     `json:"products"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	Limit      int           `json:"limit"`
	TotalPages int           `json:"total_pages"`
	Sources    []string      `json:"sources"`
	FromCache  []string      `json:"from_cache,omitempty"`
	Filters    SearchFilters `json:"filters"`
	Duration   string        `json:"duration"`
}

// CacheEntry is the stored slice for one (query, source) pair.
type CacheEntry struct {
	Query     string    `json:"search_query"`
	Platform  string    `json:"platform"`
	Results   []Product `json:"results"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Live reports whether the entry is still valid at now. Both the lazy read
// path and the periodic sweep use this, so no read returns an expired entry.
func (e *CacheEntry) Live(now time.Time) bool {
	return e != nil && now.Before(e.ExpiresAt)
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

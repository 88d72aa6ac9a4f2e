package fallback

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"market-aggregator-api/internal/models"
	"market-aggregator-api/pkg/cache"
)

// Synthesizer produces a deterministic, query-derived result set when a
// source cannot produce real data. No external state: identical
// (query, source) inputs always yield the identical synthetic catalog, which
// is what makes cached and tested behavior reproducible. Downstream
// consumers tell synthetic items apart by Source == models.SourceFallback.
type Synthesizer struct{}

func NewSynthesizer() *Synthesizer {
	return &Synthesizer{}
}

var (
	variants = []string{
		"Original", "Premium", "Pro", "Plus", "Murah", "Terlaris",
		"Limited Edition", "Official Store", "Import", "Grade A",
		"COD", "Garansi Resmi", "Ready Stock", "Best Seller",
	}

	locations = []string{
		"Jakarta Barat", "Jakarta Pusat", "Jakarta Selatan", "Bandung",
		"Surabaya", "Tangerang", "Bekasi", "Medan", "Semarang", "Depok",
	}
)

// Synthesize builds the synthetic catalog for one (query, source) pair.
// Count and per-item price/rating/sales all derive from a stable hash of the
// normalized query and source name.
func (s *Synthesizer) Synthesize(query, source string) []models.Product {
	normalized := cache.NormalizeQuery(query)
	seed := stableSeed(normalized, source)
	rng := rand.New(rand.NewSource(int64(seed)))

	count := 10 + rng.Intn(20)
	products := make([]models.Product, 0, count)
	// A Caser is not safe for concurrent use, so one per call.
	titler := cases.Title(language.Indonesian)

	// Price band scales with a digest of the query so "iphone 15" and
	// "casing hp" do not land in the same range.
	base := 15_000 + float64(seed%400)*6_000
	now := time.Now()

	for i := 0; i < count; i++ {
		price := base * (0.6 + rng.Float64()*2.4)
		price = float64(int(price/500)) * 500

		p := models.Product{
			ID:          fmt.Sprintf("%s-fb-%08x-%d", source, seed, i),
			Title:       synthTitle(normalized, titler, rng, i),
			Price:       price,
			Platform:    source,
			ProductURL:  fmt.Sprintf("https://www.%s.co.id/product/%s-%d", source, slug(normalized), i+1),
			ImageURL:    fmt.Sprintf("https://cdn.%s.co.id/images/%s-%d.jpg", source, slug(normalized), i+1),
			Rating:      float64(35+rng.Intn(16)) / 10,
			RatingCount: 5 + rng.Intn(2000),
			Location:    locations[rng.Intn(len(locations))],
			Sales:       rng.Intn(5000),
			Source:      models.SourceFallback,
			ScrapedAt:   now,
		}

		// Roughly a third of listings carry a strikethrough price.
		if rng.Intn(3) == 0 {
			markup := 1.1 + rng.Float64()*0.6
			p.OriginalPrice = float64(int(price*markup/500)) * 500
			p.DiscountPercentage = (p.OriginalPrice - p.Price) / p.OriginalPrice * 100
		}

		products = append(products, p)
	}

	zap.S().Debugw("synthesized fallback results",
		"source", source, "query", normalized, "count", count)
	return products
}

func synthTitle(query string, titler cases.Caser, rng *rand.Rand, i int) string {
	variant := variants[rng.Intn(len(variants))]
	title := titler.String(query)
	if i == 0 {
		return title
	}
	return fmt.Sprintf("%s %s", title, variant)
}

func slug(q string) string {
	return strings.ReplaceAll(q, " ", "-")
}

func stableSeed(query, source string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(query))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(source)))
	return h.Sum32()
}

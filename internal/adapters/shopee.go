package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"market-aggregator-api/internal/diagnostics"
	"market-aggregator-api/internal/models"
	"market-aggregator-api/pkg/antiblock"
	"market-aggregator-api/pkg/browser"
	"market-aggregator-api/pkg/extract"
)

// ShopeeAdapter queries shopee.co.id. Search pages are fully client-rendered
// and aggressively defended, so search needs a rendered session; the ratings
// endpoint is a plain JSON API reachable with direct HTTP.
type ShopeeAdapter struct {
	deps Deps
	desc Descriptor
}

func NewShopeeAdapter(deps Deps) *ShopeeAdapter {
	return &ShopeeAdapter{
		deps: deps,
		desc: Descriptor{
			Name:                    "shopee",
			BaseURL:                 "https://shopee.co.id",
			SearchURLFormat:         "https://shopee.co.id/search?keyword=%s",
			Domains:                 []string{"shopee.co.id"},
			RequiresRenderedSession: true,
			SupportsDirectAPI:       true,
			Cascade: extract.Cascade{
				Containers: []string{
					"[data-sqe='item']",
					".shopee-search-item-result__item",
					"li.col-xs-2-4",
				},
				Title: extract.FieldCascade{
					"[data-sqe='name'] > div > div:first-child",
					".Cve6sh",
					".ie3A\\+n",
					"[data-sqe='name']",
				},
				Price: extract.FieldCascade{
					"[data-sqe='name'] + div span:last-child",
					".ZEgDH9",
					".kkxvSI",
					"span[aria-label='price']",
				},
				Image: extract.FieldCascade{
					"img[style]", "img"},
				Link: extract.FieldCascade{
					"a[data-sqe='link']", "a"},
				Rating: extract.FieldCascade{
					".shopee-rating-stars__stars", "[data-sqe='rating']"},
				Location: extract.FieldCascade{
					"[data-sqe='location']", ".zGGwiV"},
				Sales: extract.FieldCascade{
					".r6HknA", "[data-sqe='sold']"},
			},
		},
	}
}

func (a *ShopeeAdapter) Name() string           { return a.desc.Name }
func (a *ShopeeAdapter) Descriptor() Descriptor { return a.desc }

func (a *ShopeeAdapter) Search(ctx context.Context, query string, variations []string) ([]models.Product, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("shopee: empty query")
	}
	if len(variations) == 0 {
		variations = []string{query}
	}

	seen := make(map[string]bool)
	all := make([]models.Product, 0)
	var lastSnap antiblock.Snapshot

	for _, variation := range variations {
		searchURL := a.desc.SearchURL(variation)

		products, verdict, err := a.deps.fetchRendered(ctx, searchURL, a.desc.Name,
			func(ctx context.Context, s *browser.Session, snap antiblock.Snapshot) ([]models.Product, error) {
				lastSnap = snap
				return a.deps.Engine.Extract(snap.Markup, a.desc.Cascade, a.desc.BaseURL, a.desc.Name)
			})

		if verdict != antiblock.VerdictClean || err != nil {
			if len(all) > 0 {
				zap.S().Warnw("variation failed, keeping earlier results",
					"source", a.desc.Name, "query", query, "verdict", verdict, "err", err)
				break
			}
			kind := diagnostics.KindUnavailable
			if verdict != antiblock.VerdictClean {
				kind = diagnostics.KindBlocked
			}
			return assignIDs(a.deps.absorb(ctx, a.desc.Name, query, kind, lastSnap, err), a.desc.Name), nil
		}

		all = mergeUnique(all, products, seen)
	}

	if len(all) == 0 {
		return assignIDs(a.deps.absorb(ctx, a.desc.Name, query, diagnostics.KindExtractionEmpty, lastSnap, nil), a.desc.Name), nil
	}

	zap.S().Infow("shopee search done", "query", query, "products", len(all))
	return assignIDs(all, a.desc.Name), nil
}

// Shopee product URLs end in i.<shopid>.<itemid>.
var shopeeURLRe = regexp.MustCompile(`i\.(\d+)\.(\d+)`)

type shopeeRatingsResponse struct {
	Data struct {
		Ratings []struct {
			AuthorUsername string  `json:"author_username"`
			RatingStar     float64 `json:"rating_star"`
			Comment        string  `json:"comment"`
			Ctime          int64   `json:"ctime"`
		} `json:"ratings"`
	} `json:"data"`
}

// GetReviews pages through the public ratings API for a product URL.
func (a *ShopeeAdapter) GetReviews(ctx context.Context, productURL string, page int) ([]models.Review, error) {
	m := shopeeURLRe.FindStringSubmatch(productURL)
	if m == nil {
		return nil, fmt.Errorf("shopee: cannot parse shop/item ids from %q", productURL)
	}
	shopID, _ := strconv.ParseInt(m[1], 10, 64)
	itemID, _ := strconv.ParseInt(m[2], 10, 64)
	if page < 1 {
		page = 1
	}

	const pageSize = 20
	apiURL := fmt.Sprintf(
		"https://shopee.co.id/api/v2/item/get_ratings?itemid=%d&shopid=%d&limit=%d&offset=%d&filter=0&type=0",
		itemID, shopID, pageSize, (page-1)*pageSize)

	mk := func() *colly.Collector {
		return newCollector(a.desc.Domains, "*shopee.*", 2*time.Second)
	}

	snap, verdict, err := a.deps.fetchDirect(ctx, mk, apiURL, a.desc.Name)
	if err != nil {
		return nil, err
	}
	if verdict != antiblock.VerdictClean {
		return nil, fmt.Errorf("shopee: ratings endpoint blocked")
	}

	var resp shopeeRatingsResponse
	if err := json.Unmarshal([]byte(snap.Markup), &resp); err != nil {
		return nil, fmt.Errorf("shopee: ratings decode: %w", err)
	}

	reviews := make([]models.Review, 0, len(resp.Data.Ratings))
	for _, r := range resp.Data.Ratings {
		reviews = append(reviews, models.Review{
			Author:    r.AuthorUsername,
			Rating:    r.RatingStar,
			Comment:   r.Comment,
			CreatedAt: time.Unix(r.Ctime, 0),
		})
	}
	return reviews, nil
}

package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"market-aggregator-api/internal/diagnostics"
	"market-aggregator-api/internal/models"
	"market-aggregator-api/pkg/antiblock"
	"market-aggregator-api/pkg/extract"
	"market-aggregator-api/pkg/utils"
)

// BlibliAdapter queries blibli.com. Blibli exposes a public search API that
// returns JSON, so the primary strategy is a direct API call; the HTML
// cascade remains as a backstop for when the API shape drifts.
type BlibliAdapter struct {
	deps Deps
	desc Descriptor
}

func NewBlibliAdapter(deps Deps) *BlibliAdapter {
	return &BlibliAdapter{
		deps: deps,
		desc: Descriptor{
			Name:                    "blibli",
			BaseURL:                 "https://www.blibli.com",
			SearchURLFormat:         "https://www.blibli.com/cari/%s",
			Domains:                 []string{"blibli.com", "www.blibli.com"},
			RequiresRenderedSession: false,
			SupportsDirectAPI:       true,
			Cascade: extract.Cascade{
				Containers: []string{
					".product__card",
					"[data-testid='product-card']",
					".product-item",
				},
				Title: extract.FieldCascade{
					".product__title", ".blu-product__name", "[data-testid='product-title']"},
				Price: extract.FieldCascade{
					".product__price--after", ".blu-product__price-after", ".product__price"},
				OriginalPrice: extract.FieldCascade{
					".product__price--before", ".blu-product__price-before"},
				Image: extract.FieldCascade{
					".product__image img", "img"},
				Link: extract.FieldCascade{
					"a.product__link", "a"},
				Rating: extract.FieldCascade{
					".product__rating", ".blu-product__rating"},
				Location: extract.FieldCascade{
					".product__location", ".blu-product__location"},
				Sales: extract.FieldCascade{
					".product__sold", ".blu-product__sold"},
			},
		},
	}
}

func (a *BlibliAdapter) Name() string           { return a.desc.Name }
func (a *BlibliAdapter) Descriptor() Descriptor { return a.desc }

func (a *BlibliAdapter) collector() *colly.Collector {
	return newCollector(a.desc.Domains, "*blibli.*", 2*time.Second)
}

type blibliSearchResponse struct {
	Data struct {
		Products []struct {
			Name     string   `json:"name"`
			URL      string   `json:"url"`
			Images   []string `json:"images"`
			Location string   `json:"location"`
			Review   struct {
				Rating float64 `json:"absoluteRating"`
				Count  int     `json:"count"`
			} `json:"review"`
			Price struct {
				MinPrice                  float64 `json:"minPrice"`
				PriceDisplay              string  `json:"priceDisplay"`
				StrikeThroughPriceDisplay string  `json:"strikeThroughPriceDisplay"`
			} `json:"price"`
			SoldRangeCount struct {
				ID string `json:"id"`
			} `json:"soldRangeCount"`
		} `json:"products"`
	} `json:"data"`
}

func (a *BlibliAdapter) apiURL(query string) string {
	return fmt.Sprintf(
		"https://www.blibli.com/backend/search/products?searchTerm=%s&start=0&itemPerPage=40",
		strings.ReplaceAll(strings.TrimSpace(query), " ", "%20"))
}

func (a *BlibliAdapter) Search(ctx context.Context, query string, variations []string) ([]models.Product, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("blibli: empty query")
	}
	if len(variations) == 0 {
		variations = []string{query}
	}

	seen := make(map[string]bool)
	all := make([]models.Product, 0)
	var lastSnap antiblock.Snapshot

	for _, variation := range variations {
		var products []models.Product

		if a.desc.SupportsDirectAPI {
			snap, verdict, err := a.deps.fetchDirect(ctx, a.collector, a.apiURL(variation), a.desc.Name)
			lastSnap = snap

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

			products = a.fromAPI(snap.Markup)
		}

		if len(products) == 0 {
			// API shape drifted or direct API unsupported; use the HTML
			// search page.
			htmlSnap, verdict, err := a.deps.fetchDirect(ctx, a.collector, a.desc.SearchURL(variation), a.desc.Name)
			if err == nil && verdict == antiblock.VerdictClean {
				lastSnap = htmlSnap
				products, _ = a.deps.Engine.Extract(htmlSnap.Markup, a.desc.Cascade, a.desc.BaseURL, a.desc.Name)
			}
		}

		all = mergeUnique(all, products, seen)
	}

	if len(all) == 0 {
		return assignIDs(a.deps.absorb(ctx, a.desc.Name, query, diagnostics.KindExtractionEmpty, lastSnap, nil), a.desc.Name), nil
	}

	zap.S().Infow("blibli search done", "query", query, "products", len(all))
	return assignIDs(all, a.desc.Name), nil
}

func (a *BlibliAdapter) fromAPI(body string) []models.Product {
	var resp blibliSearchResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		zap.S().Debugw("blibli api decode failed", "err", err)
		return nil
	}

	now := time.Now()
	products := make([]models.Product, 0, len(resp.Data.Products))
	for _, item := range resp.Data.Products {
		price := item.Price.MinPrice
		if price == 0 {
			price = utils.ParsePrice(item.Price.PriceDisplay)
		}
		if item.Name == "" || price <= 0 {
			continue
		}

		productURL := item.URL
		if strings.HasPrefix(productURL, "/") {
			productURL = a.desc.BaseURL + productURL
		}

		p := models.Product{
			Title:       item.Name,
			Price:       price,
			ProductURL:  productURL,
			Platform:    a.desc.Name,
			Rating:      item.Review.Rating,
			RatingCount: item.Review.Count,
			Location:    item.Location,
			Sales:       utils.ParseCount(item.SoldRangeCount.ID),
			Source:      models.SourceAPI,
			ScrapedAt:   now,
		}
		if len(item.Images) > 0 {
			p.ImageURL = item.Images[0]
		}
		if orig := utils.ParsePrice(item.Price.StrikeThroughPriceDisplay); orig > p.Price {
			p.OriginalPrice = orig
			p.DiscountPercentage = (orig - p.Price) / orig * 100
		}
		products = append(products, p)
	}
	return products
}

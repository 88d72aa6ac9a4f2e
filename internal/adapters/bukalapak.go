package adapters

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"market-aggregator-api/internal/diagnostics"
	"market-aggregator-api/internal/models"
	"market-aggregator-api/pkg/antiblock"
	"market-aggregator-api/pkg/extract"
)

// BukalapakAdapter queries bukalapak.com over direct HTTP with the DOM
// cascade only.
type BukalapakAdapter struct {
	deps Deps
	desc Descriptor
}

func NewBukalapakAdapter(deps Deps) *BukalapakAdapter {
	return &BukalapakAdapter{
		deps: deps,
		desc: Descriptor{
			Name:                    "bukalapak",
			BaseURL:                 "https://www.bukalapak.com",
			SearchURLFormat:         "https://www.bukalapak.com/products?search%%5Bkeywords%%5D=%s",
			Domains:                 []string{"bukalapak.com", "www.bukalapak.com"},
			RequiresRenderedSession: false,
			SupportsDirectAPI:       false,
			Cascade: extract.Cascade{
				Containers: []string{
					".bl-product-card-new",
					".bl-product-card",
					"[data-testid='product-card']",
					".product-card",
				},
				Title: extract.FieldCascade{
					".bl-product-card-new__name a",
					".bl-product-card__description-name a",
					".product-card__name",
				},
				Price: extract.FieldCascade{
					".bl-product-card-new__price",
					".bl-product-card__description-price",
					".product-card__price",
				},
				OriginalPrice: extract.FieldCascade{
					".bl-product-card-new__original-price",
					".bl-product-card__original-price",
				},
				Image: extract.FieldCascade{
					".bl-product-card-new__media img", "img"},
				Link: extract.FieldCascade{
					".bl-product-card-new__name a", "a"},
				Rating: extract.FieldCascade{
					".bl-product-card-new__rating-number",
					".bl-product-card__description-rating",
				},
				RatingCount: extract.FieldCascade{
					".bl-product-card-new__rating-count"},
				Location: extract.FieldCascade{
					".bl-product-card-new__store-location",
					".bl-product-card__description-store-location",
				},
				Sales: extract.FieldCascade{
					".bl-product-card-new__sold-count"},
			},
		},
	}
}

func (a *BukalapakAdapter) Name() string           { return a.desc.Name }
func (a *BukalapakAdapter) Descriptor() Descriptor { return a.desc }

func (a *BukalapakAdapter) collector() *colly.Collector {
	return newCollector(a.desc.Domains, "*bukalapak.*", 3*time.Second)
}

func (a *BukalapakAdapter) Search(ctx context.Context, query string, variations []string) ([]models.Product, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("bukalapak: empty query")
	}
	if len(variations) == 0 {
		variations = []string{query}
	}

	seen := make(map[string]bool)
	all := make([]models.Product, 0)
	var lastSnap antiblock.Snapshot

	for _, variation := range variations {
		searchURL := a.desc.SearchURL(variation)

		snap, verdict, err := a.deps.fetchDirect(ctx, a.collector, searchURL, a.desc.Name)
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

		products, err := a.deps.Engine.Extract(snap.Markup, a.desc.Cascade, a.desc.BaseURL, a.desc.Name)
		if err != nil {
			zap.S().Warnw("bukalapak markup parse failed", "err", err)
			continue
		}

		all = mergeUnique(all, products, seen)
	}

	if len(all) == 0 {
		return assignIDs(a.deps.absorb(ctx, a.desc.Name, query, diagnostics.KindExtractionEmpty, lastSnap, nil), a.desc.Name), nil
	}

	zap.S().Infow("bukalapak search done", "query", query, "products", len(all))
	return assignIDs(all, a.desc.Name), nil
}

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

// TokopediaAdapter queries tokopedia.com over direct HTTP. Server-rendered
// search markup is usually present for the first result page, which keeps
// this adapter off the browser pool entirely.
type TokopediaAdapter struct {
	deps Deps
	desc Descriptor
}

func NewTokopediaAdapter(deps Deps) *TokopediaAdapter {
	return &TokopediaAdapter{
		deps: deps,
		desc: Descriptor{
			Name:                    "tokopedia",
			BaseURL:                 "https://www.tokopedia.com",
			SearchURLFormat:         "https://www.tokopedia.com/search?st=product&q=%s",
			Domains:                 []string{"tokopedia.com", "www.tokopedia.com"},
			RequiresRenderedSession: false,
			SupportsDirectAPI:       true,
			Cascade: extract.Cascade{
				Containers: []string{
					"[data-testid='divSRPContentProducts'] [data-testid='master-product-card']",
					"[data-testid='master-product-card']",
					".css-5wh65g",
					".pcv3__container",
				},
				Title: extract.FieldCascade{
					"[data-testid='spnSRPProdName']",
					".prd_link-product-name",
					"[data-testid='linkProductName']",
				},
				Price: extract.FieldCascade{
					"[data-testid='spnSRPProdPrice']",
					".prd_link-product-price",
					"[data-testid='linkProductPrice']",
				},
				OriginalPrice: extract.FieldCascade{
					"[data-testid='lblProductSlashPrice']",
					".prd_label-product-slash-price",
				},
				Image: extract.FieldCascade{
					"[data-testid='imgSRPProdMain']", "img"},
				Link: extract.FieldCascade{
					"a[data-testid='lnkProductContainer']", "a"},
				Rating: extract.FieldCascade{
					"[data-testid='spnSRPProdRating']",
					".prd_rating-average-text",
				},
				Location: extract.FieldCascade{
					"[data-testid='spnSRPProdTabShopLoc']",
					".prd_link-shop-loc",
				},
				Sales: extract.FieldCascade{
					"[data-testid='spnSRPProdSold']",
					".prd_label-integrity",
				},
			},
		},
	}
}

func (a *TokopediaAdapter) Name() string           { return a.desc.Name }
func (a *TokopediaAdapter) Descriptor() Descriptor { return a.desc }

func (a *TokopediaAdapter) collector() *colly.Collector {
	return newCollector(a.desc.Domains, "*tokopedia.*", 2*time.Second)
}

func (a *TokopediaAdapter) Search(ctx context.Context, query string, variations []string) ([]models.Product, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("tokopedia: empty query")
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
			// A later variation failing must not discard real results
			// already gathered.
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
			zap.S().Warnw("tokopedia markup parse failed", "err", err)
			continue
		}

		all = mergeUnique(all, products, seen)
	}

	if len(all) == 0 {
		return assignIDs(a.deps.absorb(ctx, a.desc.Name, query, diagnostics.KindExtractionEmpty, lastSnap, nil), a.desc.Name), nil
	}

	zap.S().Infow("tokopedia search done", "query", query, "products", len(all))
	return assignIDs(all, a.desc.Name), nil
}

// GetDetails fetches a product page directly and extracts detail fields.
func (a *TokopediaAdapter) GetDetails(ctx context.Context, productURL string) (*models.ProductDetails, error) {
	if !strings.Contains(productURL, "tokopedia.com") {
		return nil, fmt.Errorf("tokopedia: foreign product url %q", productURL)
	}

	snap, verdict, err := a.deps.fetchDirect(ctx, a.collector, productURL, a.desc.Name)
	if err != nil {
		return nil, err
	}
	if verdict != antiblock.VerdictClean {
		return nil, nil
	}

	detailCascade := extract.Cascade{
		Containers: []string{"#pdp_comp-product_content", "main", "body"},
		Title:      extract.FieldCascade{"[data-testid='lblPDPDetailProductName']", "h1"},
		Price:      extract.FieldCascade{"[data-testid='lblPDPDetailProductPrice']", ".price"},
		Rating:     extract.FieldCascade{"[data-testid='lblPDPDetailProductRatingNumber']"},
		Image:      extract.FieldCascade{"[data-testid='PDPMainImage']", "img"},
	}

	products, err := a.deps.Engine.Extract(snap.Markup, detailCascade, a.desc.BaseURL, a.desc.Name)
	if err != nil || len(products) == 0 {
		return nil, err
	}

	p := products[0]
	p.ProductURL = productURL
	return &models.ProductDetails{Product: p}, nil
}

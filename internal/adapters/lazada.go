package adapters

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"market-aggregator-api/internal/diagnostics"
	"market-aggregator-api/internal/models"
	"market-aggregator-api/pkg/antiblock"
	"market-aggregator-api/pkg/browser"
	"market-aggregator-api/pkg/extract"
	"market-aggregator-api/pkg/utils"
)

// LazadaAdapter queries lazada.co.id through a rendered session. The search
// page embeds its result set in a script-injected global (window.pageData),
// which is far more stable than Lazada's hashed CSS classes, so page-state
// recovery is tried first and the DOM cascade is the fallback.
type LazadaAdapter struct {
	deps Deps
	desc Descriptor
}

func NewLazadaAdapter(deps Deps) *LazadaAdapter {
	return &LazadaAdapter{
		deps: deps,
		desc: Descriptor{
			Name:                    "lazada",
			BaseURL:                 "https://www.lazada.co.id",
			SearchURLFormat:         "https://www.lazada.co.id/catalog/?q=%s",
			Domains:                 []string{"lazada.co.id", "www.lazada.co.id"},
			RequiresRenderedSession: true,
			SupportsDirectAPI:       false,
			Cascade: extract.Cascade{
				Containers: []string{
					"[data-qa-locator='product-item']",
					".Bm3ON",
					"[data-item-id]",
					".gridItem",
				},
				Title: extract.FieldCascade{
					".RfADt a", "[title]", ".title", "a"},
				Price: extract.FieldCascade{
					".ooOxS", ".aBrP0 span", ".price", "[data-price]"},
				OriginalPrice: extract.FieldCascade{
					"._1m1m8 del", "del"},
				Image: extract.FieldCascade{
					".picture-wrapper img", "img"},
				Link: extract.FieldCascade{
					".RfADt a", "a"},
				Rating: extract.FieldCascade{
					".mdmmT", ".rating"},
				RatingCount: extract.FieldCascade{
					".qzqFw"},
				Location: extract.FieldCascade{
					".oa6ri", "[data-qa-locator='faa-location']"},
			},
		},
	}
}

func (a *LazadaAdapter) Name() string           { return a.desc.Name }
func (a *LazadaAdapter) Descriptor() Descriptor { return a.desc }

// lazadaItem mirrors one entry of window.pageData.mods.listItems.
type lazadaItem struct {
	Name            string `json:"name"`
	PriceShow       string `json:"priceShow"`
	Price           string `json:"price"`
	OriginalPrice   string `json:"originalPrice"`
	Image           string `json:"image"`
	ItemURL         string `json:"itemUrl"`
	ProductURL      string `json:"productUrl"`
	RatingScore     string `json:"ratingScore"`
	Review          string `json:"review"`
	Location        string `json:"location"`
	ItemSoldCntShow string `json:"itemSoldCntShow"`
}

const lazadaStateExpr = `(window.pageData && window.pageData.mods && window.pageData.mods.listItems) || []`

func (a *LazadaAdapter) Search(ctx context.Context, query string, variations []string) ([]models.Product, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("lazada: empty query")
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
				return a.extract(ctx, s, snap)
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

	zap.S().Infow("lazada search done", "query", query, "products", len(all))
	return assignIDs(all, a.desc.Name), nil
}

func (a *LazadaAdapter) extract(ctx context.Context, s *browser.Session, snap antiblock.Snapshot) ([]models.Product, error) {
	var items []lazadaItem
	if err := s.Evaluate(ctx, lazadaStateExpr, &items); err != nil {
		zap.S().Debugw("lazada page-state read failed, using dom cascade", "err", err)
	}

	if len(items) > 0 {
		products := make([]models.Product, 0, len(items))
		now := time.Now()
		for _, item := range items {
			p := a.fromState(item, now)
			if p.Title != "" && p.Price > 0 {
				products = append(products, p)
			}
		}
		if len(products) > 0 {
			return products, nil
		}
	}

	return a.deps.Engine.Extract(snap.Markup, a.desc.Cascade, a.desc.BaseURL, a.desc.Name)
}

func (a *LazadaAdapter) fromState(item lazadaItem, now time.Time) models.Product {
	itemURL := item.ItemURL
	if itemURL == "" {
		itemURL = item.ProductURL
	}
	if strings.HasPrefix(itemURL, "//") {
		itemURL = "https:" + itemURL
	}

	price := utils.ParsePrice(item.PriceShow)
	if price == 0 {
		price = utils.ParsePrice(item.Price)
	}

	p := models.Product{
		Title:       strings.TrimSpace(item.Name),
		Price:       price,
		ImageURL:    item.Image,
		ProductURL:  itemURL,
		Platform:    a.desc.Name,
		Rating:      utils.ParseRating(item.RatingScore),
		RatingCount: utils.ParseCount(item.Review),
		Location:    item.Location,
		Sales:       utils.ParseCount(item.ItemSoldCntShow),
		Source:      models.SourcePageState,
		ScrapedAt:   now,
	}

	if orig := utils.ParsePrice(item.OriginalPrice); orig > p.Price {
		p.OriginalPrice = orig
		p.DiscountPercentage = (orig - p.Price) / orig * 100
	}
	return p
}

// GetDetails resolves a product page for fields the listing card lacks.
func (a *LazadaAdapter) GetDetails(ctx context.Context, productURL string) (*models.ProductDetails, error) {
	if !strings.Contains(productURL, "lazada") {
		return nil, fmt.Errorf("lazada: foreign product url %q", productURL)
	}

	detailCascade := extract.Cascade{
		Containers: []string{"#root", "body"},
		Title:      extract.FieldCascade{".pdp-mod-product-badge-title", "h1"},
		Price:      extract.FieldCascade{".pdp-price_type_normal", ".pdp-price"},
		OriginalPrice: extract.FieldCascade{
			".pdp-price_type_deleted"},
		Image:  extract.FieldCascade{".gallery-preview-panel img", "img"},
		Rating: extract.FieldCascade{".score-average"},
	}

	products, verdict, err := a.deps.fetchRendered(ctx, productURL, a.desc.Name,
		func(ctx context.Context, s *browser.Session, snap antiblock.Snapshot) ([]models.Product, error) {
			return a.deps.Engine.Extract(snap.Markup, detailCascade, a.desc.BaseURL, a.desc.Name)
		})
	if err != nil {
		return nil, err
	}
	if verdict != antiblock.VerdictClean || len(products) == 0 {
		return nil, nil
	}

	p := products[0]
	p.ProductURL = productURL
	return &models.ProductDetails{Product: p}, nil
}

package extract

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"market-aggregator-api/internal/models"
	"market-aggregator-api/pkg/utils"
)

// FieldCascade is an ordered list of selectors for one field, most
// specific/stable first. Fields are tried independently within a container,
// so different fields may succeed via different selectors.
type FieldCascade []string

// Cascade describes how to recover products from one source's markup.
// Container selectors are tried in order; the first one yielding at least one
// structurally plausible product wins and the rest are never consulted.
type Cascade struct {
	Containers []string

	Title         FieldCascade
	Price         FieldCascade
	OriginalPrice FieldCascade
	Image         FieldCascade
	Link          FieldCascade
	Rating        FieldCascade
	RatingCount   FieldCascade
	Location      FieldCascade
	Sales         FieldCascade
}

// Engine applies selector cascades to raw markup. It is stateless and safe
// for concurrent use.
type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

// Extract parses markup and runs the cascade. A product is emitted only when
// its title is non-empty and its price is positive; everything else is
// optional. Relative link/image URLs are resolved against baseURL.
func (e *Engine) Extract(markup string, c Cascade, baseURL, platform string) ([]models.Product, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, err
	}

	base, _ := url.Parse(baseURL)
	now := time.Now()

	for _, container := range c.Containers {
		var products []models.Product

		doc.Find(container).Each(func(_ int, sel *goquery.Selection) {
			p := e.extractOne(sel, c, base, platform, now)
			if p.Title != "" && p.Price > 0 {
				products = append(products, p)
			}
		})

		if len(products) > 0 {
			zap.S().Debugw("cascade matched",
				"platform", platform, "selector", container, "products", len(products))
			return products, nil
		}
	}

	return nil, nil
}

func (e *Engine) extractOne(sel *goquery.Selection, c Cascade, base *url.URL, platform string, now time.Time) models.Product {
	p := models.Product{
		Platform:  platform,
		Source:    models.SourceDOMExtraction,
		ScrapedAt: now,
	}

	p.Title = firstText(sel, c.Title)
	p.Price = utils.ParsePrice(firstText(sel, c.Price))
	p.OriginalPrice = utils.ParsePrice(firstText(sel, c.OriginalPrice))
	p.Rating = utils.ParseRating(firstText(sel, c.Rating))
	p.RatingCount = utils.ParseCount(firstText(sel, c.RatingCount))
	p.Location = firstText(sel, c.Location)
	p.Sales = utils.ParseCount(firstText(sel, c.Sales))
	p.ImageURL = resolveURL(base, firstAttr(sel, c.Image, "src", "data-src"))
	p.ProductURL = resolveURL(base, firstAttr(sel, c.Link, "href"))

	if p.OriginalPrice > 0 && p.OriginalPrice > p.Price {
		p.DiscountPercentage = (p.OriginalPrice - p.Price) / p.OriginalPrice * 100
	} else {
		p.OriginalPrice = 0
	}

	return p
}

var spaceRe = regexp.MustCompile(`\s+`)

func firstText(sel *goquery.Selection, cascade FieldCascade) string {
	for _, s := range cascade {
		text := strings.TrimSpace(sel.Find(s).First().Text())
		if text != "" {
			return spaceRe.ReplaceAllString(text, " ")
		}
	}
	return ""
}

func firstAttr(sel *goquery.Selection, cascade FieldCascade, attrs ...string) string {
	for _, s := range cascade {
		node := sel.Find(s).First()
		if node.Length() == 0 {
			continue
		}
		for _, attr := range attrs {
			if v, ok := node.Attr(attr); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
	}
	return ""
}

func resolveURL(base *url.URL, raw string) string {
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	if base == nil {
		return raw
	}
	rel, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return base.ResolveReference(rel).String()
}

package adapters

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"market-aggregator-api/internal/diagnostics"
	"market-aggregator-api/internal/models"
	"market-aggregator-api/pkg/antiblock"
	"market-aggregator-api/pkg/browser"
	"market-aggregator-api/pkg/retry"
)

var directUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
}

// newCollector builds a colly collector with rotated identity headers and a
// polite per-domain limit rule for sources that accept direct HTTP calls.
func newCollector(domains []string, domainGlob string, delay time.Duration) *colly.Collector {
	c := colly.NewCollector(
		colly.AllowedDomains(domains...),
	)

	ua := directUserAgents[rand.Intn(len(directUserAgents))]
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", ua)
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "id-ID,id;q=0.9,en-US;q=0.8")
		r.Headers.Set("Upgrade-Insecure-Requests", "1")
		r.Headers.Set("Cache-Control", "no-cache")
	})

	c.Limit(&colly.LimitRule{
		DomainGlob:  domainGlob,
		Parallelism: 1,
		Delay:       delay,
	})

	return c
}

// fetchDirect fetches one URL over plain HTTP under the shared retry policy
// and resolves anti-block challenges with a bounded wait plus one revisit.
func (d Deps) fetchDirect(ctx context.Context, mk func() *colly.Collector, url, source string) (antiblock.Snapshot, antiblock.Verdict, error) {
	visit := func(ctx context.Context) (antiblock.Snapshot, error) {
		var snap antiblock.Snapshot
		var visitErr error

		c := mk()
		c.OnResponse(func(r *colly.Response) {
			snap = antiblock.Snapshot{
				Status: r.StatusCode,
				URL:    r.Request.URL.String(),
				Markup: string(r.Body),
			}
		})
		c.OnError(func(r *colly.Response, err error) {
			if r != nil && r.StatusCode > 0 {
				snap = antiblock.Snapshot{
					Status: r.StatusCode,
					URL:    url,
					Markup: string(r.Body),
				}
				visitErr = &retry.StatusError{Status: r.StatusCode, URL: url}
				return
			}
			visitErr = err
		})

		if err := c.Visit(url); err != nil && visitErr == nil {
			visitErr = err
		}
		c.Wait()
		return snap, visitErr
	}

	var snap antiblock.Snapshot
	err := d.Retry.Do(ctx, source, func(ctx context.Context) error {
		var ferr error
		snap, ferr = visit(ctx)
		if ferr != nil {
			// Blocked statuses are the detector's business, not a retry's.
			var se *retry.StatusError
			if errors.As(ferr, &se) && (se.Status == 403 || se.Status == 503) {
				return nil
			}
		}
		return ferr
	})
	if err != nil {
		return snap, antiblock.VerdictClean, err
	}

	snap, verdict := d.Detector.Resolve(ctx, source, snap, func(ctx context.Context) (antiblock.Snapshot, error) {
		return visit(ctx)
	})
	return snap, verdict, nil
}

// fetchRendered opens one scoped browser session, navigates, and resolves
// anti-block challenges. The session is always closed before returning; the
// caller gets a plain snapshot plus the session only for the lifetime of the
// work callback.
func (d Deps) fetchRendered(ctx context.Context, url, source string, work func(ctx context.Context, s *browser.Session, snap antiblock.Snapshot) ([]models.Product, error)) ([]models.Product, antiblock.Verdict, error) {
	session, err := browser.NewSession(ctx, d.Browser)
	if err != nil {
		return nil, antiblock.VerdictClean, err
	}
	defer session.Close()

	var snap antiblock.Snapshot
	err = d.Retry.Do(ctx, source, func(ctx context.Context) error {
		var navErr error
		snap, navErr = session.Navigate(ctx, url)
		return navErr
	})
	if err != nil {
		return nil, antiblock.VerdictClean, err
	}

	snap, verdict := d.Detector.Resolve(ctx, source, snap, func(ctx context.Context) (antiblock.Snapshot, error) {
		return session.Snapshot(ctx)
	})
	if verdict != antiblock.VerdictClean {
		d.recordBlock(ctx, source, url, snap, session)
		return nil, verdict, nil
	}

	products, err := work(ctx, session, snap)
	return products, antiblock.VerdictClean, err
}

func (d Deps) recordBlock(ctx context.Context, source, url string, snap antiblock.Snapshot, session *browser.Session) {
	var shot []byte
	if session != nil {
		shot, _ = session.Screenshot(ctx)
	}
	d.Diag.Record(ctx, diagnostics.Artifact{
		Source: source,
		Kind:   diagnostics.KindBlocked,
		URL:    url,
		Status: snap.Status,
		Detail: snap.Title,
	}, snap.Markup, shot)
}

// absorb converts a source-level failure into the fallback result set. Only
// caller-contract errors ever leave an adapter; everything here is logged,
// optionally recorded, and replaced with synthetic data.
func (d Deps) absorb(ctx context.Context, source, query, kind string, snap antiblock.Snapshot, err error) []models.Product {
	zap.S().Infow("falling through to synthesis",
		"source", source, "query", query, "class", kind, "err", err)

	if kind == diagnostics.KindExtractionEmpty && snap.Markup != "" {
		d.Diag.Record(ctx, diagnostics.Artifact{
			Source: source,
			Query:  query,
			Kind:   kind,
			URL:    snap.URL,
			Status: snap.Status,
		}, snap.Markup, nil)
	}

	return d.Synth.Synthesize(query, source)
}

// mergeUnique accumulates products across query variations, keyed by
// product URL so the same listing surfaced by two variations appears once.
func mergeUnique(into []models.Product, more []models.Product, seen map[string]bool) []models.Product {
	for _, p := range more {
		if p.ProductURL == "" || seen[p.ProductURL] {
			continue
		}
		seen[p.ProductURL] = true
		into = append(into, p)
	}
	return into
}

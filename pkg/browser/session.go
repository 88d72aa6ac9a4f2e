package browser

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"market-aggregator-api/pkg/antiblock"
)

// Identity is one browser fingerprint profile. Sessions rotate through the
// pool so consecutive invocations do not present the same surface.
type Identity struct {
	UserAgent      string
	AcceptLanguage string
	Timezone       string
	Width          int
	Height         int
}

var identityPool = []Identity{
	{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		AcceptLanguage: "en-US,en;q=0.9,id;q=0.8",
		Timezone:       "Asia/Jakarta",
		Width:          1920, Height: 1080,
	},
	{
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
		AcceptLanguage: "id-ID,id;q=0.9,en;q=0.8",
		Timezone:       "Asia/Jakarta",
		Width:          1536, Height: 864,
	},
	{
		UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		AcceptLanguage: "en-US,en;q=0.9",
		Timezone:       "Asia/Makassar",
		Width:          1440, Height: 900,
	},
	{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
		AcceptLanguage: "id-ID,id;q=0.9,en-US;q=0.8",
		Timezone:       "Asia/Jakarta",
		Width:          1366, Height: 768,
	},
}

// Non-essential subresources are blocked to cut page weight and load time.
var blockedResourcePatterns = []string{
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.svg",
	"*.woff", "*.woff2", "*.ttf", "*.otf",
	"*googletagmanager*", "*google-analytics*", "*doubleclick*", "*facebook.net*",
}

// Suppresses the properties headless Chrome exposes to fingerprinting
// scripts before any page script runs.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
Object.defineProperty(navigator, 'languages', { get: () => ['id-ID', 'id', 'en-US', 'en'] });
window.chrome = window.chrome || { runtime: {} };
`

// Options configures a session.
type Options struct {
	ExecPath          string
	Headless          bool
	BlockResources    bool
	NavigationTimeout time.Duration
}

// Session is one automated browsing session scoped to a single adapter
// invocation. It carries state (cookies, fingerprint) that must not leak
// between unrelated queries, so it is never pooled; callers must Close on
// every exit path.
type Session struct {
	ctx      context.Context
	cancels  []context.CancelFunc
	identity Identity
	opts     Options

	mu         sync.Mutex
	lastStatus int
}

// NewSession allocates a browser with a rotated identity. The returned
// session is unusable after Close.
func NewSession(parent context.Context, opts Options) (*Session, error) {
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 45 * time.Second
	}

	identity := identityPool[rand.Intn(len(identityPool))]

	execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("lang", "id-ID"),
		chromedp.UserAgent(identity.UserAgent),
		chromedp.WindowSize(identity.Width, identity.Height),
	)
	if opts.ExecPath != "" {
		execOpts = append(execOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, execOpts...)
	ctx, ctxCancel := chromedp.NewContext(allocCtx)

	s := &Session{
		ctx:      ctx,
		cancels:  []context.CancelFunc{ctxCancel, allocCancel},
		identity: identity,
		opts:     opts,
	}

	// Track the main document response so the anti-block detector can see
	// the HTTP status.
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		if resp, ok := ev.(*network.EventResponseReceived); ok && resp.Type == network.ResourceTypeDocument {
			s.mu.Lock()
			s.lastStatus = int(resp.Response.Status)
			s.mu.Unlock()
		}
	})

	if err := s.configure(); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

func (s *Session) configure() error {
	actions := []chromedp.Action{
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers(map[string]interface{}{
			"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
			"Accept-Language":           s.identity.AcceptLanguage,
			"Upgrade-Insecure-Requests": "1",
			"Sec-Fetch-Dest":            "document",
			"Sec-Fetch-Mode":            "navigate",
			"Sec-Fetch-Site":            "none",
		})),
		emulation.SetTimezoneOverride(s.identity.Timezone),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}),
	}

	if s.opts.BlockResources {
		actions = append(actions, network.SetBlockedURLS(blockedResourcePatterns))
	}

	return chromedp.Run(s.ctx, actions...)
}

// Navigate loads url under the session's navigation timeout and returns a
// snapshot of the outcome for anti-block inspection.
func (s *Session) Navigate(ctx context.Context, url string) (antiblock.Snapshot, error) {
	navCtx, cancel := context.WithTimeout(s.bind(ctx), s.opts.NavigationTimeout)
	defer cancel()

	err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		// Give client-side rendering a moment to attach results.
		chromedp.Sleep(time.Duration(1500+rand.Intn(1500))*time.Millisecond),
	)
	if err != nil {
		return antiblock.Snapshot{}, err
	}

	return s.Snapshot(ctx)
}

// Snapshot reads the current status, location, title and rendered markup.
func (s *Session) Snapshot(ctx context.Context) (antiblock.Snapshot, error) {
	var title, location, markup string

	snapCtx, cancel := context.WithTimeout(s.bind(ctx), 15*time.Second)
	defer cancel()

	err := chromedp.Run(snapCtx,
		chromedp.Title(&title),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &markup, chromedp.ByQuery),
	)
	if err != nil {
		return antiblock.Snapshot{}, err
	}

	s.mu.Lock()
	status := s.lastStatus
	s.mu.Unlock()

	return antiblock.Snapshot{
		Status: status,
		URL:    location,
		Title:  title,
		Markup: markup,
	}, nil
}

// Evaluate runs expr against the page and unmarshals the result into out.
// Used for sources that embed structured data in a script-injected global
// rather than the DOM; the result is a plain value, never a handle into
// engine-internal state.
func (s *Session) Evaluate(ctx context.Context, expr string, out interface{}) error {
	evalCtx, cancel := context.WithTimeout(s.bind(ctx), 15*time.Second)
	defer cancel()
	return chromedp.Run(evalCtx, chromedp.Evaluate(expr, out))
}

// Screenshot captures the viewport for diagnostic artifacts.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	shotCtx, cancel := context.WithTimeout(s.bind(ctx), 15*time.Second)
	defer cancel()

	var buf []byte
	if err := chromedp.Run(shotCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// bind derives a chromedp-capable context that is also cancelled when the
// caller's context is.
func (s *Session) bind(ctx context.Context) context.Context {
	if ctx == nil {
		return s.ctx
	}
	bound, cancel := context.WithCancel(s.ctx)
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-bound.Done():
		}
	}()
	return bound
}

// Close releases the browser. Safe to call multiple times.
func (s *Session) Close() {
	for _, cancel := range s.cancels {
		if cancel != nil {
			cancel()
		}
	}
	zap.S().Debugw("browser session closed", "timezone", s.identity.Timezone)
}

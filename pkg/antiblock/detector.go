package antiblock

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Verdict classifies a page snapshot after navigation.
type Verdict int

const (
	// VerdictClean means no denial signature was found.
	VerdictClean Verdict = iota
	// VerdictChallenge means a short client-side challenge that often
	// resolves on its own is in progress.
	VerdictChallenge
	// VerdictCaptcha means an active human-verification challenge. Terminal
	// for the adapter invocation; never solved or retried.
	VerdictCaptcha
	// VerdictBlocked means the source denied automated access.
	VerdictBlocked
)

func (v Verdict) String() string {
	switch v {
	case VerdictClean:
		return "clean"
	case VerdictChallenge:
		return "challenge"
	case VerdictCaptcha:
		return "captcha"
	case VerdictBlocked:
		return "blocked"
	}
	return "unknown"
}

// Snapshot is the observable state of a navigation outcome.
type Snapshot struct {
	Status int
	URL    string
	Title  string
	Markup string
}

var (
	blockedStatuses = map[int]bool{403: true, 503: true}

	challengeURLFragments = []string{
		"/punish/",
		"/captcha",
		"/verify",
		"/_____tmd_____",
		"/challenge",
		"login?redirect",
	}

	captchaMarkers = []string{
		"g-recaptcha",
		"h-captcha",
		"px-captcha",
		"geetest_",
		"slider captcha",
		"baxia-dialog",
	}

	challengeMarkers = []string{
		"checking your browser",
		"cf-browser-verification",
		"just a moment",
		"ddos protection",
	}

	deniedMarkers = []string{
		"unusual traffic",
		"automated access",
		"are you a robot",
		"access to this page has been denied",
	}

	deniedTitles = []string{
		"access denied",
		"robot check",
		"security check",
		"forbidden",
		"request blocked",
		"attention required",
	}
)

// Detector inspects navigation outcomes for known automated-access-denial
// signatures. Detection heuristics only; it never attempts to defeat a
// challenge.
type Detector struct {
	// WaitInterval bounds how long a challenge is given to self-resolve
	// before the snapshot is re-taken.
	WaitInterval time.Duration
}

func NewDetector(wait time.Duration) *Detector {
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &Detector{WaitInterval: wait}
}

// Inspect classifies a single snapshot.
func (d *Detector) Inspect(s Snapshot) Verdict {
	if blockedStatuses[s.Status] {
		return VerdictBlocked
	}

	lowerURL := strings.ToLower(s.URL)
	for _, frag := range challengeURLFragments {
		if strings.Contains(lowerURL, frag) {
			return VerdictChallenge
		}
	}

	lowerTitle := strings.ToLower(s.Title)
	for _, t := range deniedTitles {
		if strings.Contains(lowerTitle, t) {
			return VerdictBlocked
		}
	}

	lowerMarkup := strings.ToLower(s.Markup)
	for _, m := range captchaMarkers {
		if strings.Contains(lowerMarkup, m) {
			return VerdictCaptcha
		}
	}
	for _, m := range challengeMarkers {
		if strings.Contains(lowerMarkup, m) {
			return VerdictChallenge
		}
	}
	for _, m := range deniedMarkers {
		if strings.Contains(lowerMarkup, m) {
			return VerdictBlocked
		}
	}

	return VerdictClean
}

// Resolve inspects the snapshot and, for a challenge, waits once for
// automatic resolution and rechecks via refetch. Anything still not clean
// after the recheck is terminal for this invocation.
func (d *Detector) Resolve(ctx context.Context, source string, s Snapshot, refetch func(context.Context) (Snapshot, error)) (Snapshot, Verdict) {
	verdict := d.Inspect(s)
	if verdict != VerdictChallenge || refetch == nil {
		return s, verdict
	}

	zap.S().Infow("challenge detected, waiting for resolution",
		"source", source, "wait", d.WaitInterval)

	select {
	case <-time.After(d.WaitInterval):
	case <-ctx.Done():
		return s, VerdictBlocked
	}

	fresh, err := refetch(ctx)
	if err != nil {
		zap.S().Warnw("challenge recheck failed", "source", source, "err", err)
		return s, VerdictBlocked
	}

	verdict = d.Inspect(fresh)
	if verdict == VerdictChallenge {
		// Did not self-resolve within the bounded wait.
		verdict = VerdictBlocked
	}
	return fresh, verdict
}

package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// StatusError carries an HTTP status through the retry loop so the policy
// can refuse to retry terminal statuses.
type StatusError struct {
	Status int
	URL    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status code error: %d (%s)", e.Status, e.URL)
}

// Policy is one shared retry configuration injected into every adapter
// instead of ad hoc loops per scraper.
type Policy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	NonRetryable map[int]bool
}

// Default matches the aggregation contract: 3 attempts, exponential backoff,
// 401/403/404 immediately terminal.
func Default() *Policy {
	return &Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		NonRetryable: map[int]bool{
			401: true,
			403: true,
			404: true,
		},
	}
}

// Do runs fn until it succeeds, a non-retryable status is seen, attempts are
// exhausted, or ctx is done.
func (p *Policy) Do(ctx context.Context, label string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		var se *StatusError
		if errors.As(lastErr, &se) && p.NonRetryable[se.Status] {
			zap.S().Debugw("not retrying terminal status", "label", label, "status", se.Status)
			return lastErr
		}

		if attempt == p.MaxAttempts {
			break
		}

		delay := p.backoff(attempt)
		zap.S().Debugw("retrying", "label", label, "attempt", attempt, "delay", delay, "err", lastErr)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("%s: all %d attempts failed: %w", label, p.MaxAttempts, lastErr)
}

func (p *Policy) backoff(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testPolicy() *Policy {
	return &Policy{
		MaxAttempts:  3,
		BaseDelay:    time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		NonRetryable: map[int]bool{401: true, 403: true, 404: true},
	}
}

func TestDoSucceedsAfterTransientFailure(t *testing.T) {
	attempts := 0
	err := testPolicy().Do(context.Background(), "test", func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := testPolicy().Do(context.Background(), "test", func(ctx context.Context) error {
		attempts++
		return errors.New("timeout")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDoDoesNotRetryTerminalStatus(t *testing.T) {
	for _, status := range []int{401, 403, 404} {
		attempts := 0
		err := testPolicy().Do(context.Background(), "test", func(ctx context.Context) error {
			attempts++
			return &StatusError{Status: status, URL: "https://example.com"}
		})
		if err == nil {
			t.Fatalf("status %d: expected error", status)
		}
		var se *StatusError
		if !errors.As(err, &se) || se.Status != status {
			t.Errorf("status %d: error = %v, want StatusError", status, err)
		}
		if attempts != 1 {
			t.Errorf("status %d: attempts = %d, want 1", status, attempts)
		}
	}
}

func TestDoRetriesServerError(t *testing.T) {
	attempts := 0
	_ = testPolicy().Do(context.Background(), "test", func(ctx context.Context) error {
		attempts++
		return &StatusError{Status: 500, URL: "https://example.com"}
	})
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDoStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := testPolicy().Do(ctx, "test", func(ctx context.Context) error {
		attempts++
		return errors.New("should not run")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if attempts != 0 {
		t.Errorf("attempts = %d, want 0", attempts)
	}
}

func TestBackoffCapped(t *testing.T) {
	p := testPolicy()
	if d := p.backoff(1); d != time.Millisecond {
		t.Errorf("backoff(1) = %v, want 1ms", d)
	}
	if d := p.backoff(2); d != 2*time.Millisecond {
		t.Errorf("backoff(2) = %v, want 2ms", d)
	}
	if d := p.backoff(10); d != 4*time.Millisecond {
		t.Errorf("backoff(10) = %v, want cap 4ms", d)
	}
}

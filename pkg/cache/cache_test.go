package cache

import (
	"context"
	"testing"
	"time"

	"market-aggregator-api/internal/models"
)

func TestNormalizeQuery(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"iPhone 15", "iphone 15"},
		{"  sepatu   lari  ", "sepatu lari"},
		{"LAPTOP\tGAMING", "laptop gaming"},
		{"kemeja", "kemeja"},
	}

	for _, tt := range tests {
		if got := NormalizeQuery(tt.input); got != tt.want {
			t.Errorf("NormalizeQuery(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestEntryKey(t *testing.T) {
	got := entryKey("  iPhone  15 ", "Lazada")
	want := "results:iphone 15:lazada"
	if got != want {
		t.Errorf("entryKey = %q, want %q", got, want)
	}
}

func TestTTLForRecencyIntent(t *testing.T) {
	s := &Store{defaultTTL: 6 * time.Hour, recentTTL: 30 * time.Minute}

	tests := []struct {
		query string
		want  time.Duration
	}{
		{"iphone terbaru", 30 * time.Minute},
		{"LATEST gaming laptop", 30 * time.Minute},
		{"hp samsung 2025", 30 * time.Minute},
		{"sepatu lari", 6 * time.Hour},
		// Substring heuristic: the brand matches the recency marker.
		{"new balance 574", 30 * time.Minute},
	}

	for _, tt := range tests {
		if got := s.TTLFor(tt.query); got != tt.want {
			t.Errorf("TTLFor(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
}

func TestCacheEntryLive(t *testing.T) {
	now := time.Now()
	live := models.CacheEntry{ExpiresAt: now.Add(time.Minute)}
	expired := models.CacheEntry{ExpiresAt: now.Add(-time.Second)}

	if !live.Live(now) {
		t.Error("entry expiring in the future should be live")
	}
	if expired.Live(now) {
		t.Error("entry past its expiry should not be live")
	}
}

func TestNilStoreIsInert(t *testing.T) {
	var s *Store
	ctx := context.Background()

	if s.IsAvailable() {
		t.Error("nil store should report unavailable")
	}

	results, covered := s.Get(ctx, "laptop", []string{"lazada", "shopee"})
	if len(results) != 0 || len(covered) != 0 {
		t.Error("nil store Get should cover nothing")
	}

	if err := s.Put(ctx, "laptop", "lazada", nil); err == nil {
		t.Error("nil store Put should report unavailability")
	}

	if removed, err := s.Sweep(ctx); err != nil || removed != 0 {
		t.Errorf("nil store Sweep = (%d, %v), want (0, nil)", removed, err)
	}

	if err := s.Close(); err != nil {
		t.Errorf("nil store Close: %v", err)
	}

	if stats := s.Stats(ctx); stats["status"] != "unavailable" {
		t.Errorf("nil store Stats = %v", stats)
	}
}

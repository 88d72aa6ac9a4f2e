package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"market-aggregator-api/internal/models"
)

const keyPrefix = "results:"

// Store persists prior results partitioned by (normalized query, source).
// Partitioning per source is what makes partial reuse possible: a request
// for {A,B,C} with only {A,B} cached fetches C alone. Writes are
// last-writer-wins per source, never per query.
type Store struct {
	client     *redis.Client
	defaultTTL time.Duration
	recentTTL  time.Duration
}

// NewStore connects to redis. Like the rest of the service, a missing cache
// degrades latency, not correctness, so connection failure yields a nil
// store that every method tolerates.
func NewStore(redisURL string, db int, defaultTTL, recentTTL time.Duration) *Store {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		zap.S().Warnw("failed to parse redis url, cache disabled", "err", err)
		return nil
	}
	opt.DB = db

	client := redis.NewClient(opt)
	if _, err := client.Ping(context.Background()).Result(); err != nil {
		zap.S().Warnw("redis unavailable, cache disabled", "err", err)
		return nil
	}

	zap.S().Infow("redis cache connected",
		"db", db, "default_ttl", defaultTTL, "recent_ttl", recentTTL)

	return &Store{
		client:     client,
		defaultTTL: defaultTTL,
		recentTTL:  recentTTL,
	}
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// NormalizeQuery is the canonical cache-key form of a query string.
func NormalizeQuery(q string) string {
	return whitespaceRe.ReplaceAllString(strings.TrimSpace(strings.ToLower(q)), " ")
}

// Recency markers shorten the expiration horizon. Substring matching is a
// known-imprecise heuristic ("new balance" the brand also matches); kept
// as-is deliberately, do not extend without product clarification.
var recencyMarkers = []string{"new", "latest", "terbaru", "2025"}

// TTLFor picks the expiration horizon for a query. Queries implying recency
// intent expire sooner than general queries.
func (s *Store) TTLFor(query string) time.Duration {
	normalized := NormalizeQuery(query)
	for _, marker := range recencyMarkers {
		if strings.Contains(normalized, marker) {
			return s.recentTTL
		}
	}
	return s.defaultTTL
}

func entryKey(query, source string) string {
	return keyPrefix + NormalizeQuery(query) + ":" + strings.ToLower(source)
}

// Get returns the live cached slices for whichever of the requested sources
// have one, plus the covered source names. Expired entries are skipped on
// read regardless of what redis TTL says.
func (s *Store) Get(ctx context.Context, query string, sources []string) (map[string][]models.Product, []string) {
	results := make(map[string][]models.Product)
	var covered []string

	if !s.IsAvailable() {
		return results, covered
	}

	now := time.Now()
	for _, source := range sources {
		val, err := s.client.Get(ctx, entryKey(query, source)).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			zap.S().Warnw("cache read failed", "source", source, "err", err)
			continue
		}

		var entry models.CacheEntry
		if err := json.Unmarshal([]byte(val), &entry); err != nil {
			zap.S().Warnw("cache entry corrupt, dropping", "source", source, "err", err)
			s.client.Del(ctx, entryKey(query, source))
			continue
		}

		if !entry.Live(now) {
			continue
		}

		results[source] = entry.Results
		covered = append(covered, source)
	}

	return results, covered
}

// Put replaces the slice for (query, source) wholesale, leaving other
// sources' slices for the same query untouched.
func (s *Store) Put(ctx context.Context, query, source string, products []models.Product) error {
	if !s.IsAvailable() {
		return fmt.Errorf("cache not available")
	}

	ttl := s.TTLFor(query)
	now := time.Now()
	entry := models.CacheEntry{
		Query:     NormalizeQuery(query),
		Platform:  source,
		Results:   products,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache entry marshal: %w", err)
	}

	return s.client.Set(ctx, entryKey(query, source), data, ttl).Err()
}

// Invalidate drops every source slice for a query.
func (s *Store) Invalidate(ctx context.Context, query string) error {
	if !s.IsAvailable() {
		return fmt.Errorf("cache not available")
	}

	keys, err := s.scanKeys(ctx, keyPrefix+NormalizeQuery(query)+":*")
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

// Sweep removes entries whose embedded expiry has passed. Redis TTL handles
// the common case; the sweep covers entries written with a drifted clock and
// keeps the no-expired-reads contract honest from both sides.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	if !s.IsAvailable() {
		return 0, nil
	}

	keys, err := s.scanKeys(ctx, keyPrefix+"*")
	if err != nil {
		return 0, err
	}

	removed := 0
	now := time.Now()
	for _, key := range keys {
		val, err := s.client.Get(ctx, key).Result()
		if err != nil {
			continue
		}
		var entry models.CacheEntry
		if err := json.Unmarshal([]byte(val), &entry); err != nil || !entry.Live(now) {
			if s.client.Del(ctx, key).Err() == nil {
				removed++
			}
		}
	}

	if removed > 0 {
		zap.S().Infow("cache sweep removed expired entries", "removed", removed)
	}
	return removed, nil
}

func (s *Store) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

func (s *Store) IsAvailable() bool {
	return s != nil && s.client != nil
}

func (s *Store) Close() error {
	if !s.IsAvailable() {
		return nil
	}
	return s.client.Close()
}

func (s *Store) Stats(ctx context.Context) map[string]interface{} {
	if !s.IsAvailable() {
		return map[string]interface{}{"status": "unavailable"}
	}

	keys, _ := s.scanKeys(ctx, keyPrefix+"*")
	return map[string]interface{}{
		"status":              "connected",
		"entries":             len(keys),
		"default_ttl_seconds": int(s.defaultTTL.Seconds()),
		"recent_ttl_seconds":  int(s.recentTTL.Seconds()),
	}
}

func (s *Store) Keys(ctx context.Context) []string {
	if !s.IsAvailable() {
		return []string{}
	}
	keys, err := s.scanKeys(ctx, keyPrefix+"*")
	if err != nil {
		return []string{}
	}
	return keys
}

func (s *Store) KeyTTL(ctx context.Context, key string) time.Duration {
	if !s.IsAvailable() {
		return 0
	}
	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0
	}
	return ttl
}

func (s *Store) Flush(ctx context.Context) error {
	if !s.IsAvailable() {
		return fmt.Errorf("cache not available")
	}
	keys, err := s.scanKeys(ctx, keyPrefix+"*")
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

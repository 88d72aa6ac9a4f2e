package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

// Config collects every knob once at startup so nothing branches on ambient
// environment checks at call time.
type Config struct {
	Port string

	RedisURL        string
	RedisDB         int
	CacheTTL        time.Duration
	CacheRecentTTL  time.Duration
	SweepInterval   string

	ChromeExecPath    string
	ChromeHeadless    bool
	NavigationTimeout time.Duration
	BlockResources    bool

	MaxConcurrentSources int
	AggregateTimeout     time.Duration
	QueryVariations      int
	ChallengeWait        time.Duration

	DiagnosticsDir   string
	KafkaBroker      string
	DiagnosticsTopic string

	Dev bool
}

// Load reads .env when present and resolves the full configuration.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		zap.S().Debug("no .env file found")
	}

	return &Config{
		Port: getenv("PORT", "8085"),

		RedisURL:       getenv("REDIS_URL", "redis://localhost:6379"),
		RedisDB:        cast.ToInt(os.Getenv("REDIS_DB")),
		CacheTTL:       durationEnv("CACHE_TTL_SECONDS", 6*time.Hour),
		CacheRecentTTL: durationEnv("CACHE_RECENT_TTL_SECONDS", 30*time.Minute),
		SweepInterval:  getenv("CACHE_SWEEP_CRON", "@every 15m"),

		ChromeExecPath:    os.Getenv("CHROME_EXEC_PATH"),
		ChromeHeadless:    boolEnv("CHROME_HEADLESS", true),
		NavigationTimeout: durationEnv("NAVIGATION_TIMEOUT_SECONDS", 45*time.Second),
		BlockResources:    boolEnv("BLOCK_RESOURCES", true),

		MaxConcurrentSources: intEnv("MAX_CONCURRENT_SOURCES", 4),
		AggregateTimeout:     durationEnv("AGGREGATE_TIMEOUT_SECONDS", 90*time.Second),
		QueryVariations:      intEnv("QUERY_VARIATIONS", 3),
		ChallengeWait:        durationEnv("CHALLENGE_WAIT_SECONDS", 5*time.Second),

		DiagnosticsDir:   getenv("DIAGNOSTICS_DIR", "./data/diagnostics"),
		KafkaBroker:      os.Getenv("KAFKA_BROKER"),
		DiagnosticsTopic: getenv("DIAGNOSTICS_TOPIC", "aggregator.diagnostics"),

		Dev: boolEnv("DEV_MODE", false),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		return cast.ToInt(v)
	}
	return def
}

func boolEnv(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return cast.ToBool(v)
	}
	return def
}

func durationEnv(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if secs := cast.ToInt(v); secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}

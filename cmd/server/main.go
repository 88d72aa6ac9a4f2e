package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"market-aggregator-api/internal/adapters"
	"market-aggregator-api/internal/aggregator"
	"market-aggregator-api/internal/config"
	"market-aggregator-api/internal/diagnostics"
	"market-aggregator-api/internal/fallback"
	"market-aggregator-api/internal/models"
	"market-aggregator-api/pkg/antiblock"
	"market-aggregator-api/pkg/browser"
	"market-aggregator-api/pkg/cache"
	"market-aggregator-api/pkg/extract"
	"market-aggregator-api/pkg/retry"
)

var (
	rateLimiters = make(map[string]*rate.Limiter)
	rateMutex    = &sync.RWMutex{}
)

func main() {
	cfg := config.Load()
	initLogger(cfg.Dev)
	defer func() { _ = zap.L().Sync() }()

	store := cache.NewStore(cfg.RedisURL, cfg.RedisDB, cfg.CacheTTL, cfg.CacheRecentTTL)

	recorder, err := diagnostics.NewRecorder(cfg.DiagnosticsDir, cfg.KafkaBroker, cfg.DiagnosticsTopic)
	if err != nil {
		zap.S().Fatalw("failed to init diagnostics recorder", "err", err)
	}
	defer recorder.Close()

	registry := adapters.NewRegistry(adapters.Deps{
		Retry:    retry.Default(),
		Detector: antiblock.NewDetector(cfg.ChallengeWait),
		Synth:    fallback.NewSynthesizer(),
		Engine:   extract.NewEngine(),
		Diag:     recorder,
		Browser: browser.Options{
			ExecPath:          cfg.ChromeExecPath,
			Headless:          cfg.ChromeHeadless,
			BlockResources:    cfg.BlockResources,
			NavigationTimeout: cfg.NavigationTimeout,
		},
	})

	service, err := aggregator.NewService(registry, store, aggregator.Options{
		MaxConcurrentSources: cfg.MaxConcurrentSources,
		AggregateTimeout:     cfg.AggregateTimeout,
		QueryVariations:      cfg.QueryVariations,
	})
	if err != nil {
		zap.S().Fatalw("failed to init aggregator", "err", err)
	}
	defer service.Close()

	// Redis TTL handles the common expiry path; the sweep keeps entries
	// with drifted embedded expiry from surviving.
	sweeper := cron.New()
	if store.IsAvailable() {
		if _, err := sweeper.AddFunc(cfg.SweepInterval, func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if _, err := store.Sweep(ctx); err != nil {
				zap.S().Warnw("cache sweep failed", "err", err)
			}
		}); err != nil {
			zap.S().Warnw("invalid sweep schedule", "schedule", cfg.SweepInterval, "err", err)
		}
		sweeper.Start()
		defer sweeper.Stop()
	}

	if !cfg.Dev {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())
	r.Use(requestLogMiddleware())
	r.Use(rateLimitMiddleware())

	r.GET("/health", func(c *gin.Context) {
		health := gin.H{
			"status":  "healthy",
			"service": "market-aggregator-api",
			"version": "1.0.0",
			"sources": registry.Names(),
		}
		if store.IsAvailable() {
			health["cache"] = "redis connected"
		} else {
			health["cache"] = "redis unavailable"
		}
		c.JSON(http.StatusOK, health)
	})

	r.GET("/search", func(c *gin.Context) {
		params := parseSearchParams(c)
		start := time.Now()

		products, fromCache, err := service.Aggregate(c.Request.Context(), params.Query, params.Filters, params.Sources)
		if err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "contract_violation",
				Code:    http.StatusBadRequest,
				Message: err.Error(),
			})
			return
		}

		page, totalPages := aggregator.Paginate(products, params.Page, params.Limit)
		sources := params.Sources
		if len(sources) == 0 {
			sources = registry.Names()
		}

		c.JSON(http.StatusOK, models.SearchResponse{
			Query:      params.Query,
			Products:   page,
			Total:      len(products),
			Page:       params.Page,
			Limit:      params.Limit,
			TotalPages: totalPages,
			Sources:    sources,
			FromCache:  fromCache,
			Filters:    params.Filters,
			Duration:   time.Since(start).String(),
		})
	})

	r.GET("/products/:source/details", func(c *gin.Context) {
		details, err := service.Details(c.Request.Context(), c.Param("source"), c.Query("url"))
		if err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "details_failed",
				Code:    http.StatusBadRequest,
				Message: err.Error(),
			})
			return
		}
		if details == nil {
			c.JSON(http.StatusNotFound, models.ErrorResponse{
				Error:   "not_found",
				Code:    http.StatusNotFound,
				Message: "product details unavailable",
			})
			return
		}
		c.JSON(http.StatusOK, details)
	})

	r.GET("/products/:source/reviews", func(c *gin.Context) {
		page := 1
		if p, err := strconv.Atoi(c.Query("page")); err == nil && p > 0 {
			page = p
		}
		reviews, err := service.Reviews(c.Request.Context(), c.Param("source"), c.Query("url"), page)
		if err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "reviews_failed",
				Code:    http.StatusBadRequest,
				Message: err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"reviews": reviews, "page": page})
	})

	r.GET("/cache/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, store.Stats(c.Request.Context()))
	})

	r.GET("/cache/debug", func(c *gin.Context) {
		if !store.IsAvailable() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cache not available"})
			return
		}

		keys := store.Keys(c.Request.Context())
		keyDetails := make([]gin.H, 0, len(keys))
		for _, key := range keys {
			ttl := store.KeyTTL(c.Request.Context(), key)
			keyDetails = append(keyDetails, gin.H{
				"key":         key,
				"ttl_seconds": int(ttl.Seconds()),
				"expires_in":  ttl.String(),
			})
		}

		c.JSON(http.StatusOK, gin.H{
			"total_keys":  len(keys),
			"cache_keys":  keyDetails,
			"cache_stats": store.Stats(c.Request.Context()),
		})
	})

	r.DELETE("/cache/flush", func(c *gin.Context) {
		if err := store.Flush(c.Request.Context()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "failed to flush cache",
				"details": err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message":   "cache flushed successfully",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	r.GET("/api/info", func(c *gin.Context) {
		sources := make([]gin.H, 0)
		for _, d := range registry.Descriptors() {
			mode := "direct"
			if d.RequiresRenderedSession {
				mode = "rendered"
			}
			sources = append(sources, gin.H{
				"name":       d.Name,
				"base_url":   d.BaseURL,
				"mode":       mode,
				"direct_api": d.SupportsDirectAPI,
			})
		}
		c.JSON(http.StatusOK, gin.H{
			"name":        "Market Aggregator API",
			"version":     "1.0.0",
			"description": "Aggregates product listings across marketplace sources",
			"sources":     sources,
			"endpoints": map[string]string{
				"GET /search":                   "Aggregate search with filtering and sorting",
				"GET /products/:source/details": "Product details for one source",
				"GET /products/:source/reviews": "Paged product reviews for one source",
				"GET /health":                   "Health check",
				"GET /cache/stats":              "Cache statistics",
				"DELETE /cache/flush":           "Drop all cached results",
			},
		})
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		zap.S().Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.S().Infow("server listening", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		zap.S().Fatalw("server error", "err", err)
	}
}

func initLogger(dev bool) {
	var logger *zap.Logger
	var err error
	if dev {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(logger)
}

func parseSearchParams(c *gin.Context) models.SearchParams {
	params := models.SearchParams{
		Query: c.Query("q"),
		Page:  1,
		Limit: 10,
	}

	if sources := c.QueryArray("source"); len(sources) > 0 {
		params.Sources = sources
	}

	if p, err := strconv.Atoi(c.Query("page")); err == nil && p > 0 {
		params.Page = p
	}
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= 100 {
		params.Limit = l
	}

	if minPrice, err := strconv.ParseFloat(c.Query("min_price"), 64); err == nil {
		params.Filters.MinPrice = minPrice
	}
	if maxPrice, err := strconv.ParseFloat(c.Query("max_price"), 64); err == nil {
		params.Filters.MaxPrice = maxPrice
	}
	params.Filters.Brand = c.Query("brand")
	params.Filters.Category = c.Query("category")
	params.Filters.SortBy = c.Query("sort")

	return params
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

func requestLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := fmt.Sprintf("%d", time.Now().UnixNano())
		c.Header("X-Request-ID", requestID)
		start := time.Now()
		c.Next()
		zap.S().Infow("request",
			"id", requestID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func getRateLimiter(ip string) *rate.Limiter {
	rateMutex.RLock()
	limiter, exists := rateLimiters[ip]
	rateMutex.RUnlock()

	if !exists {
		rateMutex.Lock()
		limiter = rate.NewLimiter(rate.Limit(10), 20)
		rateLimiters[ip] = limiter
		rateMutex.Unlock()
	}
	return limiter
}

func rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		limiter := getRateLimiter(ip)
		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests from your IP",
				"retry_after": "1 second",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

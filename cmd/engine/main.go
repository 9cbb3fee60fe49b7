package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/postpilot/postpilot/internal/cache"
	"github.com/postpilot/postpilot/internal/config"
	"github.com/postpilot/postpilot/internal/db"
	"github.com/postpilot/postpilot/internal/embedding"
	"github.com/postpilot/postpilot/internal/generator"
	"github.com/postpilot/postpilot/internal/knowledge"
	"github.com/postpilot/postpilot/internal/llm"
	"github.com/postpilot/postpilot/internal/metrics"
	"github.com/postpilot/postpilot/internal/publisher"
	"github.com/postpilot/postpilot/internal/ratelimit"
	"github.com/postpilot/postpilot/internal/scheduler"
	"github.com/postpilot/postpilot/internal/tenants"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Database
	database, err := db.NewConnection(cfg.Database.URL, cfg.Database.MaxConnections, cfg.Database.MaxIdleConns)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	repo := db.NewRepository(database)

	// Redis-backed rate limiter; an unreachable store is fatal.
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Fatal("Invalid redis URL", zap.Error(err))
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limiter, err := ratelimit.New(ctx, redisClient, ratelimit.Config{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		BurstSize:         cfg.RateLimit.BurstSize,
		DailyLimit:        cfg.RateLimit.DailyLimit,
		KeyPrefix:         cfg.RateLimit.KeyPrefix,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize rate limiter", zap.Error(err))
	}

	// Generation pipeline
	embedder := embedding.NewHashingEmbedder(embedding.DefaultDims)
	promptCache := cache.New(cache.Config{
		MaxSize:             cfg.Cache.MaxSize,
		SimilarityThreshold: cfg.Cache.SimilarityThreshold,
		TTL:                 cfg.Cache.TTL,
	}, embedding.NewIndex(embedder), logger)

	kb := knowledge.New(knowledge.Config{
		SimilarityThreshold: cfg.Knowledge.SimilarityThreshold,
		MaxResults:          cfg.Knowledge.MaxResults,
	}, embedding.NewIndex(embedder), logger)

	prompts, err := llm.NewPromptManager()
	if err != nil {
		logger.Fatal("Failed to load prompt templates", zap.Error(err))
	}
	validator := llm.NewValidator(llm.ValidationConfig{MaxLength: cfg.Generator.MaxLength})

	var llmClient llm.Client
	if cfg.Generator.Mode == "http" {
		llmClient = llm.NewHTTPClient(llm.HTTPConfig{
			Endpoint: cfg.Generator.Endpoint,
			APIKey:   cfg.Generator.APIKey,
			Model:    cfg.Generator.Model,
		})
	} else {
		llmClient = llm.NewMockClient()
	}

	gen := generator.New(generator.Config{
		MaxAttempts: cfg.Generator.MaxAttempts,
		MaxLength:   cfg.Generator.MaxLength,
	}, llmClient, prompts, validator, promptCache, kb, limiter, logger)

	var pub publisher.Publisher
	if cfg.Publisher.Mode == "http" {
		pub = publisher.NewHTTP(publisher.HTTPConfig{
			Endpoint:          cfg.Publisher.Endpoint,
			AccessToken:       cfg.Publisher.AccessToken,
			RequestsPerSecond: cfg.Publisher.RequestsPerSecond,
		}, logger)
	} else {
		pub = publisher.NewMock(logger)
	}

	// Tenant directory; an unreachable directory at startup is fatal.
	directory := tenants.NewManager(repo, logger)
	if err := directory.Initialize(); err != nil {
		logger.Fatal("Failed to initialize tenant directory", zap.Error(err))
	}

	collector := metrics.NewCollector()

	sched := scheduler.New(scheduler.Config{
		CheckInterval: cfg.Scheduler.CheckInterval,
		BatchSize:     cfg.Scheduler.BatchSize,
		MaxRetries:    cfg.Scheduler.MaxRetries,
		RetryDelay:    cfg.Scheduler.RetryDelay,
	}, directory, repo, gen, pub, collector, logger)

	sched.Start()

	// Metrics exposition
	metricsSrv := &http.Server{
		Addr:    ":" + cfg.Metrics.Port,
		Handler: collector.Handler(),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	// Periodic gauge refresh
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := promptCache.Stats()
				collector.SetCacheStats(stats.Size, stats.Hits, stats.Misses)
				collector.SetActiveTenants(directory.Len())
			}
		}
	}()

	logger.Info("Engine started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down engine...")
	sched.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Metrics server shutdown failed", zap.Error(err))
	}

	logger.Info("Engine exited")
}

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

	"github.com/postpilot/postpilot/internal/api"
	"github.com/postpilot/postpilot/internal/api/handlers"
	"github.com/postpilot/postpilot/internal/cache"
	"github.com/postpilot/postpilot/internal/config"
	"github.com/postpilot/postpilot/internal/db"
	"github.com/postpilot/postpilot/internal/embedding"
	"github.com/postpilot/postpilot/internal/generator"
	"github.com/postpilot/postpilot/internal/knowledge"
	"github.com/postpilot/postpilot/internal/llm"
	"github.com/postpilot/postpilot/internal/ratelimit"
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

	database, err := db.NewConnection(cfg.Database.URL, cfg.Database.MaxConnections, cfg.Database.MaxIdleConns)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	repo := db.NewRepository(database)

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

	handler := handlers.NewHandler(repo, promptCache, kb, gen, limiter, logger)
	server := api.NewServer(cfg, handler, limiter, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: server.Router,
	}

	go func() {
		logger.Info("Starting API server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

package handlers

import (
	"go.uber.org/zap"

	"github.com/postpilot/postpilot/internal/cache"
	"github.com/postpilot/postpilot/internal/db"
	"github.com/postpilot/postpilot/internal/generator"
	"github.com/postpilot/postpilot/internal/knowledge"
	"github.com/postpilot/postpilot/internal/ratelimit"
)

type Handler struct {
	repo      *db.Repository
	cache     *cache.Cache
	knowledge *knowledge.Base
	generator *generator.Generator
	limiter   *ratelimit.Limiter
	logger    *zap.Logger
}

func NewHandler(repo *db.Repository, promptCache *cache.Cache, kb *knowledge.Base, gen *generator.Generator, limiter *ratelimit.Limiter, logger *zap.Logger) *Handler {
	return &Handler{
		repo:      repo,
		cache:     promptCache,
		knowledge: kb,
		generator: gen,
		limiter:   limiter,
		logger:    logger,
	}
}

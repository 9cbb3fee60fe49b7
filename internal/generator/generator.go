package generator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/postpilot/postpilot/internal/cache"
	"github.com/postpilot/postpilot/internal/knowledge"
	"github.com/postpilot/postpilot/internal/llm"
	"github.com/postpilot/postpilot/internal/ratelimit"
)

// ErrInvalidContent means every generation attempt failed validation.
// The scheduler treats it as a permanent failure for the current tick.
var ErrInvalidContent = errors.New("could not produce valid content")

type Config struct {
	MaxAttempts       int
	MaxLength         int
	MaxContextEntries int
}

// Generator turns a tenant's topic into validated post content. The
// response cache sits in front of the provider call; the shared rate
// limiter gates every attempt that would spend provider quota.
type Generator struct {
	cfg       Config
	client    llm.Client
	prompts   *llm.PromptManager
	validator *llm.Validator
	cache     *cache.Cache
	knowledge *knowledge.Base
	limiter   *ratelimit.Limiter
	logger    *zap.Logger
}

func New(
	cfg Config,
	client llm.Client,
	prompts *llm.PromptManager,
	validator *llm.Validator,
	promptCache *cache.Cache,
	kb *knowledge.Base,
	limiter *ratelimit.Limiter,
	logger *zap.Logger,
) *Generator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = 280
	}
	if cfg.MaxContextEntries <= 0 {
		cfg.MaxContextEntries = 3
	}
	return &Generator{
		cfg:       cfg,
		client:    client,
		prompts:   prompts,
		validator: validator,
		cache:     promptCache,
		knowledge: kb,
		limiter:   limiter,
		logger:    logger.With(zap.String("component", "generator")),
	}
}

// Generate produces post content for the tenant's topic, trying up to
// MaxAttempts completions until one passes validation.
func (g *Generator) Generate(ctx context.Context, tenantID, topic string) (string, error) {
	vars := llm.PromptVars{
		Topic:     topic,
		MaxLength: g.cfg.MaxLength,
		Context:   g.contextEntries(topic),
	}

	prompt, err := g.prompts.Render("post_generation", vars)
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}

	if g.cache != nil {
		if response, ok := g.cache.Get(prompt); ok {
			g.logger.Debug("Cache hit for prompt",
				zap.String("tenant_id", tenantID),
				zap.String("topic", topic),
			)
			return response, nil
		}
	}

	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		if g.limiter != nil {
			if _, err := g.limiter.Acquire(ctx, tenantID); err != nil {
				return "", fmt.Errorf("generation admission: %w", err)
			}
		}

		text, err := g.client.Complete(ctx, prompt)
		if err != nil {
			return "", fmt.Errorf("completion attempt %d: %w", attempt, err)
		}

		result := g.validator.Validate(text)
		if result.Valid {
			g.logger.Info("Content generated",
				zap.String("tenant_id", tenantID),
				zap.Int("attempt", attempt),
				zap.Int("length", result.CharCount),
				zap.Int("context_entries", len(vars.Context)),
			)
			if g.cache != nil {
				g.cache.Put(prompt, text, map[string]string{"tenant_id": tenantID})
			}
			return text, nil
		}

		g.logger.Warn("Generated content failed validation",
			zap.String("tenant_id", tenantID),
			zap.Int("attempt", attempt),
			zap.Strings("errors", result.Errors),
		)
	}

	return "", ErrInvalidContent
}

func (g *Generator) contextEntries(topic string) []string {
	if g.knowledge == nil {
		return nil
	}
	entries := g.knowledge.Search(topic, nil)
	if len(entries) > g.cfg.MaxContextEntries {
		entries = entries[:g.cfg.MaxContextEntries]
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Content)
	}
	return out
}

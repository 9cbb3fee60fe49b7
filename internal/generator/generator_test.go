package generator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/postpilot/postpilot/internal/cache"
	"github.com/postpilot/postpilot/internal/embedding"
	"github.com/postpilot/postpilot/internal/knowledge"
	"github.com/postpilot/postpilot/internal/llm"
	"github.com/postpilot/postpilot/internal/ratelimit"
)

func newTestCache() *cache.Cache {
	index := embedding.NewIndex(embedding.NewHashingEmbedder(embedding.DefaultDims))
	return cache.New(cache.Config{MaxSize: 100, SimilarityThreshold: 0.95, TTL: time.Hour}, index, zap.NewNop())
}

func newTestKnowledge() *knowledge.Base {
	index := embedding.NewIndex(embedding.NewHashingEmbedder(embedding.DefaultDims))
	return knowledge.New(knowledge.Config{SimilarityThreshold: 0.3, MaxResults: 5}, index, zap.NewNop())
}

func newTestLimiter(t *testing.T, cfg ratelimit.Config) *ratelimit.Limiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	limiter, err := ratelimit.New(context.Background(), client, cfg, zap.NewNop())
	require.NoError(t, err)
	return limiter
}

func newTestGenerator(t *testing.T, client llm.Client, promptCache *cache.Cache, kb *knowledge.Base, limiter *ratelimit.Limiter) *Generator {
	t.Helper()
	prompts, err := llm.NewPromptManager()
	require.NoError(t, err)
	validator := llm.NewValidator(llm.ValidationConfig{MaxLength: 280})
	return New(Config{MaxAttempts: 3, MaxLength: 280}, client, prompts, validator, promptCache, kb, limiter, zap.NewNop())
}

func TestGenerateReturnsValidContent(t *testing.T) {
	client := llm.NewMockClient("A short post about shipping software.")
	g := newTestGenerator(t, client, nil, nil, nil)

	got, err := g.Generate(context.Background(), "tenant-a", "shipping software")
	require.NoError(t, err)
	assert.Equal(t, "A short post about shipping software.", got)
	assert.Equal(t, 1, client.Calls())
}

func TestGenerateRetriesInvalidContent(t *testing.T) {
	// First two completions fail validation, the third passes.
	client := llm.NewMockClient("", strings.Repeat("x", 300), "This one is fine.")
	g := newTestGenerator(t, client, nil, nil, nil)

	got, err := g.Generate(context.Background(), "tenant-a", "retries")
	require.NoError(t, err)
	assert.Equal(t, "This one is fine.", got)
	assert.Equal(t, 3, client.Calls())
}

func TestGenerateExhaustsAttempts(t *testing.T) {
	client := llm.NewMockClient("")
	g := newTestGenerator(t, client, nil, nil, nil)

	_, err := g.Generate(context.Background(), "tenant-a", "hopeless")
	require.ErrorIs(t, err, ErrInvalidContent)
	assert.Equal(t, 3, client.Calls(), "attempts stop at the configured bound")
}

func TestGenerateCacheHitSkipsProvider(t *testing.T) {
	client := llm.NewMockClient("Cached-worthy post content.")
	promptCache := newTestCache()
	g := newTestGenerator(t, client, promptCache, nil, nil)

	ctx := context.Background()
	first, err := g.Generate(ctx, "tenant-a", "caching")
	require.NoError(t, err)

	second, err := g.Generate(ctx, "tenant-a", "caching")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, client.Calls(), "second call is served from cache")
}

func TestGenerateCacheHitSkipsRateLimiter(t *testing.T) {
	limiter := newTestLimiter(t, ratelimit.Config{
		RequestsPerSecond: 0.001,
		BurstSize:         1,
		DailyLimit:        100,
		KeyPrefix:         "test",
	})
	client := llm.NewMockClient("Quota is precious.")
	promptCache := newTestCache()
	g := newTestGenerator(t, client, promptCache, nil, limiter)

	ctx := context.Background()

	// The single token is spent here.
	_, err := g.Generate(ctx, "tenant-a", "quota")
	require.NoError(t, err)

	// A repeat does not touch the limiter, so it still succeeds.
	_, err = g.Generate(ctx, "tenant-a", "quota")
	require.NoError(t, err)

	// A fresh topic needs quota and is refused.
	_, err = g.Generate(ctx, "tenant-a", "an entirely different and uncached topic")
	require.Error(t, err)
	var limitErr *ratelimit.LimitExceededError
	assert.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 1, client.Calls(), "the provider only ever saw the first miss")
}

func TestGenerateIncludesKnowledgeContext(t *testing.T) {
	kb := newTestKnowledge()
	kb.Add("Our release cadence is every two weeks", nil)

	client := &promptCapturingClient{response: "Release post."}
	g := newTestGenerator(t, client, nil, kb, nil)

	_, err := g.Generate(context.Background(), "tenant-a", "release cadence")
	require.NoError(t, err)
	assert.Contains(t, client.lastPrompt, "release cadence")
	assert.Contains(t, client.lastPrompt, "every two weeks")
}

type promptCapturingClient struct {
	response   string
	lastPrompt string
}

func (c *promptCapturingClient) Complete(_ context.Context, prompt string) (string, error) {
	c.lastPrompt = prompt
	return c.response, nil
}

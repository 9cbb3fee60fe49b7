package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const windowSeconds = 86400 // UTC day

type Config struct {
	RequestsPerSecond float64
	BurstSize         int
	DailyLimit        int
	KeyPrefix         string
}

// Info describes the limiter state observed by a single check.
type Info struct {
	RemainingTokens float64       `json:"remaining_tokens"`
	RemainingDaily  int           `json:"remaining_daily"`
	WindowStart     time.Time     `json:"window_start"`
	ResetAt         time.Time     `json:"reset_at"`
	IsLimited       bool          `json:"is_limited"`
	RetryAfter      time.Duration `json:"retry_after"`
}

type LimitExceededError struct {
	TenantID   string
	RetryAfter time.Duration
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for tenant %s, retry after %s", e.TenantID, e.RetryAfter)
}

// The replenish/check/consume step runs server-side so that any number
// of engine instances share one consistent quota per tenant. Token
// counts are returned as strings to keep their fractional part across
// the Lua/RESP boundary.
var consumeScript = redis.NewScript(`
local key = KEYS[1]
local daily_key = KEYS[2]
local now = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])
local daily_limit = tonumber(ARGV[4])
local window_size = 86400

local bucket = redis.call('hmget', key, 'tokens', 'last_update')
local tokens = tonumber(bucket[1] or burst)
local last_update = tonumber(bucket[2] or 0)

local delta = math.max(0, now - last_update)
local new_tokens = math.min(burst, tokens + (delta * rate))

local daily_count = tonumber(redis.call('get', daily_key) or 0)
if daily_count >= daily_limit then
    return {tostring(new_tokens), daily_count, 0}
end

if new_tokens >= 1 then
    redis.call('hset', key, 'tokens', new_tokens - 1, 'last_update', now)
    redis.call('incr', daily_key)
    if daily_count == 0 then
        local window_start = math.floor(now / window_size) * window_size
        local ttl = window_start + window_size - now
        redis.call('expire', daily_key, math.ceil(ttl))
    end
    return {tostring(new_tokens - 1), daily_count + 1, 1}
end

return {tostring(new_tokens), daily_count, 0}
`)

// Limiter is a token-bucket plus daily-cap rate limiter backed by a
// shared Redis instance. It holds no per-tenant state in process.
type Limiter struct {
	cfg    Config
	client *redis.Client
	logger *zap.Logger

	now func() time.Time
}

// New builds a limiter and verifies the backing store is reachable.
// An unreachable store is a startup failure, not a degraded mode.
func New(ctx context.Context, client *redis.Client, cfg Config, logger *zap.Logger) (*Limiter, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("rate limiter redis ping: %w", err)
	}

	l := &Limiter{
		cfg:    cfg,
		client: client,
		logger: logger.With(zap.String("component", "rate_limiter")),
		now:    time.Now,
	}

	l.logger.Info("Rate limiter initialized",
		zap.Float64("requests_per_second", cfg.RequestsPerSecond),
		zap.Int("burst_size", cfg.BurstSize),
		zap.Int("daily_limit", cfg.DailyLimit),
	)
	return l, nil
}

func (l *Limiter) keys(tenantID string) (string, string) {
	prefix := l.cfg.KeyPrefix
	return prefix + ":bucket:" + tenantID, prefix + ":daily:" + tenantID
}

// Check runs the atomic replenish/consume step for tenantID and reports
// the resulting state. A limited result consumes nothing.
func (l *Limiter) Check(ctx context.Context, tenantID string) (Info, error) {
	now := l.now()
	nowSec := float64(now.UnixNano()) / 1e9
	bucketKey, dailyKey := l.keys(tenantID)

	res, err := consumeScript.Run(ctx, l.client,
		[]string{bucketKey, dailyKey},
		nowSec,
		l.cfg.RequestsPerSecond,
		l.cfg.BurstSize,
		l.cfg.DailyLimit,
	).Result()
	if err != nil {
		return Info{}, fmt.Errorf("rate limit script: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 3 {
		return Info{}, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}

	tokens, err := strconv.ParseFloat(fmt.Sprint(vals[0]), 64)
	if err != nil {
		return Info{}, fmt.Errorf("rate limit script: bad token count: %w", err)
	}
	dailyCount := int(toInt64(vals[1]))
	allowed := toInt64(vals[2]) == 1

	windowStart := now.UTC().Truncate(windowSeconds * time.Second)
	resetAt := windowStart.Add(windowSeconds * time.Second)

	info := Info{
		RemainingTokens: tokens,
		RemainingDaily:  l.cfg.DailyLimit - dailyCount,
		WindowStart:     windowStart,
		ResetAt:         resetAt,
		IsLimited:       !allowed,
	}

	if !allowed {
		if dailyCount >= l.cfg.DailyLimit {
			info.RetryAfter = resetAt.Sub(now)
		} else {
			info.RetryAfter = time.Duration((1.0 - tokens) / l.cfg.RequestsPerSecond * float64(time.Second))
		}
	}

	return info, nil
}

// Status reports the limiter state for tenantID without consuming
// anything, replaying the replenish math client-side.
func (l *Limiter) Status(ctx context.Context, tenantID string) (Info, error) {
	now := l.now()
	bucketKey, dailyKey := l.keys(tenantID)

	bucket, err := l.client.HMGet(ctx, bucketKey, "tokens", "last_update").Result()
	if err != nil {
		return Info{}, fmt.Errorf("rate limit status: %w", err)
	}

	tokens := float64(l.cfg.BurstSize)
	lastUpdate := 0.0
	if len(bucket) == 2 {
		if s, ok := bucket[0].(string); ok {
			if v, err := strconv.ParseFloat(s, 64); err == nil {
				tokens = v
			}
		}
		if s, ok := bucket[1].(string); ok {
			if v, err := strconv.ParseFloat(s, 64); err == nil {
				lastUpdate = v
			}
		}
	}

	nowSec := float64(now.UnixNano()) / 1e9
	if delta := nowSec - lastUpdate; lastUpdate > 0 && delta > 0 {
		tokens += delta * l.cfg.RequestsPerSecond
	}
	if burst := float64(l.cfg.BurstSize); tokens > burst {
		tokens = burst
	}

	dailyCount := 0
	if v, err := l.client.Get(ctx, dailyKey).Int(); err == nil {
		dailyCount = v
	} else if err != redis.Nil {
		return Info{}, fmt.Errorf("rate limit status: %w", err)
	}

	windowStart := now.UTC().Truncate(windowSeconds * time.Second)
	resetAt := windowStart.Add(windowSeconds * time.Second)

	info := Info{
		RemainingTokens: tokens,
		RemainingDaily:  l.cfg.DailyLimit - dailyCount,
		WindowStart:     windowStart,
		ResetAt:         resetAt,
		IsLimited:       dailyCount >= l.cfg.DailyLimit || tokens < 1,
	}
	if info.IsLimited {
		if dailyCount >= l.cfg.DailyLimit {
			info.RetryAfter = resetAt.Sub(now)
		} else {
			info.RetryAfter = time.Duration((1.0 - tokens) / l.cfg.RequestsPerSecond * float64(time.Second))
		}
	}
	return info, nil
}

// Acquire is Check that fails with a LimitExceededError when limited.
func (l *Limiter) Acquire(ctx context.Context, tenantID string) (Info, error) {
	info, err := l.Check(ctx, tenantID)
	if err != nil {
		return info, err
	}
	if info.IsLimited {
		l.logger.Warn("Rate limit exceeded",
			zap.String("tenant_id", tenantID),
			zap.Duration("retry_after", info.RetryAfter),
			zap.Int("remaining_daily", info.RemainingDaily),
		)
		return info, &LimitExceededError{TenantID: tenantID, RetryAfter: info.RetryAfter}
	}
	return info, nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}

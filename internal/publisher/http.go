package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type HTTPConfig struct {
	Endpoint          string
	AccessToken       string
	RequestsPerSecond float64
	Timeout           time.Duration
}

// HTTP posts to the live provider. A client-side pacing limiter keeps
// outbound calls below the provider's advertised per-second budget; the
// shared Redis limiter remains the authoritative quota.
type HTTP struct {
	cfg     HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewHTTP(cfg HTTPConfig, logger *zap.Logger) *HTTP {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 2
	}
	return &HTTP{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:  logger.With(zap.String("component", "http_publisher")),
	}
}

type publishRequest struct {
	Text string `json:"text"`
}

type publishResponse struct {
	ID string `json:"id"`
}

func (p *HTTP) Publish(ctx context.Context, text string) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", err
	}

	body, err := json.Marshal(publishRequest{Text: text})
	if err != nil {
		return "", fmt.Errorf("marshal publish request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.AccessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("publish request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &RateLimitError{ResetAt: parseReset(resp)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("publish failed with status %d: %s", resp.StatusCode, msg)
	}

	var out publishResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode publish response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("publish response missing post id")
	}

	p.logger.Debug("Post published", zap.String("post_id", out.ID))
	return out.ID, nil
}

// parseReset reads the provider's reset hint, falling back to a short
// delay when the header is absent or malformed.
func parseReset(resp *http.Response) time.Time {
	now := time.Now().UTC()

	if v := resp.Header.Get("X-Rate-Limit-Reset"); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Unix(epoch, 0).UTC()
		}
	}
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return now.Add(time.Duration(secs) * time.Second)
		}
	}
	return now.Add(time.Minute)
}

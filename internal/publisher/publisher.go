package publisher

import (
	"context"
	"fmt"
	"time"
)

// Publisher posts content on a tenant's behalf and returns the external
// post id. Exactly two implementations exist: Mock and HTTP.
type Publisher interface {
	Publish(ctx context.Context, text string) (string, error)
}

// RateLimitError signals the provider refused the post for quota
// reasons and carries the moment the quota resumes.
type RateLimitError struct {
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("posting rate limit exceeded, resets at %s", e.ResetAt.Format(time.RFC3339))
}

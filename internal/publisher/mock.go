package publisher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type MockPost struct {
	ID        string
	Text      string
	CreatedAt time.Time
}

// Mock is the in-memory publisher used in development and tests. It
// enforces a simple remaining-call budget so quota handling can be
// exercised without a real provider.
type Mock struct {
	logger *zap.Logger

	mu        sync.Mutex
	posts     []MockPost
	remaining int
}

func NewMock(logger *zap.Logger) *Mock {
	return &Mock{
		logger:    logger.With(zap.String("component", "mock_publisher")),
		remaining: 300,
	}
}

func (m *Mock) Publish(_ context.Context, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.remaining <= 0 {
		return "", &RateLimitError{ResetAt: time.Now().UTC().Add(15 * time.Minute)}
	}

	post := MockPost{
		ID:        fmt.Sprintf("mock_post_%d", len(m.posts)+1),
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	m.posts = append(m.posts, post)
	m.remaining--

	m.logger.Info("Mock post published",
		zap.String("post_id", post.ID),
		zap.Int("rate_limit_remaining", m.remaining),
	)
	return post.ID, nil
}

// SetRemaining overrides the remaining-call budget.
func (m *Mock) SetRemaining(n int) {
	m.mu.Lock()
	m.remaining = n
	m.mu.Unlock()
}

func (m *Mock) Posts() []MockPost {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockPost, len(m.posts))
	copy(out, m.posts)
	return out
}

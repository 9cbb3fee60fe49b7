package knowledge

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/postpilot/postpilot/internal/embedding"
)

type Config struct {
	SimilarityThreshold float64
	MaxResults          int
}

type Entry struct {
	ID        string                 `json:"id"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Base stores contextual snippets and retrieves the ones most similar
// to a query, optionally filtered by metadata. It shares the embedding
// index implementation with the response cache.
type Base struct {
	cfg    Config
	index  *embedding.Index
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[string]*Entry
}

func New(cfg Config, index *embedding.Index, logger *zap.Logger) *Base {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	return &Base{
		cfg:     cfg,
		index:   index,
		logger:  logger.With(zap.String("component", "knowledge_base")),
		entries: make(map[string]*Entry),
	}
}

func (b *Base) Add(content string, metadata map[string]interface{}) *Entry {
	now := time.Now().UTC()
	e := &Entry{
		ID:        uuid.New().String(),
		Content:   content,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}

	b.mu.Lock()
	b.entries[e.ID] = e
	b.mu.Unlock()
	b.index.Upsert(e.ID, content)

	b.logger.Info("Knowledge entry added",
		zap.String("entry_id", e.ID),
		zap.Int("content_length", len(content)),
	)
	return e
}

func (b *Base) Get(id string) (*Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[id]
	return e, ok
}

func (b *Base) Update(id string, content string, metadata map[string]interface{}) (*Entry, bool) {
	b.mu.Lock()
	e, ok := b.entries[id]
	if !ok {
		b.mu.Unlock()
		return nil, false
	}

	if content != "" {
		e.Content = content
	}
	for k, v := range metadata {
		e.Metadata[k] = v
	}
	e.UpdatedAt = time.Now().UTC()
	b.mu.Unlock()

	// Index writes happen outside b.mu, matching Add.
	if content != "" {
		b.index.Upsert(id, content)
	}
	return e, true
}

func (b *Base) Remove(id string) bool {
	b.mu.Lock()
	if _, ok := b.entries[id]; !ok {
		b.mu.Unlock()
		return false
	}
	delete(b.entries, id)
	b.mu.Unlock()

	b.index.Remove(id)
	return true
}

// Search returns up to MaxResults entries whose similarity to query
// meets the threshold, best first. A non-nil filter keeps only entries
// whose metadata contains every given key/value pair.
func (b *Base) Search(query string, filter map[string]interface{}) []*Entry {
	qvec := b.index.Embed(query)

	// The filter is resolved to an id set before querying the index so
	// the accept callback never touches b.mu while the index holds its
	// own lock. b.mu must not be acquired inside index calls.
	var accept func(id string) bool
	if filter != nil {
		b.mu.RLock()
		accepted := make(map[string]struct{}, len(b.entries))
		for id, e := range b.entries {
			if metadataMatches(e, filter) {
				accepted[id] = struct{}{}
			}
		}
		b.mu.RUnlock()

		accept = func(id string) bool {
			_, ok := accepted[id]
			return ok
		}
	}

	matches := b.index.Search(qvec, b.cfg.SimilarityThreshold, b.cfg.MaxResults, accept)

	b.mu.RLock()
	defer b.mu.RUnlock()
	results := make([]*Entry, 0, len(matches))
	for _, m := range matches {
		if e, ok := b.entries[m.ID]; ok {
			results = append(results, e)
		}
	}
	return results
}

func metadataMatches(e *Entry, filter map[string]interface{}) bool {
	for k, v := range filter {
		if e.Metadata[k] != v {
			return false
		}
	}
	return true
}

func (b *Base) Clear() {
	b.mu.Lock()
	b.entries = make(map[string]*Entry)
	b.mu.Unlock()

	b.index.Clear()
}

func (b *Base) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

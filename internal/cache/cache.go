package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/postpilot/postpilot/internal/embedding"
)

type Config struct {
	MaxSize             int
	SimilarityThreshold float64
	TTL                 time.Duration
}

type Stats struct {
	Size     int     `json:"size"`
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	HitRatio float64 `json:"hit_ratio"`
}

type entry struct {
	key          string
	prompt       string
	response     string
	metadata     map[string]string
	createdAt    time.Time
	lastAccessed time.Time
	accessCount  int
}

// Cache maps prompts to previously generated responses. Lookup tries an
// exact hash probe first, then a cosine similarity scan over unexpired
// entries. Expired entries are only skipped, never removed eagerly;
// they leave under LRU pressure or when overwritten.
type Cache struct {
	cfg    Config
	index  *embedding.Index
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used
	hits    int64
	misses  int64

	now func() time.Time
}

func New(cfg Config, index *embedding.Index, logger *zap.Logger) *Cache {
	c := &Cache{
		cfg:     cfg,
		index:   index,
		logger:  logger.With(zap.String("component", "prompt_cache")),
		entries: make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}

	c.logger.Info("Prompt cache initialized",
		zap.Int("max_size", cfg.MaxSize),
		zap.Float64("similarity_threshold", cfg.SimilarityThreshold),
		zap.Duration("ttl", cfg.TTL),
	)
	return c
}

func hashKey(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) expired(e *entry) bool {
	return c.now().Sub(e.createdAt) > c.cfg.TTL
}

// Get returns the cached response for prompt, matching exactly or by
// similarity. The second return is false on a miss.
func (c *Cache) Get(prompt string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := hashKey(prompt)
	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry)
		if !c.expired(e) {
			return c.hit(el, e), true
		}
	}

	// No live exact match; scan unexpired entries oldest-first, the
	// first one over the threshold wins.
	query := c.index.Embed(prompt)
	for el := c.order.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*entry)
		if c.expired(e) {
			continue
		}
		score, ok := c.index.Similarity(e.key, query)
		if !ok || score < c.cfg.SimilarityThreshold {
			continue
		}
		c.logger.Debug("Similar prompt hit",
			zap.Float64("similarity", score),
			zap.String("cached_prompt", e.prompt),
		)
		return c.hit(el, e), true
	}

	c.misses++
	return "", false
}

func (c *Cache) hit(el *list.Element, e *entry) string {
	e.lastAccessed = c.now()
	e.accessCount++
	c.order.MoveToFront(el)
	c.hits++
	return e.response
}

// Put stores a prompt/response pair, evicting least-recently-used
// entries when the cache would exceed its size bound.
func (c *Cache) Put(prompt, response string, metadata map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := hashKey(prompt)
	c.index.Upsert(key, prompt)

	now := c.now()
	e := &entry{
		key:          key,
		prompt:       prompt,
		response:     response,
		metadata:     metadata,
		createdAt:    now,
		lastAccessed: now,
	}

	if el, ok := c.entries[key]; ok {
		el.Value = e
		c.order.MoveToFront(el)
	} else {
		c.entries[key] = c.order.PushFront(e)
	}

	for c.order.Len() > c.cfg.MaxSize {
		c.evictOldest()
	}
}

func (c *Cache) evictOldest() {
	el := c.order.Back()
	if el == nil {
		return
	}
	e := el.Value.(*entry)
	c.order.Remove(el)
	delete(c.entries, e.key)
	c.index.Remove(e.key)
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element)
	c.order.Init()
	c.index.Clear()
	c.hits = 0
	c.misses = 0
	c.logger.Info("Prompt cache cleared")
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	ratio := 0.0
	if total > 0 {
		ratio = float64(c.hits) / float64(total)
	}
	return Stats{
		Size:     c.order.Len(),
		Hits:     c.hits,
		Misses:   c.misses,
		HitRatio: ratio,
	}
}

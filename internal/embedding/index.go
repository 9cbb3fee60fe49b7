package embedding

import (
	"sort"
	"sync"
)

// Match is a single similarity search result.
type Match struct {
	ID    string
	Score float64
}

// Index holds vectors keyed by caller-assigned IDs and answers cosine
// similarity queries against them. It is the one similarity primitive
// shared by the response cache and the knowledge base.
type Index struct {
	embedder Embedder

	mu      sync.RWMutex
	vectors map[string][]float32
}

func NewIndex(embedder Embedder) *Index {
	return &Index{
		embedder: embedder,
		vectors:  make(map[string][]float32),
	}
}

// Embed delegates to the underlying embedder.
func (ix *Index) Embed(text string) []float32 {
	return ix.embedder.Embed(text)
}

// Upsert embeds text and stores the vector under id, returning it.
func (ix *Index) Upsert(id, text string) []float32 {
	vec := ix.embedder.Embed(text)

	ix.mu.Lock()
	ix.vectors[id] = vec
	ix.mu.Unlock()

	return vec
}

func (ix *Index) Remove(id string) {
	ix.mu.Lock()
	delete(ix.vectors, id)
	ix.mu.Unlock()
}

// Similarity scores the stored vector for id against query. The second
// return is false when id is not indexed.
func (ix *Index) Similarity(id string, query []float32) (float64, bool) {
	ix.mu.RLock()
	vec, ok := ix.vectors[id]
	ix.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return Cosine(query, vec), true
}

// Search returns entries scoring at least threshold against query,
// sorted by descending score and capped at max (0 = unlimited). When
// accept is non-nil, entries it rejects are skipped before scoring.
func (ix *Index) Search(query []float32, threshold float64, max int, accept func(id string) bool) []Match {
	ix.mu.RLock()
	matches := make([]Match, 0)
	for id, vec := range ix.vectors {
		if accept != nil && !accept(id) {
			continue
		}
		if score := Cosine(query, vec); score >= threshold {
			matches = append(matches, Match{ID: id, Score: score})
		}
	}
	ix.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if max > 0 && len(matches) > max {
		matches = matches[:max]
	}
	return matches
}

func (ix *Index) Clear() {
	ix.mu.Lock()
	ix.vectors = make(map[string][]float32)
	ix.mu.Unlock()
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.vectors)
}

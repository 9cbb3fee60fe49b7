package knowledge

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/postpilot/postpilot/internal/embedding"
)

func newTestBase(cfg Config) *Base {
	index := embedding.NewIndex(embedding.NewHashingEmbedder(embedding.DefaultDims))
	return New(cfg, index, zap.NewNop())
}

func TestAddAndGet(t *testing.T) {
	b := newTestBase(Config{SimilarityThreshold: 0.5})

	e := b.Add("Go channels are typed conduits", map[string]interface{}{"topic": "go"})
	require.NotEmpty(t, e.ID)
	assert.Equal(t, 1, b.Len())

	got, ok := b.Get(e.ID)
	require.True(t, ok)
	assert.Equal(t, "Go channels are typed conduits", got.Content)
	assert.Equal(t, "go", got.Metadata["topic"])

	_, ok = b.Get("missing")
	assert.False(t, ok)
}

func TestSearchReturnsRelevantEntries(t *testing.T) {
	b := newTestBase(Config{SimilarityThreshold: 0.3, MaxResults: 3})

	b.Add("Postgres index scans and query planning", nil)
	b.Add("Redis eviction policies under memory pressure", nil)
	b.Add("Sourdough starter feeding schedule", nil)

	results := b.Search("query planning with postgres indexes", nil)
	require.NotEmpty(t, results)
	assert.Contains(t, results[0].Content, "Postgres")

	for _, r := range results {
		assert.NotContains(t, r.Content, "Sourdough")
	}
}

func TestSearchMetadataFilter(t *testing.T) {
	b := newTestBase(Config{SimilarityThreshold: 0.3, MaxResults: 5})

	b.Add("Deploying services with rolling updates", map[string]interface{}{"tenant": "a"})
	b.Add("Deploying services with rolling updates", map[string]interface{}{"tenant": "b"})

	results := b.Search("rolling updates for service deploys", map[string]interface{}{"tenant": "b"})
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].Metadata["tenant"])
}

func TestSearchCapsResults(t *testing.T) {
	b := newTestBase(Config{SimilarityThreshold: 0.2, MaxResults: 2})

	for i := 0; i < 5; i++ {
		b.Add("kubernetes pod scheduling internals", nil)
	}

	results := b.Search("kubernetes pod scheduling", nil)
	assert.Len(t, results, 2)
}

func TestUpdate(t *testing.T) {
	b := newTestBase(Config{SimilarityThreshold: 0.5})

	e := b.Add("old content about queues", map[string]interface{}{"v": 1})

	updated, ok := b.Update(e.ID, "new content about streams", map[string]interface{}{"v": 2})
	require.True(t, ok)
	assert.Equal(t, "new content about streams", updated.Content)
	assert.Equal(t, 2, updated.Metadata["v"])

	// The index follows the new content.
	results := b.Search("content about streams", nil)
	require.NotEmpty(t, results)
	assert.Equal(t, e.ID, results[0].ID)

	_, ok = b.Update("missing", "x", nil)
	assert.False(t, ok)
}

func TestConcurrentFilteredSearchAndMutation(t *testing.T) {
	b := newTestBase(Config{SimilarityThreshold: 0.3, MaxResults: 5})

	ids := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		e := b.Add(fmt.Sprintf("deployment notes for service %d", i), map[string]interface{}{"tenant": "a"})
		ids = append(ids, e.ID)
	}

	// Filtered searches hold the index lock while resolving entries;
	// updates and removes take the locks the other way around. Run
	// both sides hard enough that an ordering inversion would wedge.
	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				b.Search("deployment notes", map[string]interface{}{"tenant": "a"})
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				b.Update(ids[i%len(ids)], "revised deployment notes", map[string]interface{}{"rev": i})
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				e := b.Add("transient deployment entry", map[string]interface{}{"tenant": "b"})
				b.Remove(e.ID)
			}
		}()
		wg.Wait()
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("filtered search deadlocked against concurrent mutation")
	}
	assert.Equal(t, 50, b.Len())
}

func TestRemoveAndClear(t *testing.T) {
	b := newTestBase(Config{SimilarityThreshold: 0.5})

	e := b.Add("ephemeral entry", nil)
	require.True(t, b.Remove(e.ID))
	assert.False(t, b.Remove(e.ID))
	assert.Equal(t, 0, b.Len())

	b.Add("one", nil)
	b.Add("two", nil)
	b.Clear()
	assert.Equal(t, 0, b.Len())
	assert.Empty(t, b.Search("one", nil))
}

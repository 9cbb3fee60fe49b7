package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/postpilot/postpilot/internal/db"
	"github.com/postpilot/postpilot/internal/metrics"
	"github.com/postpilot/postpilot/internal/publisher"
	"github.com/postpilot/postpilot/internal/tenants"
)

type fakeDirectory struct {
	mu     sync.Mutex
	due    []*tenants.Context
	posted map[string]time.Time
}

func (d *fakeDirectory) DueTenants(now time.Time) []*tenants.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	due := d.due
	d.due = nil // one round only
	return due
}

func (d *fakeDirectory) MarkPosted(id string, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.posted == nil {
		d.posted = make(map[string]time.Time)
	}
	d.posted[id] = at
}

type fakeStore struct {
	mu        sync.Mutex
	jobs      map[string]*db.PostingJob
	failures  map[string][]string
	posted    map[string]string
	getErr    error
	createErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:     make(map[string]*db.PostingJob),
		failures: make(map[string][]string),
		posted:   make(map[string]string),
	}
}

func (s *fakeStore) GetTenant(id string) (*db.Tenant, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return &db.Tenant{ID: id, PersonaTopic: "golang tips", Timezone: "UTC", Active: true}, nil
}

func (s *fakeStore) CreateJob(j *db.PostingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.jobs[j.ID] = j
	return nil
}

func (s *fakeStore) MarkJobFailed(id, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[id] = append(s.failures[id], errorMessage)
	return nil
}

func (s *fakeStore) MarkJobPosted(id, tenantID, externalRef string, postedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posted[id] = externalRef
	return nil
}

type fakeGenerator struct {
	mu      sync.Mutex
	calls   []string
	err     error
	active  int
	maxSeen int
}

func (g *fakeGenerator) Generate(ctx context.Context, tenantID, topic string) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, tenantID)
	g.active++
	if g.active > g.maxSeen {
		g.maxSeen = g.active
	}
	g.mu.Unlock()

	time.Sleep(10 * time.Millisecond)

	g.mu.Lock()
	g.active--
	g.mu.Unlock()

	if g.err != nil {
		return "", g.err
	}
	return "generated content about " + topic, nil
}

type fakePublisher struct {
	mu    sync.Mutex
	errs  []error // consumed one per call, nil entries succeed
	calls int
}

func (p *fakePublisher) Publish(ctx context.Context, text string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		if err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("ref-%d", p.calls), nil
}

func dueContexts(n int) []*tenants.Context {
	out := make([]*tenants.Context, n)
	for i := range out {
		out[i] = &tenants.Context{TenantID: fmt.Sprintf("tenant-%d", i), Active: true}
	}
	return out
}

func newTestScheduler(cfg Config, dir *fakeDirectory, store *fakeStore, gen *fakeGenerator, pub *fakePublisher) *Scheduler {
	return New(cfg, dir, store, gen, pub, metrics.NewCollector(), zap.NewNop())
}

func TestTickProcessesAllDueTenantsInChunks(t *testing.T) {
	dir := &fakeDirectory{due: dueContexts(7)}
	store := newFakeStore()
	gen := &fakeGenerator{}
	pub := &fakePublisher{}

	s := newTestScheduler(Config{BatchSize: 5, MaxRetries: 3, RetryDelay: time.Millisecond}, dir, store, gen, pub)
	s.tick(context.Background())

	// Every due tenant ran its pipeline exactly once.
	assert.Len(t, gen.calls, 7)
	assert.Len(t, store.posted, 7)
	assert.Len(t, dir.posted, 7)

	// Concurrency never exceeded the chunk size.
	assert.LessOrEqual(t, gen.maxSeen, 5)
	assert.Greater(t, gen.maxSeen, 1, "chunk members should overlap")
}

func TestTickNoDueTenants(t *testing.T) {
	dir := &fakeDirectory{}
	store := newFakeStore()
	gen := &fakeGenerator{}
	pub := &fakePublisher{}

	s := newTestScheduler(Config{BatchSize: 5, MaxRetries: 3}, dir, store, gen, pub)
	s.tick(context.Background())

	assert.Empty(t, gen.calls)
	assert.Zero(t, pub.calls)
}

func TestGenerationFailureSkipsPosting(t *testing.T) {
	dir := &fakeDirectory{due: dueContexts(1)}
	store := newFakeStore()
	gen := &fakeGenerator{err: errors.New("provider down")}
	pub := &fakePublisher{}

	s := newTestScheduler(Config{BatchSize: 5, MaxRetries: 3}, dir, store, gen, pub)
	s.tick(context.Background())

	assert.Zero(t, pub.calls)
	assert.Empty(t, store.jobs, "no job should be created without content")
	assert.Empty(t, dir.posted, "failed tenant keeps its last-post state")
}

func TestPostRetriesThenSucceeds(t *testing.T) {
	dir := &fakeDirectory{due: dueContexts(1)}
	store := newFakeStore()
	gen := &fakeGenerator{}
	pub := &fakePublisher{errs: []error{errors.New("flaky network"), nil}}

	s := newTestScheduler(Config{BatchSize: 5, MaxRetries: 3, RetryDelay: time.Millisecond}, dir, store, gen, pub)
	s.tick(context.Background())

	assert.Equal(t, 2, pub.calls)
	assert.Len(t, store.posted, 1)
	require.Len(t, store.failures, 1)
	for _, msgs := range store.failures {
		assert.Equal(t, []string{"flaky network"}, msgs)
	}
	assert.Len(t, dir.posted, 1)
}

func TestPostRetriesExhausted(t *testing.T) {
	dir := &fakeDirectory{due: dueContexts(1)}
	store := newFakeStore()
	gen := &fakeGenerator{}
	pub := &fakePublisher{errs: []error{
		errors.New("boom"), errors.New("boom"), errors.New("boom"),
	}}

	s := newTestScheduler(Config{BatchSize: 5, MaxRetries: 3, RetryDelay: time.Millisecond}, dir, store, gen, pub)
	s.tick(context.Background())

	assert.Equal(t, 3, pub.calls, "attempts are bounded by the retry limit")
	assert.Empty(t, store.posted)
	assert.Empty(t, dir.posted, "exhausted tenant keeps its last-post state")
	for _, msgs := range store.failures {
		assert.Len(t, msgs, 3)
	}
}

func TestQuotaErrorWaitsForReset(t *testing.T) {
	dir := &fakeDirectory{due: dueContexts(1)}
	store := newFakeStore()
	gen := &fakeGenerator{}

	resetAt := time.Now().Add(50 * time.Millisecond)
	pub := &fakePublisher{errs: []error{&publisher.RateLimitError{ResetAt: resetAt}, nil}}

	s := newTestScheduler(Config{BatchSize: 5, MaxRetries: 3, RetryDelay: time.Hour}, dir, store, gen, pub)

	start := time.Now()
	s.tick(context.Background())
	elapsed := time.Since(start)

	// The retry waited for the provider reset, not the fixed delay.
	assert.Equal(t, 2, pub.calls)
	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
	assert.Less(t, elapsed, 5*time.Second)
	assert.Len(t, store.posted, 1)

	// The quota failure was recorded with the reset time.
	found := false
	for _, msgs := range store.failures {
		for _, m := range msgs {
			if assert.Contains(t, m, "Rate limit exceeded") {
				found = true
			}
		}
	}
	assert.True(t, found)
}

func TestStartStopIdempotent(t *testing.T) {
	dir := &fakeDirectory{}
	store := newFakeStore()
	gen := &fakeGenerator{}
	pub := &fakePublisher{}

	s := newTestScheduler(Config{CheckInterval: time.Hour, BatchSize: 5, MaxRetries: 3}, dir, store, gen, pub)

	s.Start()
	assert.True(t, s.Running())
	s.Start() // no-op

	s.Stop()
	assert.False(t, s.Running())
	s.Stop() // no-op
}

func TestStopCancelsRetrySleep(t *testing.T) {
	dir := &fakeDirectory{due: dueContexts(1)}
	store := newFakeStore()
	gen := &fakeGenerator{}
	pub := &fakePublisher{errs: []error{errors.New("boom"), errors.New("boom"), errors.New("boom")}}

	s := newTestScheduler(Config{
		CheckInterval: time.Hour,
		BatchSize:     5,
		MaxRetries:    3,
		RetryDelay:    time.Hour,
	}, dir, store, gen, pub)

	s.Start()
	time.Sleep(50 * time.Millisecond) // let the first attempt fail and enter the retry sleep

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return while a retry sleep was pending")
	}
	assert.Empty(t, store.posted)
}

func TestTickSurvivesPanickingPipeline(t *testing.T) {
	dir := &fakeDirectory{due: dueContexts(2)}
	store := newFakeStore()
	gen := &panickyGenerator{panicOn: "tenant-0"}
	pub := &fakePublisher{}

	s := New(Config{BatchSize: 5, MaxRetries: 3}, dir, store, gen, pub, metrics.NewCollector(), zap.NewNop())

	require.NotPanics(t, func() { s.tick(context.Background()) })

	// The healthy tenant still posted.
	assert.Len(t, store.posted, 1)
}

type panickyGenerator struct {
	panicOn string
}

func (g *panickyGenerator) Generate(ctx context.Context, tenantID, topic string) (string, error) {
	if tenantID == g.panicOn {
		panic("bad pipeline state")
	}
	return "fine content", nil
}

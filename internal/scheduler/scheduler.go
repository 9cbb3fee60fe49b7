package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/postpilot/postpilot/internal/db"
	"github.com/postpilot/postpilot/internal/metrics"
	"github.com/postpilot/postpilot/internal/publisher"
	"github.com/postpilot/postpilot/internal/tenants"
)

type Config struct {
	CheckInterval time.Duration
	BatchSize     int
	MaxRetries    int
	RetryDelay    time.Duration
}

// Directory answers which tenants are due and tracks the in-memory
// side of the last-post pair.
type Directory interface {
	DueTenants(now time.Time) []*tenants.Context
	MarkPosted(id string, at time.Time)
}

// ContentGenerator produces validated post content for a tenant.
type ContentGenerator interface {
	Generate(ctx context.Context, tenantID, topic string) (string, error)
}

// Store is the persistence collaborator for tenant and job records.
type Store interface {
	GetTenant(id string) (*db.Tenant, error)
	CreateJob(j *db.PostingJob) error
	MarkJobFailed(id, errorMessage string) error
	MarkJobPosted(id, tenantID, externalRef string, postedAt time.Time) error
}

// Scheduler drives periodic content posting: every CheckInterval it
// collects due tenants and runs their pipelines in chunks of BatchSize,
// waiting for each chunk before starting the next.
type Scheduler struct {
	cfg       Config
	directory Directory
	store     Store
	generator ContentGenerator
	publisher publisher.Publisher
	metrics   *metrics.Collector
	logger    *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	now func() time.Time
}

func New(
	cfg Config,
	directory Directory,
	store Store,
	gen ContentGenerator,
	pub publisher.Publisher,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Scheduler{
		cfg:       cfg,
		directory: directory,
		store:     store,
		generator: gen,
		publisher: pub,
		metrics:   collector,
		logger:    logger.With(zap.String("component", "scheduler")),
		now:       time.Now,
	}
}

// Start launches the background scheduling loop. Starting a running
// scheduler is a logged no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warn("Scheduler already running")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()

	s.logger.Info("Scheduler started",
		zap.Duration("check_interval", s.cfg.CheckInterval),
		zap.Int("batch_size", s.cfg.BatchSize),
	)
}

// Stop cancels the loop and waits for the in-flight tick to unwind.
// Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) run(ctx context.Context) {
	for {
		s.tick(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.CheckInterval):
		}
	}
}

// tick processes one scheduling round. Nothing escaping it may kill the
// loop: failures are logged here and the loop sleeps as usual.
func (s *Scheduler) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Scheduler tick panicked", zap.Any("panic", r))
		}
	}()

	start := s.now()
	due := s.directory.DueTenants(start)
	s.metrics.SetDueTenants(len(due))
	if len(due) == 0 {
		return
	}

	s.logger.Info("Processing due tenants", zap.Int("count", len(due)))

	for i := 0; i < len(due); i += s.cfg.BatchSize {
		end := i + s.cfg.BatchSize
		if end > len(due) {
			end = len(due)
		}

		var wg sync.WaitGroup
		for _, tc := range due[i:end] {
			wg.Add(1)
			go func(tc *tenants.Context) {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						s.logger.Error("Tenant pipeline panicked",
							zap.String("tenant_id", tc.TenantID),
							zap.Any("panic", r),
						)
					}
				}()
				s.processTenant(ctx, tc)
			}(tc)
		}
		wg.Wait()

		if ctx.Err() != nil {
			return
		}
	}

	s.metrics.ObserveTick(s.now().Sub(start))
}

// processTenant runs the full per-tenant pipeline: re-fetch schedule,
// generate, create a pending job, post with retries, persist outcome.
func (s *Scheduler) processTenant(ctx context.Context, tc *tenants.Context) {
	logger := s.logger.With(zap.String("tenant_id", tc.TenantID))

	tenant, err := s.store.GetTenant(tc.TenantID)
	if err != nil {
		logger.Error("Tenant not found", zap.Error(err))
		return
	}

	genStart := s.now()
	content, err := s.generator.Generate(ctx, tenant.ID, tenant.PersonaTopic)
	if err != nil {
		logger.Error("Failed to generate content", zap.Error(err))
		s.metrics.RecordPostError(tenant.ID, "generation")
		return
	}
	s.metrics.ObserveGeneration(tenant.ID, s.now().Sub(genStart))

	job := &db.PostingJob{
		ID:        uuid.New().String(),
		TenantID:  tenant.ID,
		Content:   content,
		Status:    db.JobStatusPending,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateJob(job); err != nil {
		logger.Error("Failed to create job", zap.Error(err))
		return
	}

	externalRef, ok := s.postWithRetry(ctx, job, logger)
	if !ok {
		// Job is already marked failed; the tenant stays eligible for
		// the rest of its hour slot.
		return
	}

	postedAt := s.now().UTC()
	if err := s.store.MarkJobPosted(job.ID, tenant.ID, externalRef, postedAt); err != nil {
		logger.Error("Failed to persist posted job", zap.Error(err))
		return
	}
	s.directory.MarkPosted(tenant.ID, postedAt)
	s.metrics.RecordPostSent(tenant.ID)

	logger.Info("Post published",
		zap.String("job_id", job.ID),
		zap.String("external_ref", externalRef),
	)
}

// postWithRetry attempts the posting call up to MaxRetries times. A
// quota error waits until the provider's reset time, anything else
// waits RetryDelay. Exhaustion returns ok=false rather than an error.
func (s *Scheduler) postWithRetry(ctx context.Context, job *db.PostingJob, logger *zap.Logger) (string, bool) {
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		externalRef, err := s.publisher.Publish(ctx, job.Content)
		if err == nil {
			return externalRef, true
		}
		if ctx.Err() != nil {
			return "", false
		}

		var rle *publisher.RateLimitError
		if errors.As(err, &rle) {
			logger.Warn("Posting rate limited",
				zap.Int("attempt", attempt),
				zap.Time("reset_at", rle.ResetAt),
			)
			s.markFailed(job.ID, fmt.Sprintf("Rate limit exceeded. Reset at: %s", rle.ResetAt.Format(time.RFC3339)), logger)
			s.metrics.RecordRateLimited(job.TenantID)

			if attempt < s.cfg.MaxRetries {
				if wait := rle.ResetAt.Sub(s.now()); wait > 0 {
					if !s.sleep(ctx, wait) {
						return "", false
					}
				}
			}
			continue
		}

		logger.Error("Error posting content",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		s.markFailed(job.ID, err.Error(), logger)
		s.metrics.RecordPostError(job.TenantID, "posting")

		if attempt < s.cfg.MaxRetries {
			if !s.sleep(ctx, s.cfg.RetryDelay) {
				return "", false
			}
		}
	}
	return "", false
}

func (s *Scheduler) markFailed(jobID, message string, logger *zap.Logger) {
	if err := s.store.MarkJobFailed(jobID, message); err != nil {
		logger.Error("Failed to mark job failed", zap.Error(err))
	}
}

// sleep waits d or until cancellation; false means cancelled.
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

package tenants

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/postpilot/postpilot/internal/db"
)

// Context is the engine's in-memory execution state for one tenant.
// LastPostAt mirrors the persisted column and the two are only ever
// advanced together, on a confirmed successful post.
type Context struct {
	TenantID   string
	LastPostAt *time.Time
	Active     bool
}

// Manager is the tenant directory: it owns the per-tenant contexts and
// answers which tenants are due at a given instant.
type Manager struct {
	repo   *db.Repository
	logger *zap.Logger

	mu       sync.RWMutex
	contexts map[string]*Context
}

func NewManager(repo *db.Repository, logger *zap.Logger) *Manager {
	return &Manager{
		repo:     repo,
		logger:   logger.With(zap.String("component", "tenant_directory")),
		contexts: make(map[string]*Context),
	}
}

// Initialize loads every active tenant. An unreachable directory at
// startup is fatal for the engine.
func (m *Manager) Initialize() error {
	tenants, err := m.repo.GetActiveTenants()
	if err != nil {
		return fmt.Errorf("load active tenants: %w", err)
	}

	m.mu.Lock()
	for _, t := range tenants {
		m.contexts[t.ID] = &Context{
			TenantID:   t.ID,
			LastPostAt: t.LastPostAt,
			Active:     t.Active,
		}
	}
	m.mu.Unlock()

	m.logger.Info("Tenant directory initialized", zap.Int("tenant_count", len(tenants)))
	return nil
}

func (m *Manager) Add(t *db.Tenant) {
	m.mu.Lock()
	m.contexts[t.ID] = &Context{
		TenantID:   t.ID,
		LastPostAt: t.LastPostAt,
		Active:     t.Active,
	}
	m.mu.Unlock()

	m.logger.Info("Tenant added", zap.String("tenant_id", t.ID))
}

func (m *Manager) Remove(id string) {
	m.mu.Lock()
	delete(m.contexts, id)
	m.mu.Unlock()

	m.logger.Info("Tenant removed", zap.String("tenant_id", id))
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.contexts)
}

func (m *Manager) Context(id string) (*Context, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ctx, ok := m.contexts[id]
	return ctx, ok
}

// MarkPosted advances the in-memory side of the last-post pair. The
// caller persists the database side in the same operation.
func (m *Manager) MarkPosted(id string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ctx, ok := m.contexts[id]; ok {
		t := at
		ctx.LastPostAt = &t
	}
}

// DueTenants re-reads the active tenant set, syncs the registered
// contexts against it, and returns the contexts due at now. Tenants
// created or rescheduled elsewhere take effect on the next round.
func (m *Manager) DueTenants(now time.Time) []*Context {
	active, err := m.repo.GetActiveTenants()
	if err != nil {
		m.logger.Error("Failed to refresh tenant directory", zap.Error(err))
		return nil
	}

	m.mu.Lock()
	seen := make(map[string]struct{}, len(active))
	for _, t := range active {
		seen[t.ID] = struct{}{}
		ctx, ok := m.contexts[t.ID]
		if !ok {
			ctx = &Context{TenantID: t.ID, LastPostAt: t.LastPostAt}
			m.contexts[t.ID] = ctx
		}
		ctx.Active = t.Active
		// The in-memory mark can lead the row briefly; keep the later.
		if ctx.LastPostAt == nil || (t.LastPostAt != nil && t.LastPostAt.After(*ctx.LastPostAt)) {
			ctx.LastPostAt = t.LastPostAt
		}
	}
	for id := range m.contexts {
		if _, ok := seen[id]; !ok {
			delete(m.contexts, id)
		}
	}
	m.mu.Unlock()

	due := make([]*Context, 0)
	for _, tenant := range active {
		m.mu.RLock()
		ctx := m.contexts[tenant.ID]
		lastPostAt := ctx.LastPostAt
		m.mu.RUnlock()

		isDue, err := IsDue(tenant, lastPostAt, now)
		if err != nil {
			m.logger.Error("Skipping tenant with bad schedule",
				zap.String("tenant_id", tenant.ID),
				zap.Error(err),
			)
			continue
		}
		if isDue {
			due = append(due, ctx)
		}
	}
	return due
}

// IsDue reports whether the tenant should post at now: it is active,
// now falls in one of its posting hours in its own timezone, and no
// successful post has landed in the same local hour slot yet. A slot is
// the local date plus hour, so the same wall-clock hour becomes
// eligible again the next day.
func IsDue(t *db.Tenant, lastPostAt *time.Time, now time.Time) (bool, error) {
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return false, fmt.Errorf("invalid timezone %q: %w", t.Timezone, err)
	}

	local := now.In(loc)
	if !t.Active || !t.PostingHours.Contains(local.Hour()) {
		return false, nil
	}
	if lastPostAt == nil {
		return true, nil
	}

	last := lastPostAt.In(loc)
	sameSlot := last.Year() == local.Year() &&
		last.YearDay() == local.YearDay() &&
		last.Hour() == local.Hour()
	return !sameSlot, nil
}

package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

var ErrNotFound = errors.New("record not found")

type Repository struct {
	db *sqlx.DB
}

func NewConnection(databaseURL string, maxConns, maxIdle int) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Ping() error {
	return r.db.Ping()
}

// Tenant operations
func (r *Repository) CreateTenant(t *Tenant) error {
	query := `
        INSERT INTO tenants (
            id, name, persona_topic, timezone, posting_hours,
            active, last_post_at, created_at, updated_at
        ) VALUES (
            :id, :name, :persona_topic, :timezone, :posting_hours,
            :active, :last_post_at, :created_at, :updated_at
        )`

	_, err := r.db.NamedExec(query, t)
	return err
}

func (r *Repository) GetTenant(id string) (*Tenant, error) {
	var t Tenant
	query := `SELECT * FROM tenants WHERE id = $1`
	err := r.db.Get(&t, query, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *Repository) GetActiveTenants() ([]*Tenant, error) {
	tenants := []*Tenant{}
	query := `SELECT * FROM tenants WHERE active = true ORDER BY created_at`
	err := r.db.Select(&tenants, query)
	return tenants, err
}

func (r *Repository) ListTenants(limit, offset int) ([]*Tenant, error) {
	tenants := []*Tenant{}
	query := `
        SELECT * FROM tenants
        ORDER BY created_at DESC
        LIMIT $1 OFFSET $2`

	err := r.db.Select(&tenants, query, limit, offset)
	return tenants, err
}

func (r *Repository) UpdateTenant(t *Tenant) error {
	query := `
        UPDATE tenants SET
            name = :name,
            persona_topic = :persona_topic,
            timezone = :timezone,
            posting_hours = :posting_hours,
            active = :active,
            updated_at = :updated_at
        WHERE id = :id`

	t.UpdatedAt = time.Now().UTC()
	_, err := r.db.NamedExec(query, t)
	return err
}

func (r *Repository) DeleteTenant(id string) error {
	query := `DELETE FROM tenants WHERE id = $1`
	res, err := r.db.Exec(query, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkTenantPosted advances last_post_at. Called only after a confirmed
// successful post, paired with the in-memory context update.
func (r *Repository) MarkTenantPosted(id string, postedAt time.Time) error {
	query := `UPDATE tenants SET last_post_at = $2, updated_at = $2 WHERE id = $1`
	_, err := r.db.Exec(query, id, postedAt)
	return err
}

// Job operations
func (r *Repository) CreateJob(j *PostingJob) error {
	query := `
        INSERT INTO posting_jobs (
            id, tenant_id, content, status, external_ref,
            error_message, created_at, posted_at
        ) VALUES (
            :id, :tenant_id, :content, :status, :external_ref,
            :error_message, :created_at, :posted_at
        )`

	_, err := r.db.NamedExec(query, j)
	return err
}

func (r *Repository) GetJob(id string) (*PostingJob, error) {
	var j PostingJob
	query := `SELECT * FROM posting_jobs WHERE id = $1`
	err := r.db.Get(&j, query, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *Repository) GetTenantJobs(tenantID string, limit int) ([]*PostingJob, error) {
	jobs := []*PostingJob{}
	query := `
        SELECT * FROM posting_jobs
        WHERE tenant_id = $1
        ORDER BY created_at DESC
        LIMIT $2`

	err := r.db.Select(&jobs, query, tenantID, limit)
	return jobs, err
}

func (r *Repository) MarkJobFailed(id, errorMessage string) error {
	query := `UPDATE posting_jobs SET status = $2, error_message = $3 WHERE id = $1`
	_, err := r.db.Exec(query, id, JobStatusFailed, errorMessage)
	return err
}

// MarkJobPosted records the successful outcome and the tenant's
// last_post_at in one transaction so the pair never diverges.
func (r *Repository) MarkJobPosted(id, tenantID, externalRef string, postedAt time.Time) error {
	tx, err := r.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
        UPDATE posting_jobs SET
            status = $2,
            external_ref = $3,
            error_message = '',
            posted_at = $4
        WHERE id = $1`

	if _, err = tx.Exec(query, id, JobStatusPosted, externalRef, postedAt); err != nil {
		return fmt.Errorf("update job: %w", err)
	}

	tenantQuery := `UPDATE tenants SET last_post_at = $2, updated_at = $2 WHERE id = $1`
	if _, err = tx.Exec(tenantQuery, tenantID, postedAt); err != nil {
		return fmt.Errorf("update tenant: %w", err)
	}

	return tx.Commit()
}

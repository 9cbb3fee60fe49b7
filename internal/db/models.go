package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusPosted  JobStatus = "posted"
	JobStatusFailed  JobStatus = "failed"
)

// Tenant is an independently configured account the engine posts on
// behalf of. PostingHours are local hours of day (0-23) in Timezone.
type Tenant struct {
	ID           string     `json:"id" db:"id"`
	Name         string     `json:"name" db:"name"`
	PersonaTopic string     `json:"persona_topic" db:"persona_topic"`
	Timezone     string     `json:"timezone" db:"timezone"`
	PostingHours IntSlice   `json:"posting_hours" db:"posting_hours"`
	Active       bool       `json:"active" db:"active"`
	LastPostAt   *time.Time `json:"last_post_at" db:"last_post_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

type PostingJob struct {
	ID           string     `json:"id" db:"id"`
	TenantID     string     `json:"tenant_id" db:"tenant_id"`
	Content      string     `json:"content" db:"content"`
	Status       JobStatus  `json:"status" db:"status"`
	ExternalRef  string     `json:"external_ref,omitempty" db:"external_ref"`
	ErrorMessage string     `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	PostedAt     *time.Time `json:"posted_at" db:"posted_at"`
}

// Custom types for PostgreSQL JSONB columns
type IntSlice []int

func (s IntSlice) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *IntSlice) Scan(value interface{}) error {
	if value == nil {
		*s = []int{}
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("unsupported type %T for IntSlice", value)
	}
	return json.Unmarshal(b, s)
}

// Contains reports whether hour is one of the tenant's posting hours.
func (s IntSlice) Contains(hour int) bool {
	for _, h := range s {
		if h == hour {
			return true
		}
	}
	return false
}

type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("unsupported type %T for JSONB", value)
	}
	return json.Unmarshal(b, j)
}

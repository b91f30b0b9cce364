package job

import (
	"context"
	"time"

	"ragvault/src/core/knowledgebase"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job is the status record of one background document ingestion
type Job struct {
	ID            string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Document      string    `gorm:"not null" json:"document"`
	BlobKey       string    `gorm:"not null" json:"-"`
	Status        JobStatus `gorm:"type:varchar(16);index;not null" json:"status"`
	Error         *string   `json:"error,omitempty"`
	ChunksTotal   int       `json:"chunks_total"`
	ChunksAdded   int       `json:"chunks_added"`
	ChunksSkipped int       `json:"chunks_skipped"`
	ChunksFailed  int       `json:"chunks_failed"`
	HaltedByQuota bool      `json:"halted_by_quota"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (Job) TableName() string {
	return "ingest_jobs"
}

// JobRepository defines the interface for job persistence
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	// Get returns nil without error when the job does not exist.
	Get(ctx context.Context, id string) (*Job, error)
	// List returns the most recent jobs first.
	List(ctx context.Context, limit int) ([]Job, error)
	UpdateStatus(ctx context.Context, id string, status JobStatus, errMsg *string) error
	// Finish records the terminal status together with the ingestion report,
	// which may be nil when ingestion never started.
	Finish(ctx context.Context, id string, status JobStatus, report *knowledgebase.Report, errMsg *string) error
}

package job

import (
	"context"
	"slices"
	"sync"
	"time"

	"ragvault/src/core/knowledgebase"
)

// MemoryJobRepository keeps job records for the lifetime of the process.
type MemoryJobRepository struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	now  func() time.Time
}

func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{
		jobs: make(map[string]*Job),
		now:  time.Now,
	}
}

func (r *MemoryJobRepository) Create(_ context.Context, job *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	job.CreatedAt = now
	job.UpdatedAt = now
	stored := *job
	r.jobs[job.ID] = &stored
	return nil
}

func (r *MemoryJobRepository) Get(_ context.Context, id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, nil
	}
	copied := *job
	return &copied, nil
}

func (r *MemoryJobRepository) List(_ context.Context, limit int) ([]Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobs := make([]Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		jobs = append(jobs, *job)
	}
	slices.SortFunc(jobs, func(a, b Job) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (r *MemoryJobRepository) UpdateStatus(_ context.Context, id string, status JobStatus, errMsg *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = status
	job.Error = errMsg
	job.UpdatedAt = r.now()
	return nil
}

func (r *MemoryJobRepository) Finish(_ context.Context, id string, status JobStatus, report *knowledgebase.Report, errMsg *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = status
	job.Error = errMsg
	if report != nil {
		job.ChunksTotal = report.ChunksTotal
		job.ChunksAdded = report.ChunksAdded
		job.ChunksSkipped = report.ChunksSkipped
		job.ChunksFailed = report.ChunksFailed
		job.HaltedByQuota = report.HaltedByQuota
	}
	job.UpdatedAt = r.now()
	return nil
}

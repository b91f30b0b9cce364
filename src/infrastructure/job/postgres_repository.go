package job

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"ragvault/src/core/knowledgebase"
)

var ErrJobNotFound = errors.New("job not found")

type PostgresJobRepository struct {
	db *gorm.DB
}

func NewPostgresJobRepository(db *gorm.DB) *PostgresJobRepository {
	return &PostgresJobRepository{db: db}
}

// Migrate creates or updates the jobs table.
func (r *PostgresJobRepository) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&Job{})
}

func (r *PostgresJobRepository) Create(ctx context.Context, job *Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *PostgresJobRepository) Get(ctx context.Context, id string) (*Job, error) {
	var job Job
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&job)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}

	return &job, nil
}

func (r *PostgresJobRepository) List(ctx context.Context, limit int) ([]Job, error) {
	var jobs []Job
	result := r.db.WithContext(ctx).Order("created_at desc").Limit(limit).Find(&jobs)
	if result.Error != nil {
		return nil, result.Error
	}
	return jobs, nil
}

func (r *PostgresJobRepository) UpdateStatus(ctx context.Context, id string, status JobStatus, errMsg *string) error {
	return r.update(ctx, id, map[string]interface{}{
		"status": status,
		"error":  errMsg,
	})
}

func (r *PostgresJobRepository) Finish(ctx context.Context, id string, status JobStatus, report *knowledgebase.Report, errMsg *string) error {
	fields := map[string]interface{}{
		"status": status,
		"error":  errMsg,
	}
	if report != nil {
		fields["chunks_total"] = report.ChunksTotal
		fields["chunks_added"] = report.ChunksAdded
		fields["chunks_skipped"] = report.ChunksSkipped
		fields["chunks_failed"] = report.ChunksFailed
		fields["halted_by_quota"] = report.HaltedByQuota
	}
	return r.update(ctx, id, fields)
}

func (r *PostgresJobRepository) update(ctx context.Context, id string, fields map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&Job{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrJobNotFound
	}

	return nil
}

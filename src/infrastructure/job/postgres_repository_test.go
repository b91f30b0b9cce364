package job_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ragvault/src/core/knowledgebase"
	"ragvault/src/infrastructure/job"
)

func newMockRepo(t *testing.T) (*job.PostgresJobRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		if closeErr := db.Close(); closeErr != nil {
			t.Logf("Failed to close mock db: %v", closeErr)
		}
	})

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return job.NewPostgresJobRepository(gdb), mock
}

func TestPostgresJobRepository_Get(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT \* FROM "ingest_jobs" WHERE id = \$1`).
		WithArgs("job-1", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "document", "blob_key", "status", "chunks_added", "created_at", "updated_at"}).
			AddRow("job-1", "edital.pdf", "staging/job-1/edital.pdf", "completed", 3, now, now))

	got, err := repo.Get(context.Background(), "job-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "edital.pdf", got.Document)
	assert.Equal(t, job.JobStatusCompleted, got.Status)
	assert.Equal(t, 3, got.ChunksAdded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJobRepository_GetNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT \* FROM "ingest_jobs" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	got, err := repo.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJobRepository_List(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT \* FROM "ingest_jobs" ORDER BY created_at desc LIMIT \$1`).
		WithArgs(20).
		WillReturnRows(sqlmock.NewRows([]string{"id", "document", "status"}).
			AddRow("b", "b.pdf", "running").
			AddRow("a", "a.pdf", "completed"))

	jobs, err := repo.List(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "b", jobs[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJobRepository_UpdateStatusNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`UPDATE "ingest_jobs" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), "missing", job.JobStatusRunning, nil)
	assert.ErrorIs(t, err, job.ErrJobNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJobRepository_Finish(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`UPDATE "ingest_jobs" SET .*"chunks_added"=.*"halted_by_quota"=.*"status"=.* WHERE id = `).
		WillReturnResult(sqlmock.NewResult(0, 1))

	report := &knowledgebase.Report{ChunksTotal: 10, ChunksAdded: 4, HaltedByQuota: true}
	err := repo.Finish(context.Background(), "job-1", job.JobStatusCompleted, report, nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

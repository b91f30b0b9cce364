package job

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragvault/src/core/knowledgebase"
)

func TestMemoryJobRepository(t *testing.T) {
	repo := NewMemoryJobRepository()
	clock := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	repo.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &Job{ID: "a", Document: "a.pdf", Status: JobStatusPending}))
	require.NoError(t, repo.Create(ctx, &Job{ID: "b", Document: "b.pdf", Status: JobStatusPending}))

	got, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a.pdf", got.Document)

	missing, err := repo.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	jobs, err := repo.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "b", jobs[0].ID)

	jobs, err = repo.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	require.NoError(t, repo.UpdateStatus(ctx, "a", JobStatusRunning, nil))
	msg := "quota"
	report := &knowledgebase.Report{ChunksTotal: 10, ChunksAdded: 4, HaltedByQuota: true}
	require.NoError(t, repo.Finish(ctx, "a", JobStatusCompleted, report, &msg))

	got, err = repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, got.Status)
	assert.Equal(t, 4, got.ChunksAdded)
	assert.True(t, got.HaltedByQuota)
	assert.Equal(t, "quota", *got.Error)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))

	assert.ErrorIs(t, repo.UpdateStatus(ctx, "nope", JobStatusRunning, nil), ErrJobNotFound)
	assert.ErrorIs(t, repo.Finish(ctx, "nope", JobStatusFailed, nil, nil), ErrJobNotFound)
}

func TestMemoryJobRepository_GetReturnsCopy(t *testing.T) {
	repo := NewMemoryJobRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &Job{ID: "a", Status: JobStatusPending}))

	got, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	got.Status = JobStatusFailed

	again, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, again.Status)
}

package job_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragvault/src/core/knowledgebase"
	"ragvault/src/infrastructure/job"
	"ragvault/src/storage/blob"
)

type fakeIngester struct {
	mu    sync.Mutex
	seen  map[string][]byte
	fails map[string]error
}

func (f *fakeIngester) IngestDocument(_ context.Context, name string, data []byte) (*knowledgebase.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = map[string][]byte{}
	}
	f.seen[name] = data
	if err := f.fails[name]; err != nil {
		return nil, err
	}
	return &knowledgebase.Report{
		Document:      name,
		ChunksTotal:   5,
		ChunksAdded:   3,
		ChunksSkipped: 2,
	}, nil
}

func (f *fakeIngester) data(name string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[name]
}

type failingPublisher struct{}

func (failingPublisher) Publish(string, ...*message.Message) error { return errors.New("broker down") }
func (failingPublisher) Close() error                              { return nil }

type pipeline struct {
	svc      *job.JobService
	repo     *job.MemoryJobRepository
	ingester *fakeIngester
	root     string
}

func newPipeline(t *testing.T, ingester *fakeIngester) *pipeline {
	t.Helper()
	logger := watermill.NopLogger{}
	root := t.TempDir()
	repo := job.NewMemoryJobRepository()
	ps := job.NewGoChannelPubSub(logger)
	svc := job.NewJobService(ps.Publisher, repo, blob.NewLocalStore(root, nil), ingester, logger)

	router, err := job.NewRouter(ps.Subscriber, svc, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if runErr := router.Run(ctx); runErr != nil {
			t.Logf("router stopped: %v", runErr)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = ps.Close()
	})

	select {
	case <-router.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("router did not start")
	}

	return &pipeline{svc: svc, repo: repo, ingester: ingester, root: root}
}

func (p *pipeline) waitFor(t *testing.T, id string, status job.JobStatus) *job.Job {
	t.Helper()
	var got *job.Job
	require.Eventually(t, func() bool {
		j, err := p.svc.Get(context.Background(), id)
		if err != nil || j == nil {
			return false
		}
		got = j
		return j.Status == status
	}, 5*time.Second, 10*time.Millisecond)
	return got
}

func TestJobService_UploadIsIngested(t *testing.T) {
	p := newPipeline(t, &fakeIngester{})

	created, err := p.svc.EnqueueUpload(context.Background(), "dir/edital.pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "edital.pdf", created.Document)
	assert.Equal(t, job.JobStatusPending, created.Status)

	done := p.waitFor(t, created.ID, job.JobStatusCompleted)
	assert.Nil(t, done.Error)
	assert.Equal(t, 5, done.ChunksTotal)
	assert.Equal(t, 3, done.ChunksAdded)
	assert.Equal(t, 2, done.ChunksSkipped)
	assert.Equal(t, []byte("%PDF-1.4"), p.ingester.data("edital.pdf"))

	_, statErr := os.Stat(filepath.Join(p.root, "staging", created.ID, "edital.pdf"))
	assert.True(t, os.IsNotExist(statErr), "staged upload should be removed")
}

func TestJobService_FailureIsRecorded(t *testing.T) {
	p := newPipeline(t, &fakeIngester{fails: map[string]error{
		"broken.pdf": knowledgebase.ErrExtraction,
	}})

	created, err := p.svc.EnqueueUpload(context.Background(), "broken.pdf", []byte("garbage"))
	require.NoError(t, err)

	failed := p.waitFor(t, created.ID, job.JobStatusFailed)
	require.NotNil(t, failed.Error)
	assert.Contains(t, *failed.Error, "extraction")

	jobs, err := p.svc.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestJobService_RejectsInvalidFilename(t *testing.T) {
	p := newPipeline(t, &fakeIngester{})

	for _, name := range []string{"", "..", "/"} {
		_, err := p.svc.EnqueueUpload(context.Background(), name, []byte("x"))
		assert.ErrorIs(t, err, knowledgebase.ErrInvalidRequest, "filename %q", name)
	}
}

func TestJobService_PublishFailureMarksJobFailed(t *testing.T) {
	root := t.TempDir()
	repo := job.NewMemoryJobRepository()
	svc := job.NewJobService(failingPublisher{}, repo, blob.NewLocalStore(root, nil), &fakeIngester{}, watermill.NopLogger{})

	_, err := svc.EnqueueUpload(context.Background(), "a.pdf", []byte("x"))
	require.Error(t, err)

	jobs, err := repo.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, job.JobStatusFailed, jobs[0].Status)

	_, statErr := os.Stat(filepath.Join(root, "staging", jobs[0].ID, "a.pdf"))
	assert.True(t, os.IsNotExist(statErr))
}

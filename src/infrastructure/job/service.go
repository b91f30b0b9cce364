package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"ragvault/src/core/knowledgebase"
	"ragvault/src/storage/blob"
)

// TopicUploads carries one message per uploaded document.
const TopicUploads = "ingest.uploads"

// Ingester runs a staged document through extraction and ingestion.
type Ingester interface {
	IngestDocument(ctx context.Context, name string, data []byte) (*knowledgebase.Report, error)
}

type JobService struct {
	publisher message.Publisher
	repo      JobRepository
	blobs     blob.Store
	ingester  Ingester
	logger    watermill.LoggerAdapter
}

type JobMessage struct {
	JobID    string `json:"job_id"`
	Document string `json:"document"`
	BlobKey  string `json:"blob_key"`
}

func NewJobService(
	publisher message.Publisher,
	repo JobRepository,
	blobs blob.Store,
	ingester Ingester,
	logger watermill.LoggerAdapter,
) *JobService {
	return &JobService{
		publisher: publisher,
		repo:      repo,
		blobs:     blobs,
		ingester:  ingester,
		logger:    logger,
	}
}

// EnqueueUpload stages the document bytes, records a pending job and
// publishes it for the ingestion worker.
func (s *JobService) EnqueueUpload(ctx context.Context, filename string, data []byte) (*Job, error) {
	name := path.Base(filename)
	if name == "." || name == ".." || name == "/" {
		return nil, fmt.Errorf("%w: invalid filename %q", knowledgebase.ErrInvalidRequest, filename)
	}

	id := uuid.NewString()
	key := path.Join("staging", id, name)

	if err := s.blobs.Put(ctx, key, data); err != nil {
		return nil, fmt.Errorf("failed to stage upload: %w", err)
	}

	job := &Job{
		ID:       id,
		Document: name,
		BlobKey:  key,
		Status:   JobStatusPending,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		s.discard(ctx, key)
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	msgPayload, err := json.Marshal(JobMessage{JobID: job.ID, Document: job.Document, BlobKey: key})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job message: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), msgPayload)
	if err := s.publisher.Publish(TopicUploads, msg); err != nil {
		errStr := err.Error()
		if updateErr := s.repo.UpdateStatus(ctx, job.ID, JobStatusFailed, &errStr); updateErr != nil {
			s.logger.Error("Failed to mark unpublished job as failed", updateErr, watermill.LogFields{"job_id": job.ID})
		}
		s.discard(ctx, key)
		return nil, fmt.Errorf("failed to publish job message: %w", err)
	}

	s.logger.Info("Upload enqueued", watermill.LogFields{
		"job_id":   job.ID,
		"document": job.Document,
		"bytes":    len(data),
	})
	return job, nil
}

func (s *JobService) Get(ctx context.Context, id string) (*Job, error) {
	return s.repo.Get(ctx, id)
}

func (s *JobService) List(ctx context.Context, limit int) ([]Job, error) {
	return s.repo.List(ctx, limit)
}

// ProcessJobMessage runs one staged upload through ingestion. Failures of
// the ingestion itself are recorded on the job, not returned: the uploader
// was acknowledged long ago and redelivery would only repeat them. Errors are
// returned only when the job record cannot be read or written.
func (s *JobService) ProcessJobMessage(msg *message.Message) error {
	var jobMsg JobMessage
	if err := json.Unmarshal(msg.Payload, &jobMsg); err != nil {
		s.logger.Error("Dropping malformed job message", err, watermill.LogFields{"message_uuid": msg.UUID})
		return nil
	}

	ctx := msg.Context()
	fields := watermill.LogFields{"job_id": jobMsg.JobID, "document": jobMsg.Document}

	job, err := s.repo.Get(ctx, jobMsg.JobID)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}
	if job == nil {
		s.logger.Error("Dropping message for unknown job", ErrJobNotFound, fields)
		return nil
	}

	if err := s.repo.UpdateStatus(ctx, job.ID, JobStatusRunning, nil); err != nil {
		return fmt.Errorf("failed to update job status to running: %w", err)
	}
	s.logger.Info("Processing upload", fields)

	report, procErr := s.process(ctx, job)

	status := JobStatusCompleted
	var errMsg *string
	if procErr != nil {
		status = JobStatusFailed
		errStr := procErr.Error()
		errMsg = &errStr
		s.logger.Error("Upload processing failed", procErr, fields)
	}
	if err := s.repo.Finish(ctx, job.ID, status, report, errMsg); err != nil {
		s.logger.Error("Failed to record job result", err, fields)
	}

	if report != nil {
		s.logger.Info("Upload processed", watermill.LogFields{
			"job_id":          job.ID,
			"document":        job.Document,
			"status":          status,
			"chunks_added":    report.ChunksAdded,
			"chunks_skipped":  report.ChunksSkipped,
			"chunks_failed":   report.ChunksFailed,
			"halted_by_quota": report.HaltedByQuota,
		})
	}
	return nil
}

func (s *JobService) process(ctx context.Context, job *Job) (*knowledgebase.Report, error) {
	data, err := s.blobs.Get(ctx, job.BlobKey)
	if errors.Is(err, blob.ErrNotExist) {
		return nil, fmt.Errorf("staged upload %s is gone", job.BlobKey)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read staged upload: %w", err)
	}

	report, err := s.ingester.IngestDocument(ctx, job.Document, data)
	s.discard(ctx, job.BlobKey)
	return report, err
}

func (s *JobService) discard(ctx context.Context, key string) {
	if err := s.blobs.Delete(ctx, key); err != nil {
		s.logger.Error("Failed to remove staged upload", err, watermill.LogFields{"blob_key": key})
	}
}

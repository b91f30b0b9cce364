package knowledgebase

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/go-logr/logr"

	"ragvault/src/fsutil"
	"ragvault/src/log"
)

// FileFailure records a document the batch could not read or extract.
type FileFailure struct {
	Path string
	Err  error
}

// BatchReport accumulates the per-document reports of one directory run.
type BatchReport struct {
	Files         int
	Documents     []*Report
	Failures      []FileFailure
	ChunksAdded   int
	ChunksSkipped int
	ChunksFailed  int
	QuotaHalts    int
	StoreSize     int
}

func (r *BatchReport) add(doc *Report) {
	r.Documents = append(r.Documents, doc)
	r.ChunksAdded += doc.ChunksAdded
	r.ChunksSkipped += doc.ChunksSkipped
	r.ChunksFailed += doc.ChunksFailed
	if doc.HaltedByQuota {
		r.QuotaHalts++
	}
}

// BatchProgress is called after each file with its 1-based position.
type BatchProgress func(done, total int, path string, report *Report)

// Batch ingests every eligible file of a directory, one after another.
type Batch struct {
	fs         fsutil.FileStore
	extractor  TextExtractor
	ingestor   *Ingestor
	extensions []string
	progress   BatchProgress
	logger     logr.Logger
}

func NewBatch(fs fsutil.FileStore, extractor TextExtractor, ingestor *Ingestor, extensions []string) *Batch {
	return &Batch{
		fs:         fs,
		extractor:  extractor,
		ingestor:   ingestor,
		extensions: extensions,
		logger:     log.WithName("batch"),
	}
}

func (b *Batch) OnProgress(fn BatchProgress) {
	b.progress = fn
}

// Files lists the names of the eligible files of dir in name order.
func (b *Batch) Files(dir string) ([]string, error) {
	files, err := b.fs.ListFiles(dir, b.extensions)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	slices.Sort(files)
	return files, nil
}

// Run ingests the files of dir in name order. Read and extraction failures
// are recorded and skipped. Persistence failures are returned joined once
// every file has been tried; cancellation stops the run early.
func (b *Batch) Run(ctx context.Context, dir string) (*BatchReport, error) {
	files, err := b.Files(dir)
	if err != nil {
		return nil, err
	}

	report := &BatchReport{Files: len(files)}
	b.logger.Info("starting batch", "dir", dir, "files", len(files))

	var errs []error
	for n, name := range files {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		path := filepath.Join(dir, name)
		doc, err := b.ingestFile(ctx, path, name)
		switch {
		case errors.Is(err, ErrExtraction):
			report.Failures = append(report.Failures, FileFailure{Path: path, Err: err})
			b.logger.Error(err, "skipping document", "path", path)
		case err != nil:
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
		}
		if doc != nil {
			report.add(doc)
		}

		if b.progress != nil {
			b.progress(n+1, len(files), path, doc)
		}
	}

	report.StoreSize = b.ingestor.store.Len()
	b.logger.Info("batch finished",
		"files", report.Files,
		"added", report.ChunksAdded,
		"skipped", report.ChunksSkipped,
		"failed", report.ChunksFailed,
		"quota_halts", report.QuotaHalts,
		"store_size", report.StoreSize,
	)
	return report, errors.Join(errs...)
}

func (b *Batch) ingestFile(ctx context.Context, path, name string) (*Report, error) {
	// avoid reading and extracting documents the legacy policy would drop anyway
	if b.ingestor.dedup.SkipDocument(name) {
		return b.ingestor.Ingest(ctx, name, "")
	}

	data, err := b.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	text, err := b.extractor.Extract(ctx, name, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	return b.ingestor.Ingest(ctx, name, text)
}

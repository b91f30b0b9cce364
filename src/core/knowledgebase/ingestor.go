package knowledgebase

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/go-logr/logr"

	"ragvault/src/log"
)

// Report summarizes one document ingestion.
type Report struct {
	Document      string `json:"document"`
	ChunksTotal   int    `json:"chunks_total"`
	ChunksAdded   int    `json:"chunks_added"`
	ChunksSkipped int    `json:"chunks_skipped"`
	ChunksFailed  int    `json:"chunks_failed"`
	HaltedByQuota bool   `json:"halted_by_quota"`
}

// Ingestor embeds the chunks of one document at a time and appends them to the store.
type Ingestor struct {
	store    *Store
	dedup    *DedupIndex
	chunker  *Chunker
	embedder Embedder
	node     *snowflake.Node

	pacer            Pacer
	metrics          Metrics
	persistEachChunk bool
	logger           logr.Logger
}

type IngestorOption func(*Ingestor)

func WithPacer(p Pacer) IngestorOption {
	return func(i *Ingestor) { i.pacer = p }
}

func WithIngestMetrics(m Metrics) IngestorOption {
	return func(i *Ingestor) { i.metrics = m }
}

// WithPersistEachChunk makes the ingestor persist the store after every
// appended chunk instead of only at the end of the document.
func WithPersistEachChunk(enabled bool) IngestorOption {
	return func(i *Ingestor) { i.persistEachChunk = enabled }
}

func WithIngestLogger(l logr.Logger) IngestorOption {
	return func(i *Ingestor) { i.logger = l }
}

func NewIngestor(store *Store, dedup *DedupIndex, chunker *Chunker, embedder Embedder, node *snowflake.Node, opts ...IngestorOption) *Ingestor {
	i := &Ingestor{
		store:            store,
		dedup:            dedup,
		chunker:          chunker,
		embedder:         embedder,
		node:             node,
		pacer:            nopPacer{},
		metrics:          nopMetrics{},
		persistEachChunk: true,
		logger:           log.WithName("ingestor"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *Ingestor) Dedup() *DedupIndex {
	return i.dedup
}

// Ingest chunks text and embeds every chunk whose title is not stored yet,
// strictly in source order.
//
// A quota signal stops the remaining chunks of the document; any other
// embedding failure skips only that chunk. Whatever succeeded is persisted
// before returning. The returned error is non-nil only for persistence
// failures and cancellation, and the report is valid in both cases.
func (i *Ingestor) Ingest(ctx context.Context, document, text string) (*Report, error) {
	parts := i.chunker.Split(text)
	report := &Report{Document: document, ChunksTotal: len(parts)}
	logger := i.logger.WithValues("document", document)

	if i.dedup.SkipDocument(document) {
		report.ChunksSkipped = len(parts)
		logger.Info("document already ingested, skipping", "policy", i.dedup.Policy())
		i.metrics.ObserveIngest(report)
		return report, nil
	}

	loopErr := i.embedParts(ctx, logger, document, parts, report)

	// the document's progress must land even when the caller gave up
	if err := i.store.Persist(context.WithoutCancel(ctx)); err != nil {
		logger.Error(err, "failed to persist store")
		loopErr = errors.Join(loopErr, err)
	}

	i.metrics.ObserveIngest(report)
	i.metrics.SetStoreSize(i.store.Len())

	logger.Info("document finished",
		"total", report.ChunksTotal,
		"added", report.ChunksAdded,
		"skipped", report.ChunksSkipped,
		"failed", report.ChunksFailed,
		"halted_by_quota", report.HaltedByQuota,
	)
	return report, loopErr
}

func (i *Ingestor) embedParts(ctx context.Context, logger logr.Logger, document string, parts []string, report *Report) error {
	for n, part := range parts {
		if err := ctx.Err(); err != nil {
			return err
		}

		title := ChunkTitle(document, n+1)
		if i.dedup.Exists(title) {
			report.ChunksSkipped++
			logger.V(1).Info("chunk already stored", "title", title)
			continue
		}

		if err := i.pacer.Wait(ctx); err != nil {
			return err
		}

		vector, err := i.embedder.Embed(ctx, part)
		if errors.Is(err, ErrQuotaExceeded) {
			i.pacer.Throttled()
			report.HaltedByQuota = true
			logger.Info("embedding quota exceeded, halting document", "title", title, "remaining", len(parts)-n)
			return nil
		}
		if err != nil {
			report.ChunksFailed++
			logger.Error(err, "failed to embed chunk", "title", title)
			continue
		}
		i.pacer.Succeeded()

		chunk := Chunk{ID: i.node.Generate().Int64(), Title: title, Text: part, Vector: vector}
		if err := i.store.Append(chunk); err != nil {
			if errors.Is(err, ErrDuplicate) {
				report.ChunksSkipped++
				continue
			}
			report.ChunksFailed++
			logger.Error(err, "failed to append chunk", "title", title)
			continue
		}
		report.ChunksAdded++
		logger.V(1).Info("chunk stored", "title", title)

		if i.persistEachChunk {
			if err := i.store.Persist(ctx); err != nil {
				return fmt.Errorf("failed to persist %s: %w", title, err)
			}
		}
	}
	return nil
}

package knowledgebase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-logr/logr"

	"ragvault/src/log"
)

// Answer is the result of Ask.
type Answer struct {
	Text        string     `json:"answer"`
	Evidence    []Evidence `json:"evidence"`
	Citations   []Evidence `json:"citations"`
	ContextUsed bool       `json:"context_used"`
}

// RetrievalConfig holds the ranking parameters of Ask.
type RetrievalConfig struct {
	TopK     int
	MinScore float64
}

func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{TopK: DefaultTopK, MinScore: DefaultMinScore}
}

// Service is the boundary of the knowledge base: teaching single facts,
// ingesting documents and answering questions.
type Service struct {
	store     *Store
	ingestor  *Ingestor
	retriever *Retriever
	assembler *ContextAssembler
	embedder  Embedder
	generator Generator
	extractor TextExtractor
	node      *snowflake.Node
	retrieval RetrievalConfig
	metrics   Metrics
	logger    logr.Logger
}

func NewService(store *Store, ingestor *Ingestor, embedder Embedder, generator Generator, extractor TextExtractor, node *snowflake.Node, retrieval RetrievalConfig, metrics Metrics) *Service {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Service{
		store:     store,
		ingestor:  ingestor,
		retriever: NewRetriever(store),
		assembler: NewContextAssembler(),
		embedder:  embedder,
		generator: generator,
		extractor: extractor,
		node:      node,
		retrieval: retrieval,
		metrics:   metrics,
		logger:    log.WithName("knowledgebase"),
	}
}

func (s *Service) Store() *Store {
	return s.store
}

// StoreSize is the number of chunks currently held.
func (s *Service) StoreSize() int {
	return s.store.Len()
}

// Teach embeds text and stores it as a single chunk titled title. The store
// is persisted before returning.
//
// A title that is already durable is ErrDuplicate. When an earlier Teach of
// the same title and text appended the chunk but failed to persist it, the
// call retries the persist and returns that chunk.
func (s *Service) Teach(ctx context.Context, title, text string) (*Chunk, error) {
	title = strings.TrimSpace(title)
	text = strings.TrimSpace(text)
	if title == "" || text == "" {
		return nil, fmt.Errorf("%w: title and text are required", ErrInvalidRequest)
	}
	if existing, durable, ok := s.store.Lookup(title); ok {
		if durable || existing.Text != text {
			return nil, fmt.Errorf("%w: %q", ErrDuplicate, title)
		}
		if err := s.store.Persist(ctx); err != nil {
			return nil, fmt.Errorf("%q is held in memory, persist still pending: %w", title, err)
		}
		s.metrics.SetStoreSize(s.store.Len())
		s.logger.Info("persisted pending chunk", "title", title, "id", existing.ID)
		return &existing, nil
	}

	vector, err := s.embed(ctx, text)
	if err != nil {
		return nil, err
	}

	chunk := Chunk{ID: s.node.Generate().Int64(), Title: title, Text: text, Vector: vector}
	if err := s.store.Append(chunk); err != nil {
		return nil, err
	}
	if err := s.store.Persist(ctx); err != nil {
		return nil, err
	}
	s.metrics.SetStoreSize(s.store.Len())

	s.logger.Info("taught chunk", "title", title, "id", chunk.ID)
	return &chunk, nil
}

// Ask answers question from the stored chunks that clear the relevance
// cutoff, or without injected evidence when none does.
func (s *Service) Ask(ctx context.Context, question string) (answer *Answer, err error) {
	start := time.Now()
	var retrieval *Retrieval
	defer func() {
		s.metrics.ObserveAsk(retrieval, time.Since(start), err)
	}()

	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is required", ErrInvalidRequest)
	}

	query, err := s.embed(ctx, question)
	if err != nil {
		return nil, err
	}

	retrieval, err = s.retriever.Retrieve(query, s.retrieval.TopK, s.retrieval.MinScore)
	if err != nil {
		return nil, err
	}

	prompt, err := s.assembler.Assemble(question, retrieval.Hits)
	if err != nil {
		return nil, err
	}

	text, err := s.generator.Generate(ctx, prompt.Text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	s.logger.V(1).Info("answered question",
		"best_score", retrieval.BestScore,
		"evidence", len(prompt.Evidence),
	)
	return &Answer{
		Text:        text,
		Evidence:    prompt.Evidence,
		Citations:   ResolveCitations(text, prompt.Evidence),
		ContextUsed: prompt.ContextUsed(),
	}, nil
}

// IngestDocument extracts text from data and runs it through the ingestor.
func (s *Service) IngestDocument(ctx context.Context, name string, data []byte) (*Report, error) {
	text, err := s.extractor.Extract(ctx, name, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrExtraction, name, err)
	}
	return s.ingestor.Ingest(ctx, name, text)
}

// DocumentIngested reports whether any stored chunk belongs to the document.
func (s *Service) DocumentIngested(name string) bool {
	return s.ingestor.Dedup().DocumentIngested(name)
}

func (s *Service) embed(ctx context.Context, text string) ([]float64, error) {
	vector, err := s.embedder.Embed(ctx, text)
	if errors.Is(err, ErrQuotaExceeded) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	if err := (Chunk{Title: "query", Vector: vector}).validate(0); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	return vector, nil
}

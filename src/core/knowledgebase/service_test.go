package knowledgebase_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kb "ragvault/src/core/knowledgebase"
)

type serviceFixture struct {
	*fixture
	generator *fakeGenerator
	service   *kb.Service
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := newFixture(t, kb.DedupChunk)
	gen := &fakeGenerator{}
	svc := kb.NewService(f.store, f.ingestor, f.embedder, gen, textExtractor{}, f.node, kb.DefaultRetrievalConfig(), nil)
	return &serviceFixture{fixture: f, generator: gen, service: svc}
}

func TestService_TeachThenAsk(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.embedder.vectors["Bidders must disclose conflicts of interest."] = []float64{1, 0.1, 0}
	f.embedder.vectors["What must bidders disclose?"] = []float64{0.9, 0.2, 0}
	f.generator.answer = "Conflicts of interest [Fonte: Rule 1]."

	chunk, err := f.service.Teach(ctx, "Rule 1", "Bidders must disclose conflicts of interest.")
	require.NoError(t, err)
	assert.Equal(t, "Rule 1", chunk.Title)
	assert.NotEmpty(t, f.blob.bytes(storeKey))

	answer, err := f.service.Ask(ctx, "What must bidders disclose?")
	require.NoError(t, err)
	assert.True(t, answer.ContextUsed)
	require.Len(t, answer.Evidence, 1)
	assert.Equal(t, "Rule 1", answer.Evidence[0].Title)
	assert.Equal(t, "Bidders must disclose conflicts of interest.", answer.Evidence[0].Text)
	require.Len(t, answer.Citations, 1)
	assert.Equal(t, "Rule 1", answer.Citations[0].Title)
	assert.Equal(t, "Conflicts of interest [Fonte: Rule 1].", answer.Text)

	require.Len(t, f.generator.prompts, 1)
	assert.Contains(t, f.generator.prompts[0], "Trecho 1 (Rule 1): Bidders must disclose conflicts of interest.")
}

func TestService_TeachValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.service.Teach(ctx, " ", "text")
	assert.ErrorIs(t, err, kb.ErrInvalidRequest)
	_, err = f.service.Teach(ctx, "title", "")
	assert.ErrorIs(t, err, kb.ErrInvalidRequest)

	_, err = f.service.Teach(ctx, "Rule 1", "first version of the rule")
	require.NoError(t, err)
	_, err = f.service.Teach(ctx, "Rule 1", "second version of the rule")
	assert.ErrorIs(t, err, kb.ErrDuplicate)
	assert.Len(t, f.embedder.Calls(), 1)
}

func TestService_TeachEmbeddingFailures(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.embedder.quota["limited"] = true
	f.embedder.fail["broken"] = true

	_, err := f.service.Teach(ctx, "a", "limited")
	assert.ErrorIs(t, err, kb.ErrQuotaExceeded)

	_, err = f.service.Teach(ctx, "b", "broken")
	assert.ErrorIs(t, err, kb.ErrEmbedding)
	assert.Equal(t, 0, f.store.Len())
}

func TestService_AskWithoutRelevantContext(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.embedder.vectors["unrelated fact about the weather"] = []float64{0, 1, 0}
	f.embedder.vectors["Who won the tender?"] = []float64{1, 0, 0}
	f.generator.answer = "I do not know."

	_, err := f.service.Teach(ctx, "Weather", "unrelated fact about the weather")
	require.NoError(t, err)

	answer, err := f.service.Ask(ctx, "Who won the tender?")
	require.NoError(t, err)
	assert.False(t, answer.ContextUsed)
	assert.Empty(t, answer.Evidence)
	assert.Empty(t, answer.Citations)
	assert.NotContains(t, f.generator.prompts[0], "Trecho")
}

func TestService_AskErrors(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.service.Ask(ctx, "  ")
	assert.ErrorIs(t, err, kb.ErrInvalidRequest)

	f.generator.err = errors.New("model overloaded")
	_, err = f.service.Ask(ctx, "anything at all")
	assert.ErrorIs(t, err, kb.ErrGeneration)
}

func TestService_IngestDocument(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	text, _ := document("edital.pdf", 3)

	report, err := f.service.IngestDocument(ctx, "edital.pdf", []byte(text))
	require.NoError(t, err)
	assert.Equal(t, 3, report.ChunksAdded)
	assert.True(t, f.service.DocumentIngested("edital.pdf"))
	assert.False(t, f.service.DocumentIngested("contrato.pdf"))

	_, err = f.service.IngestDocument(ctx, "broken.pdf", []byte("x"))
	assert.ErrorIs(t, err, kb.ErrExtraction)
}

func TestService_TeachAndIngestFromSeparateProcesses(t *testing.T) {
	server := newServiceFixture(t)
	worker := server.reload(t, kb.DedupChunk)
	ctx := context.Background()

	_, err := server.service.Teach(ctx, "Rule 1", "Bidders must disclose conflicts of interest.")
	require.NoError(t, err)

	text, _ := document("policy.pdf", 1)
	report, err := worker.ingestor.Ingest(ctx, "policy.pdf", text)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ChunksAdded)

	reloaded := worker.reload(t, kb.DedupChunk)
	assert.Equal(t, 2, reloaded.store.Len())
	assert.True(t, reloaded.store.HasTitle("Rule 1"))
	assert.True(t, reloaded.store.HasTitle("policy.pdf (Parte 1)"))

	added, err := server.store.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.True(t, server.service.DocumentIngested("policy.pdf"))
}

func TestService_TeachRetriesPendingPersist(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	f.blob.putErr = errors.New("disk full")
	_, err := f.service.Teach(ctx, "Rule 1", "Bidders must disclose conflicts of interest.")
	assert.ErrorIs(t, err, kb.ErrPersistence)

	_, err = f.service.Teach(ctx, "Rule 1", "Bidders must disclose conflicts of interest.")
	assert.ErrorIs(t, err, kb.ErrPersistence)
	assert.NotErrorIs(t, err, kb.ErrDuplicate)

	f.blob.putErr = nil
	_, err = f.service.Teach(ctx, "Rule 1", "a different text for the same title")
	assert.ErrorIs(t, err, kb.ErrDuplicate)

	chunk, err := f.service.Teach(ctx, "Rule 1", "Bidders must disclose conflicts of interest.")
	require.NoError(t, err)
	assert.Equal(t, "Rule 1", chunk.Title)
	assert.Contains(t, string(f.blob.bytes(storeKey)), "Rule 1")
	assert.Len(t, f.embedder.Calls(), 1)

	_, err = f.service.Teach(ctx, "Rule 1", "Bidders must disclose conflicts of interest.")
	assert.ErrorIs(t, err, kb.ErrDuplicate)
}

func TestService_NonFiniteEmbeddingIsRejected(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	text, paras := document("policy.pdf", 2)
	f.embedder.vectors[paras[0]] = []float64{math.NaN(), 1, 1}
	f.embedder.vectors["infinite"] = []float64{math.Inf(1), 1, 1}

	report, err := f.service.IngestDocument(ctx, "policy.pdf", []byte(text))
	require.NoError(t, err)
	assert.Equal(t, 1, report.ChunksFailed)
	assert.Equal(t, 1, report.ChunksAdded)

	_, err = f.service.Teach(ctx, "Rule 0", "infinite")
	assert.ErrorIs(t, err, kb.ErrEmbedding)
	assert.ErrorIs(t, err, kb.ErrInvalidVector)

	_, err = f.service.Teach(ctx, "Rule 1", "Bidders must disclose conflicts of interest.")
	require.NoError(t, err)

	reloaded := f.reload(t, kb.DedupChunk)
	assert.Equal(t, 2, reloaded.store.Len())
	assert.False(t, reloaded.store.HasTitle("policy.pdf (Parte 1)"))
}

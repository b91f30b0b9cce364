package knowledgebase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kb "ragvault/src/core/knowledgebase"
)

func TestIngestor_TwoParagraphs(t *testing.T) {
	f := newFixture(t, kb.DedupChunk)
	text, _ := document("policy.pdf", 2)

	report, err := f.ingestor.Ingest(context.Background(), "policy.pdf", text)
	require.NoError(t, err)
	assert.Equal(t, &kb.Report{Document: "policy.pdf", ChunksTotal: 2, ChunksAdded: 2}, report)

	reloaded := f.reload(t, kb.DedupChunk)
	chunks := reloaded.store.Snapshot()
	require.Len(t, chunks, 2)
	assert.Equal(t, "policy.pdf (Parte 1)", chunks[0].Title)
	assert.Equal(t, "policy.pdf (Parte 2)", chunks[1].Title)
	for _, c := range chunks {
		assert.NotEmpty(t, c.Vector)
		assert.NotZero(t, c.ID)
	}
	assert.NotEqual(t, chunks[0].ID, chunks[1].ID)
}

func TestIngestor_RerunIsIdempotent(t *testing.T) {
	f := newFixture(t, kb.DedupChunk)
	text, _ := document("policy.pdf", 2)
	ctx := context.Background()

	_, err := f.ingestor.Ingest(ctx, "policy.pdf", text)
	require.NoError(t, err)
	before := f.blob.bytes(storeKey)
	puts := f.blob.putCount()

	again := f.reload(t, kb.DedupChunk)
	report, err := again.ingestor.Ingest(ctx, "policy.pdf", text)
	require.NoError(t, err)

	assert.Equal(t, 0, report.ChunksAdded)
	assert.Equal(t, 2, report.ChunksSkipped)
	assert.Empty(t, again.embedder.Calls())
	assert.Equal(t, 0, again.pacer.waits)
	assert.Equal(t, puts, f.blob.putCount())
	assert.Equal(t, before, f.blob.bytes(storeKey))
}

func TestIngestor_QuotaHaltsDocument(t *testing.T) {
	f := newFixture(t, kb.DedupChunk)
	text, paras := document("big.pdf", 10)
	f.embedder.quota[paras[4]] = true

	report, err := f.ingestor.Ingest(context.Background(), "big.pdf", text)
	require.NoError(t, err)
	assert.True(t, report.HaltedByQuota)
	assert.Equal(t, 4, report.ChunksAdded)
	assert.Equal(t, 10, report.ChunksTotal)

	assert.Len(t, f.embedder.Calls(), 5)
	assert.Equal(t, 1, f.pacer.throttled)
	assert.Equal(t, 4, f.pacer.succeeded)

	reloaded := f.reload(t, kb.DedupChunk)
	require.Equal(t, 4, reloaded.store.Len())
	for n := 1; n <= 4; n++ {
		assert.True(t, reloaded.store.HasTitle(kb.ChunkTitle("big.pdf", n)))
	}
	for n := 5; n <= 10; n++ {
		assert.False(t, reloaded.store.HasTitle(kb.ChunkTitle("big.pdf", n)))
	}
}

func TestIngestor_ResumesAfterQuotaHalt(t *testing.T) {
	f := newFixture(t, kb.DedupChunk)
	text, paras := document("big.pdf", 10)
	f.embedder.quota[paras[4]] = true
	ctx := context.Background()

	_, err := f.ingestor.Ingest(ctx, "big.pdf", text)
	require.NoError(t, err)

	resumed := f.reload(t, kb.DedupChunk)
	report, err := resumed.ingestor.Ingest(ctx, "big.pdf", text)
	require.NoError(t, err)

	assert.False(t, report.HaltedByQuota)
	assert.Equal(t, 6, report.ChunksAdded)
	assert.Equal(t, 4, report.ChunksSkipped)
	assert.Equal(t, paras[4:], resumed.embedder.Calls())

	final := resumed.reload(t, kb.DedupChunk)
	chunks := final.store.Snapshot()
	require.Len(t, chunks, 10)
	for n, c := range chunks {
		assert.Equal(t, kb.ChunkTitle("big.pdf", n+1), c.Title)
		assert.Equal(t, paras[n], c.Text)
	}
}

func TestIngestor_TransientErrorSkipsOnlyThatChunk(t *testing.T) {
	f := newFixture(t, kb.DedupChunk)
	text, paras := document("doc.pdf", 3)
	f.embedder.fail[paras[1]] = true

	report, err := f.ingestor.Ingest(context.Background(), "doc.pdf", text)
	require.NoError(t, err)
	assert.Equal(t, 2, report.ChunksAdded)
	assert.Equal(t, 1, report.ChunksFailed)
	assert.False(t, report.HaltedByQuota)
	assert.True(t, f.store.HasTitle("doc.pdf (Parte 1)"))
	assert.False(t, f.store.HasTitle("doc.pdf (Parte 2)"))
	assert.True(t, f.store.HasTitle("doc.pdf (Parte 3)"))

	// the failed chunk is picked up on the next run
	retry := f.reload(t, kb.DedupChunk)
	report, err = retry.ingestor.Ingest(context.Background(), "doc.pdf", text)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ChunksAdded)
	assert.Equal(t, []string{paras[1]}, retry.embedder.Calls())
}

func TestIngestor_PacerWaitsBeforeEveryEmbedding(t *testing.T) {
	f := newFixture(t, kb.DedupChunk)
	text, _ := document("doc.pdf", 3)

	_, err := f.ingestor.Ingest(context.Background(), "doc.pdf", text)
	require.NoError(t, err)
	assert.Equal(t, 3, f.pacer.waits)
	assert.Equal(t, 3, f.pacer.succeeded)
}

func TestIngestor_PersistCadence(t *testing.T) {
	text, _ := document("doc.pdf", 3)

	eachChunk := newFixture(t, kb.DedupChunk)
	_, err := eachChunk.ingestor.Ingest(context.Background(), "doc.pdf", text)
	require.NoError(t, err)
	assert.Equal(t, 3, eachChunk.blob.putCount())

	perDocument := newFixture(t, kb.DedupChunk, kb.WithPersistEachChunk(false))
	_, err = perDocument.ingestor.Ingest(context.Background(), "doc.pdf", text)
	require.NoError(t, err)
	assert.Equal(t, 1, perDocument.blob.putCount())
}

func TestIngestor_PersistenceFailureIsReturned(t *testing.T) {
	f := newFixture(t, kb.DedupChunk)
	f.blob.putErr = errors.New("read-only filesystem")
	text, _ := document("doc.pdf", 3)

	report, err := f.ingestor.Ingest(context.Background(), "doc.pdf", text)
	assert.ErrorIs(t, err, kb.ErrPersistence)
	require.NotNil(t, report)
	assert.Equal(t, 1, report.ChunksAdded)
}

func TestIngestor_DocumentPolicySkipsWholeDocument(t *testing.T) {
	f := newFixture(t, kb.DedupDocument)
	text, paras := document("big.pdf", 4)
	f.embedder.quota[paras[2]] = true
	ctx := context.Background()

	_, err := f.ingestor.Ingest(ctx, "big.pdf", text)
	require.NoError(t, err)

	again := f.reload(t, kb.DedupDocument)
	report, err := again.ingestor.Ingest(ctx, "big.pdf", text)
	require.NoError(t, err)
	assert.Equal(t, 0, report.ChunksAdded)
	assert.Equal(t, 4, report.ChunksSkipped)
	assert.Empty(t, again.embedder.Calls())
	assert.Equal(t, 2, again.store.Len())
}

func TestIngestor_CancelledBetweenChunks(t *testing.T) {
	f := newFixture(t, kb.DedupChunk)
	text, _ := document("doc.pdf", 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.ingestor.Ingest(ctx, "doc.pdf", text)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, report.ChunksAdded)
	assert.Empty(t, f.embedder.Calls())
}

package knowledgebase_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"

	kb "ragvault/src/core/knowledgebase"
	"ragvault/src/storage/blob"
)

const storeKey = "banco_vetorial.json"

type memBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	putErr  error
}

func newMemBlob() *memBlob {
	return &memBlob{objects: make(map[string][]byte)}
}

func (m *memBlob) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, blob.ErrNotExist
	}
	return append([]byte(nil), data...), nil
}

func (m *memBlob) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.puts++
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *memBlob) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memBlob) bytes(key string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.objects[key]...)
}

func (m *memBlob) putCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

// fakeEmbedder returns fixed vectors for known texts and a deterministic
// vector derived from the text otherwise.
type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float64
	quota   map[string]bool
	fail    map[string]bool
	calls   []string
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{
		vectors: make(map[string][]float64),
		quota:   make(map[string]bool),
		fail:    make(map[string]bool),
	}
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, text)
	if f.quota[text] {
		return nil, fmt.Errorf("embed: %w", kb.ErrQuotaExceeded)
	}
	if f.fail[text] {
		return nil, errors.New("embed: upstream unavailable")
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float64{1, float64(len(text)%7) + 1, float64(text[0]%5) + 1}, nil
}

func (f *fakeEmbedder) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeGenerator struct {
	answer  string
	err     error
	prompts []string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

// textExtractor treats file contents as text and fails for names containing "broken".
type textExtractor struct{}

func (textExtractor) Extract(_ context.Context, filename string, data []byte) (string, error) {
	if strings.Contains(filename, "broken") {
		return "", errors.New("malformed document")
	}
	return string(data), nil
}

type recordingPacer struct {
	waits     int
	throttled int
	succeeded int
}

func (p *recordingPacer) Wait(context.Context) error {
	p.waits++
	return nil
}

func (p *recordingPacer) Throttled() { p.throttled++ }
func (p *recordingPacer) Succeeded() { p.succeeded++ }

func newNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

// paragraph returns a unique paragraph long enough to survive the chunker.
func paragraph(doc string, n int) string {
	return fmt.Sprintf("Paragraph %d of %s carries enough words to pass the minimum chunk length filter.", n, doc)
}

func document(doc string, parts int) (string, []string) {
	var paras []string
	for n := 1; n <= parts; n++ {
		paras = append(paras, paragraph(doc, n))
	}
	return strings.Join(paras, "\n\n"), paras
}

type fixture struct {
	blob     *memBlob
	store    *kb.Store
	embedder *fakeEmbedder
	pacer    *recordingPacer
	ingestor *kb.Ingestor
	node     *snowflake.Node
}

func newFixture(t *testing.T, policy kb.DedupPolicy, opts ...kb.IngestorOption) *fixture {
	t.Helper()
	f := &fixture{
		blob:     newMemBlob(),
		embedder: newFakeEmbedder(),
		pacer:    &recordingPacer{},
		node:     newNode(t),
	}
	f.store = kb.NewStore(f.blob, storeKey)
	require.NoError(t, f.store.Load(context.Background()))
	opts = append([]kb.IngestorOption{kb.WithPacer(f.pacer)}, opts...)
	f.ingestor = kb.NewIngestor(f.store, kb.NewDedupIndex(f.store, policy), kb.NewChunker(kb.DefaultMinChunkChars), f.embedder, f.node, opts...)
	return f
}

// reload opens a fresh store over the same blob, as a new process would.
func (f *fixture) reload(t *testing.T, policy kb.DedupPolicy, opts ...kb.IngestorOption) *fixture {
	t.Helper()
	next := &fixture{
		blob:     f.blob,
		embedder: newFakeEmbedder(),
		pacer:    &recordingPacer{},
		node:     f.node,
	}
	next.store = kb.NewStore(next.blob, storeKey)
	require.NoError(t, next.store.Load(context.Background()))
	opts = append([]kb.IngestorOption{kb.WithPacer(next.pacer)}, opts...)
	next.ingestor = kb.NewIngestor(next.store, kb.NewDedupIndex(next.store, policy), kb.NewChunker(kb.DefaultMinChunkChars), next.embedder, next.node, opts...)
	return next
}

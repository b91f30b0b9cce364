package knowledgebase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"ragvault/src/storage/blob"
)

// Store is the in-memory vector store mirrored to a single JSON blob.
//
// Appends are serialized; readers take immutable snapshots. Persist writes
// the whole collection, and concurrent persists are ordered so the durable
// copy only ever grows. Several processes may share one blob: Persist folds
// in chunks another writer persisted before rewriting it.
type Store struct {
	blob blob.Store
	key  string

	mu     sync.RWMutex
	chunks []Chunk
	titles map[string]int // title -> index in chunks
	dim    int
	dirty  bool
	// chunks[:durable] are known to be in the blob
	durable int

	persistMu sync.Mutex
}

func NewStore(b blob.Store, key string) *Store {
	return &Store{
		blob:   b,
		key:    key,
		titles: make(map[string]int),
	}
}

// Load replaces the in-memory contents with the persisted collection.
// A missing blob yields an empty store.
func (s *Store) Load(ctx context.Context) error {
	chunks, err := s.readPersisted(ctx)
	if err != nil {
		return err
	}

	titles := make(map[string]int, len(chunks))
	dim := 0
	for i, c := range chunks {
		titles[c.Title] = i
		dim = len(c.Vector)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = chunks
	s.titles = titles
	s.dim = dim
	s.durable = len(chunks)
	s.dirty = false
	return nil
}

// readPersisted decodes and validates the blob contents.
func (s *Store) readPersisted(ctx context.Context) ([]Chunk, error) {
	data, err := s.blob.Get(ctx, s.key)
	if errors.Is(err, blob.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read store %s: %w", s.key, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var chunks []Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptStore, s.key, err)
	}
	seen := make(map[string]struct{}, len(chunks))
	dim := 0
	for i, c := range chunks {
		if err := c.validate(dim); err != nil {
			return nil, fmt.Errorf("%w: record %d: %w", ErrCorruptStore, i, err)
		}
		if _, ok := seen[c.Title]; ok {
			return nil, fmt.Errorf("%w: record %d: duplicate title %q", ErrCorruptStore, i, c.Title)
		}
		seen[c.Title] = struct{}{}
		dim = len(c.Vector)
	}
	return chunks, nil
}

// Sync folds chunks persisted by another writer into memory and reports how
// many were new. Nothing is written.
func (s *Store) Sync(ctx context.Context) (int, error) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	persisted, err := s.readPersisted(ctx)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mergeLocked(persisted)
}

// mergeLocked rebuilds the collection as the persisted chunks in their
// durable order followed by the chunks only held in memory. It is a no-op
// when every persisted title is already known. Callers hold mu.
func (s *Store) mergeLocked(persisted []Chunk) (int, error) {
	added := 0
	for _, c := range persisted {
		if _, ok := s.titles[c.Title]; !ok {
			added++
		}
	}
	if added == 0 {
		return 0, nil
	}

	if s.dim > 0 && len(persisted[0].Vector) != s.dim {
		return 0, fmt.Errorf("%w: persisted chunks have %d dimensions, store has %d", ErrDimensionMismatch, len(persisted[0].Vector), s.dim)
	}

	merged := make([]Chunk, 0, len(persisted)+len(s.chunks))
	titles := make(map[string]int, cap(merged))
	for _, c := range persisted {
		titles[c.Title] = len(merged)
		merged = append(merged, c)
	}
	for _, c := range s.chunks {
		if _, ok := titles[c.Title]; ok {
			continue
		}
		titles[c.Title] = len(merged)
		merged = append(merged, c)
	}

	s.chunks = merged
	s.titles = titles
	s.dim = len(merged[0].Vector)
	s.durable = len(persisted)
	return added, nil
}

// Append adds a chunk to the in-memory collection. It fails with ErrDuplicate
// when the title is taken, with ErrEmptyVector or ErrInvalidVector for an
// unusable vector and with ErrDimensionMismatch when it breaks the store's
// dimension.
func (s *Store) Append(c Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := c.validate(s.dim); err != nil {
		return err
	}
	if _, ok := s.titles[c.Title]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicate, c.Title)
	}

	s.titles[c.Title] = len(s.chunks)
	s.chunks = append(s.chunks, c)
	s.dim = len(c.Vector)
	s.dirty = true
	return nil
}

// Snapshot returns the current chunks in insertion order. The result must
// not be modified; later appends never show up in it.
func (s *Store) Snapshot() []Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.chunks)
	return s.chunks[:n:n]
}

// HasTitle reports whether a chunk with exactly this title exists.
func (s *Store) HasTitle(title string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.titles[title]
	return ok
}

// Lookup returns the chunk stored under title and whether it has reached
// the blob yet.
func (s *Store) Lookup(title string) (c Chunk, durable, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.titles[title]
	if !ok {
		return Chunk{}, false, false
	}
	return s.chunks[i], i < s.durable, true
}

// HasDocument reports whether any chunk belongs to the named document: a
// chunk titled exactly name or one of its "name (Parte n)" parts.
func (s *Store) HasDocument(name string) bool {
	prefix := name + " (Parte "
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.titles[name]; ok {
		return true
	}
	for _, c := range s.chunks {
		if strings.HasPrefix(c.Title, prefix) {
			return true
		}
	}
	return false
}

// HasTitleContaining reports whether any title contains substr.
func (s *Store) HasTitleContaining(substr string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.chunks {
		if strings.Contains(c.Title, substr) {
			return true
		}
	}
	return false
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Dimension is the vector dimension of the store, 0 while empty.
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// Persist writes the full collection when it changed since the last
// successful load or persist. Chunks another writer persisted in the
// meantime are merged in first, so the blob never loses a record.
// Failures wrap ErrPersistence.
func (s *Store) Persist(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.RLock()
	dirty := s.dirty
	s.mu.RUnlock()
	if !dirty {
		return nil
	}

	persisted, err := s.readPersisted(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	s.mu.Lock()
	if _, err := s.mergeLocked(persisted); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	n := len(s.chunks)
	data, err := encodeChunks(s.chunks)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	if err := s.blob.Put(ctx, s.key, data); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	s.mu.Lock()
	s.durable = n
	// only clear the flag if nothing was appended while writing
	if len(s.chunks) == n {
		s.dirty = false
	}
	s.mu.Unlock()
	return nil
}

func encodeChunks(chunks []Chunk) ([]byte, error) {
	if chunks == nil {
		chunks = []Chunk{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(chunks); err != nil {
		return nil, fmt.Errorf("failed to encode store: %w", err)
	}
	return buf.Bytes(), nil
}

package knowledgebase

import (
	"cmp"
	"fmt"
	"math"
	"slices"
)

const (
	DefaultTopK     = 3
	DefaultMinScore = 0.4
)

// ScoredChunk is a stored chunk with its similarity to a query.
type ScoredChunk struct {
	Chunk Chunk
	Score float64
}

// Retrieval is the outcome of one ranking pass.
type Retrieval struct {
	// Hits are the top-k chunks that scored above the cutoff, best first.
	Hits []ScoredChunk
	// BestScore is the highest score over the whole store, 0 when empty.
	BestScore float64
	// Scanned is the number of chunks compared.
	Scanned int
}

// ContextUsed reports whether any evidence cleared the cutoff.
func (r *Retrieval) ContextUsed() bool {
	return r != nil && len(r.Hits) > 0
}

// Cosine returns dot(a,b)/(|a||b|). Vectors of different length or with a
// zero norm score 0.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	score := dot / (math.Sqrt(na) * math.Sqrt(nb))
	// rounding can push parallel vectors just past 1
	return math.Max(-1, math.Min(1, score))
}

// Retriever ranks the full store against a query vector.
type Retriever struct {
	store *Store
}

func NewRetriever(store *Store) *Retriever {
	return &Retriever{store: store}
}

// Retrieve scores every chunk, keeps the k best and drops any whose score is
// at or below minScore. When the best chunk does not clear the cutoff the
// result carries no hits. k <= 0 means DefaultTopK.
func (r *Retriever) Retrieve(query []float64, k int, minScore float64) (*Retrieval, error) {
	if k <= 0 {
		k = DefaultTopK
	}

	chunks := r.store.Snapshot()
	if len(chunks) > 0 && len(query) != len(chunks[0].Vector) {
		return nil, fmt.Errorf("%w: query has %d dimensions, store has %d", ErrDimensionMismatch, len(query), len(chunks[0].Vector))
	}

	scored := make([]ScoredChunk, len(chunks))
	for i, c := range chunks {
		scored[i] = ScoredChunk{Chunk: c, Score: Cosine(query, c.Vector)}
	}

	// stable: equal scores keep insertion order
	slices.SortStableFunc(scored, func(a, b ScoredChunk) int {
		return cmp.Compare(b.Score, a.Score)
	})

	res := &Retrieval{Scanned: len(scored)}
	if len(scored) == 0 {
		return res, nil
	}
	res.BestScore = scored[0].Score
	if res.BestScore <= minScore {
		return res, nil
	}

	if len(scored) > k {
		scored = scored[:k]
	}
	for _, sc := range scored {
		if sc.Score <= minScore {
			break
		}
		res.Hits = append(res.Hits, sc)
	}
	return res, nil
}

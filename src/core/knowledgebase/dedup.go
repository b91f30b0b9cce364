package knowledgebase

import "fmt"

// DedupPolicy selects how already-ingested content is detected.
type DedupPolicy string

const (
	// DedupChunk skips only chunks whose exact composite title is stored.
	// Re-runs fill gaps left by a quota halt.
	DedupChunk DedupPolicy = "chunk"
	// DedupDocument skips a whole document once any stored title contains its
	// name. Deprecated: it cannot resume a document halted part way.
	DedupDocument DedupPolicy = "document"
)

func ParseDedupPolicy(s string) (DedupPolicy, error) {
	switch DedupPolicy(s) {
	case "", DedupChunk:
		return DedupChunk, nil
	case DedupDocument:
		return DedupDocument, nil
	default:
		return "", fmt.Errorf("%w: unknown dedup policy %q", ErrInvalidRequest, s)
	}
}

// DedupIndex answers "is this already persisted" from the store's contents.
type DedupIndex struct {
	store  *Store
	policy DedupPolicy
}

func NewDedupIndex(store *Store, policy DedupPolicy) *DedupIndex {
	if policy == "" {
		policy = DedupChunk
	}
	return &DedupIndex{store: store, policy: policy}
}

func (d *DedupIndex) Policy() DedupPolicy {
	return d.policy
}

// Exists reports whether a chunk with this exact title is stored.
func (d *DedupIndex) Exists(title string) bool {
	return d.store.HasTitle(title)
}

// DocumentIngested reports whether any stored chunk belongs to the document,
// matched on the chunk title structure rather than as a substring.
func (d *DedupIndex) DocumentIngested(document string) bool {
	return d.store.HasDocument(document)
}

// SkipDocument reports whether the whole document must be skipped under the
// configured policy. The document policy keeps its substring match.
func (d *DedupIndex) SkipDocument(document string) bool {
	return d.policy == DedupDocument && d.store.HasTitleContaining(document)
}

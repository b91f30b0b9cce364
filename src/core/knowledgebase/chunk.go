package knowledgebase

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Chunk is the atomic record of the store. Chunks are immutable once appended.
//
// Every chunk in a store carries a non-empty vector of the same dimension;
// the first chunk appended to an empty store fixes that dimension.
type Chunk struct {
	ID     int64     `json:"id"`
	Title  string    `json:"titulo"`
	Text   string    `json:"texto"`
	Vector []float64 `json:"vetor"`
}

func (c Chunk) validate(dim int) error {
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("%w: empty title", ErrInvalidRequest)
	}
	if len(c.Vector) == 0 {
		return fmt.Errorf("%w: chunk %q", ErrEmptyVector, c.Title)
	}
	if dim > 0 && len(c.Vector) != dim {
		return fmt.Errorf("%w: chunk %q has %d dimensions, store has %d", ErrDimensionMismatch, c.Title, len(c.Vector), dim)
	}
	for i, v := range c.Vector {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: chunk %q component %d is %v", ErrInvalidVector, c.Title, i, v)
		}
	}
	return nil
}

// ChunkTitle builds the composite dedup key of the n-th (1-based) chunk of a document.
func ChunkTitle(document string, n int) string {
	return fmt.Sprintf("%s (Parte %d)", document, n)
}

// DefaultMinChunkChars is the length at or below which a paragraph is discarded as noise.
const DefaultMinChunkChars = 50

var blankLine = regexp.MustCompile(`\n[ \t]*\n`)

// Chunker splits extracted text into paragraph-level candidate chunks.
type Chunker struct {
	minChars int
}

func NewChunker(minChars int) *Chunker {
	if minChars < 0 {
		minChars = DefaultMinChunkChars
	}
	return &Chunker{minChars: minChars}
}

// Split cuts text on blank lines and drops every unit whose trimmed length is
// at most the configured minimum. Order is preserved.
func (c *Chunker) Split(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var parts []string
	for _, p := range blankLine.Split(text, -1) {
		p = strings.TrimSpace(p)
		if utf8.RuneCountInString(p) <= c.minChars {
			continue
		}
		parts = append(parts, p)
	}
	return parts
}

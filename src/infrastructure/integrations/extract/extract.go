// Package extract turns uploaded documents into plain text.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"ragvault/src/core/knowledgebase"
)

var ErrUnsupportedFormat = errors.New("unsupported document format")

// PDF extracts the text layer of a PDF page by page. Page texts are joined
// with a blank line so page breaks also separate paragraphs.
type PDF struct{}

func (PDF) Extract(_ context.Context, filename string, data []byte) (text string, err error) {
	// the parser panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to parse %s: %v", filename, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", filename, err)
	}

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("failed to read page %d of %s: %w", i, filename, err)
		}
		if strings.TrimSpace(pageText) == "" {
			continue
		}
		sb.WriteString(pageText)
		sb.WriteString("\n\n")
	}

	if sb.Len() == 0 {
		return "", fmt.Errorf("no text layer in %s", filename)
	}
	return sb.String(), nil
}

// Text accepts UTF-8 documents as they are.
type Text struct{}

func (Text) Extract(_ context.Context, filename string, data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%s is not valid UTF-8", filename)
	}
	return string(data), nil
}

// Router picks an extractor by file extension.
type Router struct {
	byExt map[string]knowledgebase.TextExtractor
}

func NewRouter() *Router {
	return &Router{byExt: make(map[string]knowledgebase.TextExtractor)}
}

// Register binds ext (with or without the leading dot) to e.
func (r *Router) Register(ext string, e knowledgebase.TextExtractor) *Router {
	r.byExt[normalizeExt(ext)] = e
	return r
}

// Extensions lists the registered extensions.
func (r *Router) Extensions() []string {
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	return exts
}

func (r *Router) Extract(ctx context.Context, filename string, data []byte) (string, error) {
	e, ok := r.byExt[normalizeExt(filepath.Ext(filename))]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
	}
	return e.Extract(ctx, filename, data)
}

// NewLocal returns a router backed by in-process extractors.
func NewLocal() *Router {
	return NewRouter().
		Register(".pdf", PDF{}).
		Register(".txt", Text{}).
		Register(".md", Text{})
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

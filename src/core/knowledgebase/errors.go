package knowledgebase

import "errors"

var (
	// ErrExtraction marks a source document that could not be read or converted to text.
	ErrExtraction = errors.New("document extraction failed")
	// ErrDuplicate marks a chunk whose title is already present in the store.
	ErrDuplicate = errors.New("chunk title already exists")
	// ErrEmbedding marks a failed embedding call that is not a quota signal.
	ErrEmbedding = errors.New("embedding failed")
	// ErrQuotaExceeded is the distinguished rate-limit signal of an embedding provider.
	ErrQuotaExceeded = errors.New("provider quota exceeded")
	// ErrPersistence marks a failed durable write of the store.
	ErrPersistence = errors.New("store persistence failed")
	// ErrGeneration marks a failed call to the text-generation provider.
	ErrGeneration = errors.New("generation failed")

	ErrInvalidRequest    = errors.New("invalid request")
	ErrDocumentExists    = errors.New("document already ingested")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrEmptyVector       = errors.New("empty vector")
	// ErrInvalidVector marks a vector with a NaN or infinite component.
	ErrInvalidVector = errors.New("vector has non-finite components")
	ErrCorruptStore      = errors.New("corrupt store")
)

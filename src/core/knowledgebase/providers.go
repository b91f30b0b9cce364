package knowledgebase

import (
	"context"
	"time"
)

// Embedder turns text into a fixed-dimension vector.
// Implementations return an error wrapping ErrQuotaExceeded when the provider
// rejects the call because of its request quota.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Generator produces an answer for a fully assembled prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// TextExtractor converts an uploaded or on-disk document to plain text.
type TextExtractor interface {
	Extract(ctx context.Context, filename string, data []byte) (string, error)
}

// Pacer spaces outbound embedding calls and reacts to quota signals.
type Pacer interface {
	// Wait blocks until the next call may be issued.
	Wait(ctx context.Context) error
	// Throttled records a quota signal from the provider.
	Throttled()
	// Succeeded records a successful call.
	Succeeded()
}

// Metrics receives ingestion and query observations.
type Metrics interface {
	ObserveIngest(report *Report)
	ObserveAsk(retrieval *Retrieval, elapsed time.Duration, err error)
	SetStoreSize(chunks int)
}

type nopPacer struct{}

func (nopPacer) Wait(context.Context) error { return nil }
func (nopPacer) Throttled()                 {}
func (nopPacer) Succeeded()                 {}

type nopMetrics struct{}

func (nopMetrics) ObserveIngest(*Report)                       {}
func (nopMetrics) ObserveAsk(*Retrieval, time.Duration, error) {}
func (nopMetrics) SetStoreSize(int)                            {}
